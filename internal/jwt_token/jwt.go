package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "assessgate/pkg/domain-errors"
)

// GrantClaims are the claims of a report-access grant: who may read which report.
type GrantClaims struct {
	Email       string `json:"email"`
	DiagnosisID string `json:"diagnosis_id"`
	jwt.RegisteredClaims
}

// JWTService handles grant creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateGrant signs a grant for (email, diagnosisID) valid for expiresIn from now.
func (s *JWTService) GenerateGrant(
	email string,
	diagnosisID string,
	now time.Time,
	expiresIn time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(expiresIn)
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, GrantClaims{
		Email:       email,
		DiagnosisID: diagnosisID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signedToken, expiresAt, nil
}

// ValidateGrant verifies signature, issuer, audience and expiry as of now.
func (s *JWTService) ValidateGrant(tokenString string, now time.Time) (*GrantClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "grant has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid grant")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid grant")
	}

	claims, ok := parsed.Claims.(*GrantClaims)
	if !ok || claims.Email == "" || claims.DiagnosisID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid grant claims")
	}

	return claims, nil
}
