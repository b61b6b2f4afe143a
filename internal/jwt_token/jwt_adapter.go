package jwttoken

import (
	"context"

	"assessgate/internal/platform/middleware"
	"assessgate/pkg/requestcontext"
)

func ToMiddlewareClaims(claims *GrantClaims) *middleware.GrantClaims {
	return &middleware.GrantClaims{
		Email:       claims.Email,
		DiagnosisID: claims.DiagnosisID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
}

// JWTServiceAdapter exposes JWTService as a middleware.GrantValidator,
// validating against the request-scoped clock.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateGrant(ctx context.Context, tokenString string) (*middleware.GrantClaims, error) {
	claims, err := a.service.ValidateGrant(tokenString, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
