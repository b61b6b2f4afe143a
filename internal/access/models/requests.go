package models

import (
	"strings"

	"assessgate/internal/identifier"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/email"
)

type RequestCodeRequest struct {
	Email       string `json:"email"`
	DiagnosisID string `json:"diagnosisId"`
}

func (r *RequestCodeRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.TrimSpace(r.Email)
	r.DiagnosisID = strings.TrimSpace(r.DiagnosisID)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *RequestCodeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validateSubject(r.Email, r.DiagnosisID)
}

type VerifyCodeRequest struct {
	Email       string `json:"email"`
	DiagnosisID string `json:"diagnosisId"`
	Code        string `json:"code"`
}

func (r *VerifyCodeRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.TrimSpace(r.Email)
	r.DiagnosisID = strings.TrimSpace(r.DiagnosisID)
	r.Code = strings.TrimSpace(r.Code)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *VerifyCodeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Code) > 32 {
		return dErrors.New(dErrors.CodeValidation, "code must be 32 characters or less")
	}
	if err := validateSubject(r.Email, r.DiagnosisID); err != nil {
		return err
	}
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	return nil
}

func validateSubject(address, diagnosisID string) error {
	if len(address) > 254 {
		return dErrors.New(dErrors.CodeValidation, "email must be 254 characters or less")
	}
	if len(diagnosisID) > identifier.MaxLength {
		return dErrors.New(dErrors.CodeValidation, "diagnosisId is too long")
	}
	if address == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if diagnosisID == "" {
		return dErrors.New(dErrors.CodeValidation, "diagnosisId is required")
	}
	if !email.Valid(address) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if !identifier.Valid(diagnosisID) {
		return dErrors.New(dErrors.CodeValidation, "diagnosisId is invalid")
	}
	return nil
}

type RequestCodeResponse struct {
	Sent bool `json:"sent"`
}

// VerifyCodeResponse is returned for every verification outcome; Reason is
// set whenever Granted is false.
type VerifyCodeResponse struct {
	Granted           bool   `json:"granted"`
	Token             string `json:"token,omitempty"`
	ExpiresAt         string `json:"expiresAt,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type GrantResponse struct {
	Email       string `json:"email"`
	DiagnosisID string `json:"diagnosisId"`
	ExpiresAt   string `json:"expiresAt"`
}
