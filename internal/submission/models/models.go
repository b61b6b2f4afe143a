package models

import (
	"encoding/json"

	"assessgate/internal/backend"
	dErrors "assessgate/pkg/domain-errors"
)

// Reserved payload keys the server owns.
const (
	KeyDiagnosisID = "diagnosisId"
	KeyAction      = "action"
	KeyTimestamp   = "timestamp"
)

// Outcome is the orchestrated result of one submission.
type Outcome struct {
	Success     bool
	DiagnosisID string
	Data        json.RawMessage
	// Message is the aggregated, user-facing failure text.
	Message  string
	Category backend.Category
	Attempts []backend.Attempt
}

// SubmitResponse never carries the per-endpoint trail; that stays in logs.
type SubmitResponse struct {
	Success     bool            `json:"success"`
	DiagnosisID string          `json:"diagnosisId"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// SubmitRequest is the free-form assessment payload.
type SubmitRequest map[string]any

func (r *SubmitRequest) Normalize() {
	if r == nil || *r == nil {
		return
	}
	delete(*r, KeyTimestamp)
}

func (r *SubmitRequest) Validate() error {
	if r == nil || *r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object")
	}
	return nil
}
