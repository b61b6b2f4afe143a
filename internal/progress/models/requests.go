package models

import (
	"math"
	"strings"
	"time"

	dErrors "assessgate/pkg/domain-errors"
)

const (
	maxResponses   = 500
	maxResponseKey = 128
)

// ProgressRequest is the body of both share creation and owner updates.
type ProgressRequest struct {
	Responses map[string]float64 `json:"responses"`
	Progress  float64            `json:"progress"`
	Score     float64            `json:"score"`
}

func (r *ProgressRequest) Normalize() {
	if r == nil {
		return
	}
	if r.Responses == nil {
		r.Responses = map[string]float64{}
		return
	}
	trimmed := make(map[string]float64, len(r.Responses))
	for k, v := range r.Responses {
		trimmed[strings.TrimSpace(k)] = v
	}
	r.Responses = trimmed
}

// Follows validation order: Size -> Required -> Syntax.
func (r *ProgressRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Responses) > maxResponses {
		return dErrors.New(dErrors.CodeValidation, "too many responses")
	}
	for k, v := range r.Responses {
		if k == "" || len(k) > maxResponseKey {
			return dErrors.New(dErrors.CodeValidation, "response keys must be 1-128 characters")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dErrors.New(dErrors.CodeValidation, "response values must be finite numbers")
		}
	}
	if math.IsNaN(r.Progress) || r.Progress < 0 || r.Progress > 100 {
		return dErrors.New(dErrors.CodeValidation, "progress must be between 0 and 100")
	}
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		return dErrors.New(dErrors.CodeValidation, "score must be a finite number")
	}
	return nil
}

func (r *ProgressRequest) ToProgress() Progress {
	return Progress{Responses: r.Responses, ProgressPercent: r.Progress, Score: r.Score}
}

type CreateShareResponse struct {
	ShareCode string `json:"shareCode"`
	ShareURL  string `json:"shareUrl"`
	OwnerKey  string `json:"ownerKey"`
	ExpiresAt string `json:"expiresAt"`
}

type SnapshotResponse struct {
	Progress     float64            `json:"progress"`
	Score        float64            `json:"score"`
	Responses    map[string]float64 `json:"responses"`
	Participants int                `json:"participants"`
	ExpiresAt    string             `json:"expiresAt"`
}

func NewSnapshotResponse(r *ShareRecord) *SnapshotResponse {
	responses := r.Responses
	if responses == nil {
		responses = map[string]float64{}
	}
	return &SnapshotResponse{
		Progress:     r.ProgressPercent,
		Score:        r.Score,
		Responses:    responses,
		Participants: r.ParticipantCount,
		ExpiresAt:    r.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
