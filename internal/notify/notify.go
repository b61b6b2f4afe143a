// Package notify delivers access codes to recipients.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"assessgate/internal/access/models"
	"assessgate/internal/backend"
	"assessgate/pkg/email"
	"assessgate/pkg/requestcontext"
)

// ActionSendAccessCode tells the backend to email a code rather than score a
// submission.
const ActionSendAccessCode = "sendAccessCode"

// Submitter is the part of the backend connector the notifier needs.
type Submitter interface {
	Submit(ctx context.Context, payload map[string]any) backend.Result
}

// BackendNotifier relays codes through the external backend, which owns the
// outbound mail integration.
type BackendNotifier struct {
	submitter Submitter
}

func NewBackendNotifier(submitter Submitter) *BackendNotifier {
	return &BackendNotifier{submitter: submitter}
}

func (n *BackendNotifier) SendAccessCode(ctx context.Context, d models.Delivery) error {
	firstName, lastName := email.DeriveNameFromEmail(d.Email)
	res := n.submitter.Submit(ctx, map[string]any{
		"action":      ActionSendAccessCode,
		"email":       d.Email,
		"diagnosisId": d.DiagnosisID,
		"code":        d.Code,
		"expiresAt":   d.ExpiresAt.UTC().Format(time.RFC3339),
		"firstName":   firstName,
		"lastName":    lastName,
	})
	if res.Success {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("send access code: %w", res.Err)
	}
	return fmt.Errorf("send access code: %s", res.Message())
}

// LogNotifier writes codes to the log. Development only.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendAccessCode(ctx context.Context, d models.Delivery) error {
	n.logger.InfoContext(ctx, "access code (log notifier)",
		"request_id", requestcontext.RequestID(ctx),
		"recipient", email.Mask(d.Email),
		"diagnosis_id", d.DiagnosisID,
		"code", d.Code,
		"expires_at", d.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}
