// Package service implements report access: issuing one-time numeric codes to
// a recipient, verifying them under an attempt ceiling, and exchanging a
// correct code for a short-lived signed grant.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"assessgate/internal/access/models"
	"assessgate/internal/access/store"
	"assessgate/internal/identifier"
	"assessgate/internal/platform/metrics"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/email"
	"assessgate/pkg/platform/audit"
	"assessgate/pkg/platform/sentinel"
	"assessgate/pkg/requestcontext"
)

const (
	codeDigits = 6
	codeSpace  = 1_000_000
)

// Store is the persistence boundary for access code records.
type Store interface {
	Put(ctx context.Context, record *models.AccessCodeRecord) error
	Execute(ctx context.Context, key models.SubjectKey, fn func(record *models.AccessCodeRecord) store.Disposition) error
}

// Notifier delivers a code to its recipient out of band.
type Notifier interface {
	SendAccessCode(ctx context.Context, delivery models.Delivery) error
}

// GrantIssuer signs access grants.
type GrantIssuer interface {
	GenerateGrant(email, diagnosisID string, now time.Time, expiresIn time.Duration) (string, time.Time, error)
}

type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	GrantTTL    time.Duration
	BcryptCost  int
}

type Service struct {
	store    Store
	notifier Notifier
	grants   GrantIssuer
	auditor  audit.Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	random   io.Reader
}

type Option func(*Service)

func WithAuditor(auditor audit.Emitter) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRandom overrides the entropy source for code generation.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func New(store Store, notifier Notifier, grants GrantIssuer, cfg Config, opts ...Option) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = 30 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		grants:   grants,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues a fresh code for (recipient, diagnosisID), replacing any
// previous one, and hands it to the notifier. A delivery failure is reported as
// Sent=false; the code stays valid so a retried delivery can still succeed.
func (s *Service) Request(ctx context.Context, recipient, diagnosisID string) (*models.RequestResult, error) {
	resource, err := normalizeResource(diagnosisID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	requestID := requestcontext.RequestID(ctx)

	code, err := s.generateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate access code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash access code")
	}

	record := &models.AccessCodeRecord{
		CodeHash:  hash,
		Subject:   models.NewSubjectKey(recipient, resource),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	if err := s.store.Put(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store access code")
	}

	delivery := models.Delivery{
		Email:       record.Subject.Recipient,
		DiagnosisID: resource,
		Code:        code,
		ExpiresAt:   record.ExpiresAt,
	}
	sent := true
	if err := s.notifier.SendAccessCode(ctx, delivery); err != nil {
		sent = false
		s.logger.WarnContext(ctx, "access code delivery failed",
			"request_id", requestID,
			"recipient", email.Mask(record.Subject.Recipient),
			"diagnosis_id", resource,
			"error", err,
		)
		s.emit(ctx, audit.Event{
			Action:   audit.EventAccessCodeDeliveryFailed,
			Subject:  email.Mask(record.Subject.Recipient),
			Resource: resource,
			Reason:   "notifier_error",
			Severity: audit.SeverityWarning,
		})
	} else {
		s.logger.InfoContext(ctx, "access code issued",
			"request_id", requestID,
			"recipient", email.Mask(record.Subject.Recipient),
			"diagnosis_id", resource,
		)
		s.emit(ctx, audit.Event{
			Action:   audit.EventAccessCodeIssued,
			Subject:  email.Mask(record.Subject.Recipient),
			Resource: resource,
		})
	}
	s.metrics.IncrementAccessCodesIssued(sent)

	return &models.RequestResult{Sent: sent, ExpiresAt: record.ExpiresAt}, nil
}

// Verify checks a supplied code. Denials are results, not errors: only invalid
// input and infrastructure failures return an error.
//
// Order per record: expired -> delete; attempts at ceiling -> delete;
// otherwise count the attempt, then compare. A match consumes the record.
func (s *Service) Verify(ctx context.Context, recipient, diagnosisID, code string) (*models.VerifyResult, error) {
	resource, err := normalizeResource(diagnosisID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	key := models.NewSubjectKey(recipient, resource)

	result := &models.VerifyResult{}
	err = s.store.Execute(ctx, key, func(record *models.AccessCodeRecord) store.Disposition {
		if record.IsExpired(now) {
			result.Status = models.StatusExpired
			return store.Delete
		}
		if record.Attempts >= s.cfg.MaxAttempts {
			result.Status = models.StatusAttemptsExceeded
			return store.Delete
		}
		record.Attempts++
		if bcrypt.CompareHashAndPassword(record.CodeHash, []byte(code)) == nil {
			result.Status = models.StatusGranted
			return store.Delete
		}
		result.Status = models.StatusMismatch
		result.RemainingAttempts = s.cfg.MaxAttempts - record.Attempts
		return store.Keep
	})
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		result.Status = models.StatusNotFound
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify access code")
	}

	if result.Status == models.StatusGranted {
		token, expiresAt, err := s.grants.GenerateGrant(key.Recipient, resource, now, s.cfg.GrantTTL)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access grant")
		}
		result.Grant = &models.Grant{Token: token, ExpiresAt: expiresAt}
	}

	s.recordVerification(ctx, key, result)
	return result, nil
}

func (s *Service) recordVerification(ctx context.Context, key models.SubjectKey, result *models.VerifyResult) {
	s.metrics.IncrementAccessVerifications(string(result.Status))

	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"recipient", email.Mask(key.Recipient),
		"diagnosis_id", key.Resource,
		"status", string(result.Status),
	}
	event := audit.Event{
		Subject:  email.Mask(key.Recipient),
		Resource: key.Resource,
		Reason:   string(result.Status),
	}
	switch result.Status {
	case models.StatusGranted:
		s.logger.InfoContext(ctx, "access granted", attrs...)
		event.Action = audit.EventAccessGranted
	case models.StatusAttemptsExceeded:
		s.logger.WarnContext(ctx, "access code attempt ceiling reached", attrs...)
		event.Action = audit.EventAccessDenied
		event.Severity = audit.SeverityCritical
	default:
		s.logger.InfoContext(ctx, "access denied", append(attrs, "remaining_attempts", result.RemainingAttempts)...)
		event.Action = audit.EventAccessDenied
		event.Severity = audit.SeverityWarning
	}
	s.emit(ctx, event)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, event)
}

// generateCode returns a uniformly distributed zero-padded 6-digit code.
func (s *Service) generateCode() (string, error) {
	n, err := rand.Int(s.random, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func normalizeResource(diagnosisID string) (string, error) {
	if !identifier.Valid(diagnosisID) {
		return "", dErrors.New(dErrors.CodeValidation, "diagnosisId is invalid")
	}
	return string(identifier.Normalize(diagnosisID, identifier.PrefixPrimary)), nil
}
