// Package service implements shared progress: short-lived public snapshots of
// an in-flight assessment that viewers can poll while the owner keeps it
// current.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"maps"
	"math/big"
	"strings"
	"time"

	"assessgate/internal/platform/metrics"
	"assessgate/internal/progress/models"
	dErrors "assessgate/pkg/domain-errors"
	"assessgate/pkg/platform/audit"
	"assessgate/pkg/platform/sentinel"
	"assessgate/pkg/requestcontext"
)

const (
	// CodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 8

	maxCodeAttempts = 5
)

type Store interface {
	Save(ctx context.Context, record *models.ShareRecord) error
	Find(ctx context.Context, code string) (*models.ShareRecord, error)
	Execute(ctx context.Context, code string, fn func(record *models.ShareRecord) error) (*models.ShareRecord, error)
}

type Config struct {
	TTL       time.Duration
	Debounce  time.Duration
	OwnerSalt string
}

type Service struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	auditor audit.Emitter
	logger  *slog.Logger
	random  io.Reader
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditor(auditor audit.Emitter) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func New(store Store, cfg Config, opts ...Option) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 30 * time.Second
	}
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new snapshot with one participant, the owner.
func (s *Service) Create(ctx context.Context, progress models.Progress) (*models.Share, error) {
	now := requestcontext.Now(ctx)

	for range maxCodeAttempts {
		code, err := s.generateCode()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate share code")
		}
		record := &models.ShareRecord{
			Code:             code,
			Responses:        maps.Clone(progress.Responses),
			ProgressPercent:  progress.ProgressPercent,
			Score:            progress.Score,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.cfg.TTL),
			LastAccessedAt:   now,
			ParticipantCount: 1,
		}
		err = s.store.Save(ctx, record)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save share")
		}

		s.metrics.IncrementSharesCreated()
		s.emit(ctx, audit.Event{Action: audit.EventShareCreated, Subject: code})
		s.logger.InfoContext(ctx, "share created",
			"request_id", requestcontext.RequestID(ctx),
			"share_code", code,
		)
		return &models.Share{Code: code, OwnerKey: s.OwnerKey(code), ExpiresAt: record.ExpiresAt}, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "could not allocate a unique share code")
}

// Read returns a snapshot copy. Human viewers count as participants subject to
// the debounce window; automated clients (link previews, crawlers) only read.
func (s *Service) Read(ctx context.Context, code string, automated bool) (*models.ShareRecord, error) {
	code, ok := normalizeCode(code)
	if !ok {
		return nil, shareNotFound()
	}
	now := requestcontext.Now(ctx)

	if automated {
		record, err := s.store.Find(ctx, code)
		if err == nil && record.IsExpired(now) {
			err = sentinel.ErrExpired
		}
		if err != nil {
			return nil, translate(err)
		}
		s.metrics.IncrementShareReads(false)
		return record, nil
	}

	counted := false
	record, err := s.store.Execute(ctx, code, func(r *models.ShareRecord) error {
		if r.IsExpired(now) {
			return sentinel.ErrExpired
		}
		counted = r.Touch(now, s.cfg.Debounce)
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	s.metrics.IncrementShareReads(counted)
	return record, nil
}

// Update replaces the owner-supplied progress. The lifetime is not extended.
func (s *Service) Update(ctx context.Context, code, ownerKey string, progress models.Progress) (*models.ShareRecord, error) {
	code, ok := normalizeCode(code)
	if !ok {
		return nil, shareNotFound()
	}
	if !s.validOwnerKey(code, ownerKey) {
		s.logger.WarnContext(ctx, "share update rejected",
			"request_id", requestcontext.RequestID(ctx),
			"share_code", code,
		)
		s.emit(ctx, audit.Event{
			Action:   audit.EventShareOwnerRejected,
			Subject:  code,
			Reason:   "owner_key_mismatch",
			Severity: audit.SeverityWarning,
		})
		return nil, dErrors.New(dErrors.CodeForbidden, "owner key does not match this share")
	}
	now := requestcontext.Now(ctx)

	record, err := s.store.Execute(ctx, code, func(r *models.ShareRecord) error {
		if r.IsExpired(now) {
			return sentinel.ErrExpired
		}
		r.Responses = maps.Clone(progress.Responses)
		r.ProgressPercent = progress.ProgressPercent
		r.Score = progress.Score
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	s.emit(ctx, audit.Event{Action: audit.EventShareUpdated, Subject: code})
	return record, nil
}

// OwnerKey derives the update credential for code. It is never stored.
func (s *Service) OwnerKey(code string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.OwnerSalt))
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) validOwnerKey(code, key string) bool {
	given, err := hex.DecodeString(strings.TrimSpace(key))
	if err != nil || len(given) == 0 {
		return false
	}
	want, _ := hex.DecodeString(s.OwnerKey(code))
	return hmac.Equal(given, want)
}

func (s *Service) generateCode() (string, error) {
	limit := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for range CodeLength {
		n, err := rand.Int(s.random, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, event)
}

// normalizeCode accepts lowercase input; anything outside the alphabet cannot
// name a share.
func normalizeCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", false
	}
	for i := range len(code) {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return "", false
		}
	}
	return code, true
}

func translate(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
		return shareNotFound()
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "share store failure")
}

func shareNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "share not found or expired")
}
