// Package identifier issues diagnosis identifiers and folds the historical
// identifier formats into one canonical scheme.
//
// A canonical identifier looks like diag_1735689600000_k3v9x0p2q: a prefix tag,
// the issue time in Unix milliseconds and a 9-character lowercase alphanumeric
// suffix. Normalize is total and idempotent: its output always begins with the
// requested canonical prefix, and canonical input is returned unchanged.
package identifier

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DiagnosisID is an opaque, URL-safe diagnosis identifier.
type DiagnosisID string

func (id DiagnosisID) String() string { return string(id) }

// PrefixKind selects the canonical prefix.
type PrefixKind int

const (
	PrefixPrimary PrefixKind = iota
	PrefixLegacy
)

const (
	suffixLength = 9
	suffixChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
	// MaxLength bounds accepted raw identifiers.
	MaxLength = 128
)

var canonicalPrefixes = map[PrefixKind]string{
	PrefixPrimary: "diag_",
	PrefixLegacy:  "dx_",
}

// knownPrefixes are stripped case-insensitively, longest first so "diag-"
// is never mistaken for "d_"-style fragments.
var knownPrefixes = []string{
	"diagnosis_",
	"diagnosis-",
	"report_",
	"diag-",
	"diag_",
	"dx-",
	"dx_",
	"d_",
}

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// Prefix returns the canonical prefix (including the trailing underscore).
func (k PrefixKind) Prefix() string {
	if p, ok := canonicalPrefixes[k]; ok {
		return p
	}
	return canonicalPrefixes[PrefixPrimary]
}

func (k PrefixKind) String() string {
	if k == PrefixLegacy {
		return "legacy"
	}
	return "primary"
}

// ParsePrefixKind accepts "primary"/"diag" and "legacy"/"dx". Empty means primary.
func ParsePrefixKind(raw string) (PrefixKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "primary", "diag":
		return PrefixPrimary, nil
	case "legacy", "dx":
		return PrefixLegacy, nil
	default:
		return PrefixPrimary, fmt.Errorf("unknown identifier prefix %q", raw)
	}
}

// Service generates and normalizes identifiers. The zero value is not usable;
// construct with New.
type Service struct {
	clock  func() time.Time
	random io.Reader
}

type Option func(*Service)

// WithClock overrides the time source used for the timestamp component.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRandom overrides the entropy source used for the suffix.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func New(opts ...Option) *Service {
	s := &Service{clock: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate builds {prefix}_{unixMillis}_{suffix}. If the entropy source fails
// the suffix falls back to the process-wide crypto source.
func (s *Service) Generate(kind PrefixKind) DiagnosisID {
	millis := strconv.FormatInt(s.clock().UnixMilli(), 10)
	return DiagnosisID(kind.Prefix() + millis + "_" + s.suffix())
}

func (s *Service) suffix() string {
	limit := big.NewInt(int64(len(suffixChars)))
	var b strings.Builder
	b.Grow(suffixLength)
	for range suffixLength {
		n, err := rand.Int(s.random, limit)
		if err != nil {
			n, _ = rand.Int(rand.Reader, limit)
		}
		b.WriteByte(suffixChars[n.Int64()])
	}
	return b.String()
}

// Normalize maps raw onto the canonical scheme for target. Callers must reject
// invalid input (see Valid) first: empty input yields the bare prefix.
func (s *Service) Normalize(raw string, target PrefixKind) DiagnosisID {
	return Normalize(raw, target)
}

// Normalize is the stateless form of Service.Normalize.
func Normalize(raw string, target PrefixKind) DiagnosisID {
	trimmed := strings.TrimSpace(raw)
	canonical := target.Prefix()
	if strings.HasPrefix(trimmed, canonical) {
		return DiagnosisID(trimmed)
	}

	lower := strings.ToLower(trimmed)
	for _, p := range knownPrefixes {
		if strings.HasPrefix(lower, p) {
			return DiagnosisID(canonical + trimmed[len(p):])
		}
	}
	return DiagnosisID(canonical + trimmed)
}

// Valid reports whether raw is acceptable input for Normalize: non-empty after
// trimming, at most MaxLength characters and URL-safe.
func Valid(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed != "" && len(trimmed) <= MaxLength && urlSafe.MatchString(trimmed)
}

// IsCanonical reports whether id already carries a canonical prefix.
func IsCanonical(id string) bool {
	for _, p := range canonicalPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
