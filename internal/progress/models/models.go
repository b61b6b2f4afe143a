package models

import (
	"maps"
	"time"
)

// ShareRecord is the live state behind one public share code.
type ShareRecord struct {
	Code             string             `json:"code"`
	Responses        map[string]float64 `json:"responses"`
	ProgressPercent  float64            `json:"progressPercent"`
	Score            float64            `json:"score"`
	CreatedAt        time.Time          `json:"createdAt"`
	ExpiresAt        time.Time          `json:"expiresAt"`
	LastAccessedAt   time.Time          `json:"lastAccessedAt"`
	ParticipantCount int                `json:"participantCount"`
}

// Clone returns a deep copy so callers never share the responses map with the store.
func (r *ShareRecord) Clone() *ShareRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Responses = maps.Clone(r.Responses)
	if c.Responses == nil {
		c.Responses = map[string]float64{}
	}
	return &c
}

// IsExpired reports whether the lifetime has passed. Expiry timers may fire
// slightly late, so reads check this as well.
func (r *ShareRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Touch records a read. The participant count grows by at most one per
// debounce window, measured from the previous read.
func (r *ShareRecord) Touch(now time.Time, debounce time.Duration) bool {
	counted := now.Sub(r.LastAccessedAt) > debounce
	if counted {
		r.ParticipantCount++
	}
	r.LastAccessedAt = now
	return counted
}

// Progress is the owner-supplied part of a share.
type Progress struct {
	Responses       map[string]float64
	ProgressPercent float64
	Score           float64
}

// Share is returned once, at creation. OwnerKey authorizes later updates.
type Share struct {
	Code      string
	OwnerKey  string
	ExpiresAt time.Time
}
