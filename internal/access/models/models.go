package models

import (
	"time"

	"assessgate/pkg/email"
)

// SubjectKey binds an access code to one recipient and one report.
type SubjectKey struct {
	Recipient string
	Resource  string
}

// NewSubjectKey normalizes the recipient so "A@X.com " and "a@x.com" share a key.
// resource must already be a normalized diagnosis identifier.
func NewSubjectKey(recipient, resource string) SubjectKey {
	return SubjectKey{Recipient: email.Normalize(recipient), Resource: resource}
}

// AccessCodeRecord is the live state for one SubjectKey. The plaintext code is
// never stored.
type AccessCodeRecord struct {
	CodeHash  []byte
	Subject   SubjectKey
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  int
}

// IsExpired is strict: a record is still valid at exactly ExpiresAt.
func (r *AccessCodeRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// VerifyStatus is the outcome of a verification.
type VerifyStatus string

const (
	StatusGranted          VerifyStatus = "granted"
	StatusNotFound         VerifyStatus = "not_found"
	StatusExpired          VerifyStatus = "expired"
	StatusAttemptsExceeded VerifyStatus = "attempts_exceeded"
	StatusMismatch         VerifyStatus = "mismatch"
)

// Grant is the signed, short-lived proof of a successful verification.
type Grant struct {
	Token     string
	ExpiresAt time.Time
}

type VerifyResult struct {
	Status VerifyStatus
	// RemainingAttempts is set for StatusMismatch.
	RemainingAttempts int
	// Grant is set for StatusGranted.
	Grant *Grant
}

func (r *VerifyResult) Granted() bool {
	return r != nil && r.Status == StatusGranted
}

type RequestResult struct {
	// Sent reports whether the notifier accepted the code for delivery.
	Sent      bool
	ExpiresAt time.Time
}

// Delivery is what a Notifier needs to send a code out of band.
type Delivery struct {
	Email       string
	DiagnosisID string
	Code        string
	ExpiresAt   time.Time
}
