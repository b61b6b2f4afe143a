package models

import (
	"strings"
	"time"
)

// Class groups endpoints that share one limit.
type Class string

const (
	// ClassAccessRequest covers code issuance, which triggers outbound mail.
	ClassAccessRequest Class = "access_request"
	// ClassAccessVerify covers code verification.
	ClassAccessVerify Class = "access_verify"
)

// Policy is a sliding-window limit: at most Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Result is the outcome of a single check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is in seconds and only set when the request was rejected.
	RetryAfter int
}

// Key builds the bucket key for a class and client. ':' in the client value is
// escaped so an IPv6 address cannot collide with another class's bucket.
func Key(class Class, client string) string {
	return string(class) + ":" + strings.ReplaceAll(client, ":", "_")
}
