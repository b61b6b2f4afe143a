package sentinel

import "errors"

// Sentinel errors returned (optionally wrapped) at the store boundary. They
// describe facts about stored records; services decide what a fact means for
// the caller (typed verification outcome, 404, retry, ...).
//
//   - ErrNotFound: no live record under the key
//   - ErrConflict: key already taken (share code collision)
//   - ErrExpired: record exists but its lifetime has passed
//   - ErrInvalidState: record cannot be mutated as requested
//   - ErrUnavailable: backing store (Redis) cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
