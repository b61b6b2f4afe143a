// Package email holds small helpers for handling recipient addresses.
package email

import (
	"net/mail"
	"strings"
	"unicode"
)

// Normalize trims and lowercases an address so it can be used as a map key.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Valid reports whether address parses as a bare RFC 5322 address.
func Valid(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > 254 {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return parsed.Address == address
}

// Mask hides most of the local part for logging: "alice@x.com" -> "a***@x.com".
func Mask(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at <= 0 {
		return "***"
	}
	local := []rune(address[:at])
	return string(local[0]) + "***" + address[at:]
}

// DeriveNameFromEmail guesses a first and last name from the local part,
// used to personalize notifications.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
