package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

// BodyKind tags how a response body was classified.
type BodyKind int

const (
	BodyJSON BodyKind = iota
	BodyHTML
	BodyUnparseable
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyHTML:
		return "html"
	default:
		return "unparseable"
	}
}

const snippetLength = 200

// Envelope is the backend's response contract. Success is kept raw so that any
// truthy value counts, not only the literal true.
type Envelope struct {
	Success     json.RawMessage `json:"success"`
	Data        json.RawMessage `json:"data,omitempty"`
	DiagnosisID string          `json:"diagnosisId,omitempty"`
	Error       string          `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Succeeded applies truthiness to the success flag: false, null, 0, "" and a
// missing flag are falsy; everything else is truthy.
func (e *Envelope) Succeeded() bool {
	if e == nil {
		return false
	}
	return truthy(e.Success)
}

// Reason is the backend's own explanation for a rejection.
func (e *Envelope) Reason() string {
	switch {
	case e == nil:
		return ""
	case e.Error != "" && e.Message != "" && e.Error != e.Message:
		return e.Error + ": " + e.Message
	case e.Error != "":
		return e.Error
	default:
		return e.Message
	}
}

// Classified is the tagged result of sniffing a body: exactly one of Envelope
// (BodyJSON) or Snippet (BodyHTML, BodyUnparseable) is meaningful.
type Classified struct {
	Kind     BodyKind
	Envelope *Envelope
	// Snippet is a bounded, printable prefix of the body for diagnostics.
	Snippet string
}

// Classify inspects a raw body. Markup is checked before JSON decoding so an
// HTML page never surfaces as a JSON syntax error.
func Classify(body []byte) Classified {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if looksLikeHTML(trimmed) {
		return Classified{Kind: BodyHTML, Snippet: snippet(trimmed)}
	}

	var env Envelope
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err == nil {
			return Classified{Kind: BodyJSON, Envelope: &env}
		}
	} else if json.Valid(trimmed) {
		// Valid JSON but not an object: there is no success flag to read.
		return Classified{Kind: BodyJSON, Snippet: snippet(trimmed)}
	}
	return Classified{Kind: BodyUnparseable, Snippet: snippet(trimmed)}
}

func looksLikeHTML(b []byte) bool {
	for _, prefix := range [][]byte{[]byte("<!doctype"), []byte("<html")} {
		if len(b) >= len(prefix) && bytes.EqualFold(b[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

func snippet(b []byte) string {
	if len(b) > snippetLength {
		b = b[:snippetLength]
		for len(b) > 0 && !utf8.Valid(b) {
			b = b[:len(b)-1]
		}
	}
	return string(b)
}

func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false
		}
		return s != ""
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}
