package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind BodyKind
	}{
		{name: "json object", body: `{"success":true}`, kind: BodyJSON},
		{name: "doctype", body: "<!DOCTYPE html><html><body>Sign in</body></html>", kind: BodyHTML},
		{name: "lowercase doctype with leading whitespace", body: "\n  <!doctype html>", kind: BodyHTML},
		{name: "html tag", body: "<HTML><head></head></HTML>", kind: BodyHTML},
		{name: "byte order mark before html", body: "\xef\xbb\xbf<html>", kind: BodyHTML},
		{name: "truncated json", body: `{"success":tr`, kind: BodyUnparseable},
		{name: "plain text", body: "Service Unavailable", kind: BodyUnparseable},
		{name: "empty body", body: "", kind: BodyUnparseable},
		{name: "json array", body: `[1,2]`, kind: BodyJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify([]byte(tt.body)).Kind)
		})
	}
}

func TestClassify_ArrayHasNoEnvelope(t *testing.T) {
	c := Classify([]byte(`["ok"]`))
	assert.Nil(t, c.Envelope)
}

func TestClassify_SnippetBounded(t *testing.T) {
	body := "<html>" + string(make([]byte, 1000))
	c := Classify([]byte(body))
	assert.LessOrEqual(t, len(c.Snippet), snippetLength)
}

func TestEnvelope_Succeeded(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{"success":true}`, true},
		{`{"success":1}`, true},
		{`{"success":"yes"}`, true},
		{`{"success":{}}`, true},
		{`{"success":[]}`, true},
		{`{"success":false}`, false},
		{`{"success":0}`, false},
		{`{"success":""}`, false},
		{`{"success":null}`, false},
		{`{"data":{}}`, false},
	}
	for _, tt := range tests {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &env))
		assert.Equal(t, tt.want, env.Succeeded(), tt.raw)
	}
}

func TestEnvelope_Reason(t *testing.T) {
	assert.Equal(t, "quota exceeded", (&Envelope{Error: "quota exceeded"}).Reason())
	assert.Equal(t, "invalid: missing email", (&Envelope{Error: "invalid", Message: "missing email"}).Reason())
	assert.Equal(t, "only message", (&Envelope{Message: "only message"}).Reason())
	assert.Equal(t, "", (*Envelope)(nil).Reason())
}
