package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "assessgate/pkg/domain-errors"
)

func TestTouchDebounce(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &ShareRecord{ParticipantCount: 1, CreatedAt: start, LastAccessedAt: start}

	assert.False(t, r.Touch(start.Add(10*time.Second), 30*time.Second))
	assert.False(t, r.Touch(start.Add(40*time.Second), 30*time.Second), "window restarts at each read")
	assert.Equal(t, 1, r.ParticipantCount)

	assert.True(t, r.Touch(start.Add(71*time.Second), 30*time.Second))
	assert.Equal(t, 2, r.ParticipantCount)
	assert.Equal(t, start.Add(71*time.Second), r.LastAccessedAt)

	assert.False(t, r.Touch(start.Add(101*time.Second), 30*time.Second), "exactly 30s is inside the window")
}

func TestCloneIsDeep(t *testing.T) {
	r := &ShareRecord{Code: "ABCD2345", Responses: map[string]float64{"q1": 3}}
	c := r.Clone()
	c.Responses["q1"] = 9
	c.ParticipantCount = 7

	assert.Equal(t, 3.0, r.Responses["q1"])
	assert.Zero(t, r.ParticipantCount)
	assert.NotNil(t, (&ShareRecord{}).Clone().Responses)
}

func TestIsExpired(t *testing.T) {
	exp := time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)
	r := &ShareRecord{ExpiresAt: exp}
	assert.False(t, r.IsExpired(exp.Add(-time.Nanosecond)))
	assert.True(t, r.IsExpired(exp))
}

func TestProgressRequestValidate(t *testing.T) {
	valid := func() *ProgressRequest {
		return &ProgressRequest{Responses: map[string]float64{" q1 ": 2}, Progress: 40, Score: 12}
	}

	t.Run("valid request trims keys", func(t *testing.T) {
		r := valid()
		r.Normalize()
		require.NoError(t, r.Validate())
		assert.Equal(t, map[string]float64{"q1": 2}, r.Responses)
	})

	t.Run("nil responses become empty", func(t *testing.T) {
		r := &ProgressRequest{Progress: 0}
		r.Normalize()
		require.NoError(t, r.Validate())
		assert.NotNil(t, r.Responses)
	})

	t.Run("progress out of range", func(t *testing.T) {
		r := valid()
		r.Progress = 101
		r.Normalize()
		assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))
	})

	t.Run("blank response key", func(t *testing.T) {
		r := &ProgressRequest{Responses: map[string]float64{"  ": 1}}
		r.Normalize()
		assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))
	})
}
