package sign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestSign_NoSecret(t *testing.T) {
	s := New("")
	payload := map[string]any{"type": "task", "user": "Umut"}

	signed := s.Sign(payload, now)

	assert.NotContains(t, signed, SigField)
	assert.NotContains(t, signed, TSField)
	assert.Equal(t, "task", signed["type"])

	// Input payload is never mutated.
	assert.NotContains(t, payload, TSField)
}

func TestSign_AttachesEnvelope(t *testing.T) {
	s := New("hunter2")
	signed := s.Sign(map[string]any{"type": "task"}, now)

	assert.Equal(t, "1748854800000", signed[TSField])
	assert.NotEmpty(t, signed[SigField])
}

func TestSign_DeterministicForFixedTimestamp(t *testing.T) {
	s := New("hunter2")
	payload := map[string]any{"type": "task", "user": "Umut", "task": "write spec"}

	a := s.Sign(payload, now)
	b := s.Sign(payload, now)
	assert.Equal(t, a[SigField], b[SigField])

	// Different timestamp, different signature.
	c := s.Sign(payload, now.Add(time.Second))
	assert.NotEqual(t, a[SigField], c[SigField])
}

func TestVerify_RoundTrip(t *testing.T) {
	s := New("hunter2")
	signed := s.Sign(map[string]any{"type": "task", "user": "Umut"}, now)

	require.NoError(t, s.Verify(signed, now))
	// Within the window on either side.
	require.NoError(t, s.Verify(signed, now.Add(9*time.Minute)))
	require.NoError(t, s.Verify(signed, now.Add(-9*time.Minute)))
}

func TestVerify_AcceptsUnsigned(t *testing.T) {
	s := New("hunter2")
	assert.NoError(t, s.Verify(map[string]any{"type": "task"}, now))
}

func TestVerify_RejectsTampered(t *testing.T) {
	s := New("hunter2")
	signed := s.Sign(map[string]any{"type": "task", "user": "Umut"}, now)
	signed["user"] = "Mallory"

	assert.ErrorIs(t, s.Verify(signed, now), ErrBadSignature)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	signed := New("hunter2").Sign(map[string]any{"type": "task"}, now)
	assert.ErrorIs(t, New("other").Verify(signed, now), ErrBadSignature)
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	s := New("hunter2")
	signed := s.Sign(map[string]any{"type": "task"}, now)

	assert.ErrorIs(t, s.Verify(signed, now.Add(11*time.Minute)), ErrStaleTimestamp)
	assert.ErrorIs(t, s.Verify(signed, now.Add(-11*time.Minute)), ErrStaleTimestamp)
}

func TestVerify_RejectsMissingTimestamp(t *testing.T) {
	s := New("hunter2")
	signed := s.Sign(map[string]any{"type": "task"}, now)
	delete(signed, TSField)

	assert.ErrorIs(t, s.Verify(signed, now), ErrMissingTimestamp)
}
