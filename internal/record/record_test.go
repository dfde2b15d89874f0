package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestLevelForRate_Thresholds(t *testing.T) {
	tests := []struct {
		rate     float64
		expected ActivityLevel
	}{
		{0, LevelLow},
		{0.5, LevelLow},
		{0.51, LevelMedium},
		{1.2, LevelMedium},
		{1.21, LevelHigh},
		{10, LevelHigh},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, LevelForRate(tc.rate), "rate %v", tc.rate)
	}
}

func TestSession_DurationMinutes(t *testing.T) {
	s := NewSession("Umut", "", t0)

	// Sub-minute sessions still count as one minute.
	assert.Equal(t, 1, s.DurationMinutes(t0.Add(10*time.Second)))
	assert.Equal(t, 5, s.DurationMinutes(t0.Add(5*time.Minute)))
	// Rounds to nearest minute.
	assert.Equal(t, 5, s.DurationMinutes(t0.Add(4*time.Minute+40*time.Second)))
}

func TestSession_AddDomain(t *testing.T) {
	s := NewSession("Umut", "", t0)

	assert.True(t, s.AddDomain("https://www.Example.com/page?q=1"))
	assert.False(t, s.AddDomain("https://example.com/other"), "normalized duplicate")
	assert.True(t, s.AddDomain("https://docs.google.com/doc/1"))
	assert.False(t, s.AddDomain("not a url at all ::"))
	assert.False(t, s.AddDomain("/relative/path"))

	assert.Equal(t, []string{"example.com", "docs.google.com"}, s.Domains)
}

func TestSession_AddDoc_FirstSeenOrder(t *testing.T) {
	s := NewSession("Umut", "", t0)

	assert.True(t, s.AddDoc("Q3 Plan"))
	assert.True(t, s.AddDoc("Budget"))
	assert.False(t, s.AddDoc("Q3 Plan"))

	assert.Equal(t, []string{"Q3 Plan", "Budget"}, s.Docs)
}

func TestSession_Samples(t *testing.T) {
	s := NewSession("Umut", "", t0)
	for _, u := range []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"} {
		s.AddDomain("https://" + u)
	}
	assert.Equal(t, "a.com b.com c.com d.com e.com", s.URLsSample())

	for _, d := range []string{"one", "two", "three", "four"} {
		s.AddDoc(d)
	}
	assert.Equal(t, "one | two | three", s.KeyContributions())
}

func TestSession_EndPayload_Legacy(t *testing.T) {
	s := NewSession("A", "", t0)
	s.ActivityEvents = 2

	payload := s.EndPayload(t0.Add(5*time.Minute), "")

	assert.Equal(t, "session", payload["type"])
	assert.Equal(t, "A", payload["user"])
	assert.Equal(t, 5, payload["duration"])
	assert.Equal(t, t0.Add(5*time.Minute).Format(time.RFC3339), payload["end"])
	assert.NotContains(t, payload, "id")
	// 2 events over 5 minutes is 0.4/min.
	assert.Equal(t, "Low", payload["activityLevel"])
}

func TestSession_EndPayload_Split(t *testing.T) {
	s := NewSession("A", "noble", t0)
	s.ID = "S1234"
	s.ActivityEvents = 30

	payload := s.EndPayload(t0.Add(10*time.Minute), "wrapped up")

	assert.Equal(t, "sessionEnd", payload["type"])
	assert.Equal(t, "S1234", payload["id"])
	assert.Equal(t, "noble", payload["projectTag"])
	assert.Equal(t, "wrapped up", payload["notes"])
	assert.NotContains(t, payload, "end")
	assert.NotContains(t, payload, "duration")
	// 30 events over 10 minutes is 3/min.
	assert.Equal(t, "High", payload["activityLevel"])
}

func TestActivityRecord_Wire(t *testing.T) {
	rec := ActivityRecord{
		User:      "Umut",
		URL:       "https://example.com",
		Title:     "Example",
		Timestamp: t0,
		Sampled:   true,
	}

	m := rec.Wire()
	assert.Equal(t, "activity", m["type"])
	assert.Equal(t, "https://example.com", m["url"])
	assert.Equal(t, "Example", m["title"])
	assert.Equal(t, true, m["sampled"])

	// Empty title and non-sampled records omit the optional fields.
	m = ActivityRecord{User: "Umut", URL: "https://example.com", Timestamp: t0}.Wire()
	assert.NotContains(t, m, "title")
	assert.NotContains(t, m, "sampled")
}
