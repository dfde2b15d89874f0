// Package record defines the data model shared by the tracker core: the
// active session, buffered activity records, and the task/document mirrors
// of the remote store.
package record

import (
	"math"
	"net/url"
	"strings"
	"time"
)

// ActivityLevel buckets a session by its activity-event rate.
type ActivityLevel string

const (
	LevelLow    ActivityLevel = "Low"
	LevelMedium ActivityLevel = "Medium"
	LevelHigh   ActivityLevel = "High"
)

// LevelForRate maps events-per-minute onto an ActivityLevel.
func LevelForRate(eventsPerMinute float64) ActivityLevel {
	switch {
	case eventsPerMinute > 1.2:
		return LevelHigh
	case eventsPerMinute > 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// HashState tracks the anonymization lifecycle of an activity record's URL.
// A record is marked pending at enqueue time and resolved exactly once at
// flush time, immediately before transmission.
type HashState int

const (
	HashNone    HashState = iota // URL sent as-is
	HashPending                  // URL must be hashed before transmission
	HashDone                     // URL already replaced by its digest
)

// ActivityRecord is one observed page-visit or sampled-tab event.
type ActivityRecord struct {
	RowID     int64     `json:"-"` // storage row id; 0 until persisted
	User      string    `json:"user"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sampled   bool      `json:"sampled,omitempty"`
	HashState HashState `json:"-"`
}

// Wire returns the outbound JSON object for this record.
func (a ActivityRecord) Wire() map[string]any {
	m := map[string]any{
		"type":      "activity",
		"user":      a.User,
		"url":       a.URL,
		"timestamp": a.Timestamp.UTC().Format(time.RFC3339),
	}
	if a.Title != "" {
		m["title"] = a.Title
	}
	if a.Sampled {
		m["sampled"] = true
	}
	return m
}

// Task mirrors one row of the remote task sheet.
type Task struct {
	ID          string `json:"id"`
	User        string `json:"user"`
	Task        string `json:"task"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// Document is a referenced-document event forwarded to the remote store.
type Document struct {
	User string `json:"user"`
	Name string `json:"name"`
}

// Session represents one continuous work period for one user. ID stays
// empty until the remote store acknowledges the start; Start is the local
// optimistic time until then.
type Session struct {
	ID             string    `json:"id,omitempty"`
	User           string    `json:"user"`
	Start          time.Time `json:"start"`
	LastTick       time.Time `json:"lastTick"`
	ProjectTag     string    `json:"projectTag,omitempty"`
	Domains        []string  `json:"domains"`
	Docs           []string  `json:"docs"`
	ActivityEvents int       `json:"activityEvents"`
}

// NewSession starts a session optimistically from the local clock.
func NewSession(user, projectTag string, now time.Time) *Session {
	return &Session{
		User:       user,
		Start:      now,
		LastTick:   now,
		ProjectTag: projectTag,
	}
}

// Acknowledged reports whether the remote store assigned this session an id.
func (s *Session) Acknowledged() bool {
	return s.ID != ""
}

// AddDomain records a visited hostname, case-normalized and with any
// leading "www." stripped. Duplicates are ignored. Returns true when the
// domain was new.
func (s *Session) AddDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := NormalizeHost(u.Hostname())
	for _, d := range s.Domains {
		if d == host {
			return false
		}
	}
	s.Domains = append(s.Domains, host)
	return true
}

// AddDoc records a referenced document name in first-seen order,
// de-duplicated by name. Returns true when the name was new.
func (s *Session) AddDoc(name string) bool {
	for _, d := range s.Docs {
		if d == name {
			return false
		}
	}
	s.Docs = append(s.Docs, name)
	return true
}

// NormalizeHost lowercases a hostname and strips a leading "www." prefix.
func NormalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// DurationMinutes computes the session length at time now, never less
// than one minute.
func (s *Session) DurationMinutes(now time.Time) int {
	mins := int(math.Round(now.Sub(s.Start).Minutes()))
	if mins < 1 {
		return 1
	}
	return mins
}

// Level derives the activity level from events over the session duration.
func (s *Session) Level(now time.Time) ActivityLevel {
	rate := float64(s.ActivityEvents) / float64(s.DurationMinutes(now))
	return LevelForRate(rate)
}

// URLsSample returns the first five unique domains joined by a space.
func (s *Session) URLsSample() string {
	sample := s.Domains
	if len(sample) > 5 {
		sample = sample[:5]
	}
	return strings.Join(sample, " ")
}

// KeyContributions returns the first three document names joined by " | ".
func (s *Session) KeyContributions() string {
	docs := s.Docs
	if len(docs) > 3 {
		docs = docs[:3]
	}
	return strings.Join(docs, " | ")
}

// EndPayload builds the end-of-session record. Sessions acknowledged by
// the remote store use the split sessionEnd protocol; unacknowledged ones
// fall back to the legacy single-shot session record carrying end time
// and duration.
func (s *Session) EndPayload(now time.Time, notes string) map[string]any {
	m := map[string]any{
		"user":             s.User,
		"start":            s.Start.UTC().Format(time.RFC3339),
		"projectTag":       s.ProjectTag,
		"urlsSample":       s.URLsSample(),
		"keyContributions": s.KeyContributions(),
		"activityLevel":    string(s.Level(now)),
		"notes":            notes,
	}
	if s.Acknowledged() {
		m["type"] = "sessionEnd"
		m["id"] = s.ID
	} else {
		m["type"] = "session"
		m["end"] = now.UTC().Format(time.RFC3339)
		m["duration"] = s.DurationMinutes(now)
	}
	return m
}
