package tracker

import (
	"context"
	"time"
)

// IdleState mirrors the platform idle-detection states.
type IdleState string

const (
	IdleStateActive IdleState = "active"
	IdleStateIdle   IdleState = "idle"
	IdleStateLocked IdleState = "locked"
)

// IdleSource reports the current idle state for a given threshold.
// Implementations may probe platform APIs; the default derives idleness
// from the coordinator's own last-activity clock.
type IdleSource interface {
	State(threshold time.Duration) IdleState
}

// lastActivitySource treats the time since the last queued activity (or
// session start) as the user's inactivity span.
type lastActivitySource struct {
	t *Tracker
}

func (s lastActivitySource) State(threshold time.Duration) IdleState {
	s.t.mu.Lock()
	last := s.t.lastActivity
	s.t.mu.Unlock()

	if last.IsZero() || s.t.clock().Sub(last) < threshold {
		return IdleStateActive
	}
	return IdleStateIdle
}

// SetIdleSource replaces the idle probe. Intended for platform-specific
// integrations and tests; must be called before Run.
func (t *Tracker) SetIdleSource(src IdleSource) { t.idle = src }

// SetNotifier replaces the notification sink. Must be called before Run.
func (t *Tracker) SetNotifier(n Notifier) { t.notifier = n }

// pollIdle checks the idle source and auto-terminates an active session
// on a transition into idle or locked: one notification and one stop per
// transition, with repeated idle polls staying no-ops until the state
// returns to active. The probe is fire-and-forget: a failing platform
// API only costs auto-stop, never the process.
func (t *Tracker) pollIdle(ctx context.Context) {
	t.mu.Lock()
	threshold := time.Duration(t.cfg.Tracking.IdleMinutes) * time.Minute
	t.mu.Unlock()

	state := t.probeIdle(threshold)

	if state == IdleStateActive {
		t.mu.Lock()
		t.wasIdle = false
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	if t.wasIdle || t.session == nil {
		t.mu.Unlock()
		return
	}
	t.wasIdle = true
	t.mu.Unlock()

	t.notifier.Notify("Session auto-stopped due to inactivity")
	if err := t.StopSession(ctx, ""); err != nil {
		t.log.Warn("idle auto-stop failed", "error", err)
	}
}

// probeIdle shields the coordinator from a panicking idle probe.
func (t *Tracker) probeIdle(threshold time.Duration) (state IdleState) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("idle probe failed", "panic", r)
			state = IdleStateActive
		}
	}()
	return t.idle.State(threshold)
}
