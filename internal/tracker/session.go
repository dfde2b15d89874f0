package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/nobletrack/internal/record"
)

// StartSession begins tracking for user. A no-op returning the current
// snapshot when a session is already active: the existing session's
// start and id are never altered. The local clock provides an optimistic
// start; the server-authoritative confirmation runs asynchronously and
// its failure leaves the session running unacknowledged, to be closed
// later with the legacy single-shot record.
func (t *Tracker) StartSession(ctx context.Context, user, projectTag string) (*record.Session, error) {
	t.mu.Lock()
	if t.session != nil {
		snapshot := copySession(t.session)
		t.mu.Unlock()
		return snapshot, nil
	}
	if !t.cfg.AllowedUser(user) {
		t.mu.Unlock()
		return nil, fmt.Errorf("unknown user %q", user)
	}

	now := t.clock()
	sess := record.NewSession(user, projectTag, now)
	t.session = sess
	t.lastActivity = now
	t.wasIdle = false
	if err := t.store.SaveSession(ctx, sess); err != nil {
		t.log.Warn("session persist failed", "error", err)
	}
	snapshot := copySession(sess)
	t.mu.Unlock()

	t.log.Info("session started", "user", user, "projectTag", projectTag)
	go t.confirmStart(sess)
	return snapshot, nil
}

// confirmStart requests the server-authoritative session id and start
// time, overwriting the optimistic local values on acknowledgment. Runs
// against the session pointer captured at start so a superseding session
// is never touched by a stale acknowledgment.
func (t *Tracker) confirmStart(sess *record.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	res, err := t.client.ResilientSend(ctx, map[string]any{
		"type": "sessionStart",
		"user": sess.User,
	})
	if err != nil {
		t.log.Warn("session start unconfirmed, will fall back to legacy record on stop", "error", err)
		return
	}

	id, _ := res["id"].(string)
	startStr, _ := res["start"].(string)
	if id == "" || startStr == "" {
		return
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		t.log.Warn("unparseable server start time", "start", startStr, "error", err)
		return
	}

	t.mu.Lock()
	if t.session != sess {
		t.mu.Unlock()
		return
	}
	sess.ID = id
	sess.Start = start
	if err := t.store.SaveSession(ctx, sess); err != nil {
		t.log.Warn("session persist failed", "error", err)
	}
	t.mu.Unlock()

	t.log.Info("session acknowledged", "id", id, "start", start)
}

// StopSession ends the active session. A no-op when idle. The transition
// to idle and the clearing of persisted state happen regardless of
// delivery outcome: the end-of-session record is at-most-once, and a
// delivery failure after exhausted retries is logged as accepted data
// loss.
func (t *Tracker) StopSession(ctx context.Context, notes string) error {
	t.mu.Lock()
	sess := t.session
	if sess == nil {
		t.mu.Unlock()
		return nil
	}
	now := t.clock()
	payload := sess.EndPayload(now, notes)
	t.session = nil
	if err := t.store.ClearSession(ctx); err != nil {
		t.log.Warn("session clear failed", "error", err)
	}
	t.mu.Unlock()

	t.log.Info("session stopped",
		"user", sess.User,
		"recordType", payload["type"],
		"durationMinutes", sess.DurationMinutes(now))

	if _, err := t.client.ResilientSend(ctx, payload); err != nil {
		t.log.Error("session end delivery failed, record lost", "type", payload["type"], "error", err)
	}
	return nil
}
