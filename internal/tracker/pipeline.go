package tracker

import (
	"context"

	"github.com/runnerr0/nobletrack/internal/privacy"
	"github.com/runnerr0/nobletrack/internal/record"
)

// PageVisit handles a navigation-complete report from the page observer.
// The page is remembered for the periodic sampler; the event is buffered
// only while a session is active and consent logging is on, and only for
// http(s) URLs.
func (t *Tracker) PageVisit(ctx context.Context, url, title string) {
	t.mu.Lock()
	t.lastPage = &pageRef{url: url, title: title}
	active := t.session != nil
	consent := t.cfg.Privacy.ConsentLogging
	var user string
	if active {
		user = t.session.User
	}
	t.mu.Unlock()

	if !active || !consent || !privacy.CapturableURL(url) {
		return
	}

	t.queueActivity(ctx, record.ActivityRecord{
		User:      user,
		URL:       url,
		Title:     title,
		Timestamp: t.clock(),
	})
}

// sampleActivePage enqueues a sampled-tab record for the last observed
// page, giving passive operational visibility between navigations.
func (t *Tracker) sampleActivePage(ctx context.Context) {
	t.mu.Lock()
	page := t.lastPage
	active := t.session != nil
	consent := t.cfg.Privacy.ConsentLogging
	var user string
	if active {
		user = t.session.User
	}
	t.mu.Unlock()

	if !active || !consent || page == nil || !privacy.CapturableURL(page.url) {
		return
	}

	t.queueActivity(ctx, record.ActivityRecord{
		User:      user,
		URL:       page.url,
		Title:     page.title,
		Timestamp: t.clock(),
		Sampled:   true,
	})
}

// queueActivity applies the privacy transform, appends to the buffer,
// updates session aggregates, enforces the capacity bound, and persists.
// The transform runs exactly once, here; deferred hashes resolve at
// flush time.
func (t *Tracker) queueActivity(ctx context.Context, rec record.ActivityRecord) {
	rawURL := rec.URL

	t.mu.Lock()
	policy := privacy.Policy{
		DomainOnly:    t.cfg.Privacy.DomainOnly,
		AnonymizeURLs: t.cfg.Privacy.AnonymizeURLs,
		OmitTitles:    t.cfg.Privacy.OmitTitles,
	}
	transformed := policy.Apply(rec)

	if err := t.store.AppendActivity(ctx, &transformed); err != nil {
		t.log.Warn("activity persist failed", "error", err)
	}
	t.buffer = append(t.buffer, transformed)

	if t.session != nil {
		t.session.ActivityEvents++
		if t.session.AddDomain(rawURL) {
			if err := t.store.SaveSession(ctx, t.session); err != nil {
				t.log.Warn("session persist failed", "error", err)
			}
		}
	}

	// Capacity bound: drop oldest beyond the cap so offline periods
	// cannot grow the buffer without limit.
	if over := len(t.buffer) - BufferCap; over > 0 {
		dropped := make([]int64, 0, over)
		for _, old := range t.buffer[:over] {
			if old.RowID != 0 {
				dropped = append(dropped, old.RowID)
			}
		}
		t.buffer = append([]record.ActivityRecord(nil), t.buffer[over:]...)
		if err := t.store.DeleteActivities(ctx, dropped); err != nil {
			t.log.Warn("buffer truncation persist failed", "error", err)
		}
	}

	t.lastActivity = t.clock()
	t.metrics.SetBufferDepth(len(t.buffer))
	t.mu.Unlock()
}

// Flush snapshots the buffer, resolves deferred hashes, and submits the
// batch as one combined record. An empty buffer is a no-op with no
// network call. On failure the snapshot is prepended back onto the live
// buffer in original order, so records already captured are never lost,
// at the cost of possible duplicate delivery when the remote side
// applied a write whose acknowledgment was lost.
func (t *Tracker) Flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.flushing || len(t.buffer) == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	t.flushing = true
	snapshot := t.buffer
	t.buffer = nil
	t.metrics.SetBufferDepth(0)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.flushing = false
		t.mu.Unlock()
	}()

	// Resolve pending hashes exactly once, outside the lock.
	resolved := make([]record.ActivityRecord, len(snapshot))
	records := make([]map[string]any, len(snapshot))
	for i, rec := range snapshot {
		resolved[i] = privacy.ResolveHash(rec)
		records[i] = resolved[i].Wire()
	}

	_, err := t.client.ResilientSend(ctx, map[string]any{
		"type":    "batch",
		"records": records,
	})
	if err != nil {
		t.mu.Lock()
		t.buffer = append(resolved, t.buffer...)
		t.metrics.SetBufferDepth(len(t.buffer))
		t.mu.Unlock()
		t.metrics.FlushFailed()
		return 0, err
	}

	rowIDs := make([]int64, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.RowID != 0 {
			rowIDs = append(rowIDs, rec.RowID)
		}
	}
	if err := t.store.DeleteActivities(ctx, rowIDs); err != nil {
		t.log.Warn("delivered batch cleanup failed", "error", err)
	}

	t.metrics.FlushSucceeded()
	t.log.Debug("activity batch delivered", "records", len(records))
	return len(records), nil
}
