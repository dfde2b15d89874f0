package tracker

import (
	"context"
	"time"

	"github.com/runnerr0/nobletrack/internal/record"
)

// AddTask creates a task in the remote store and mirrors it into the
// local cache. Delivery failure propagates to the caller (surfaced as a
// UI status message), leaving the cache untouched.
func (t *Tracker) AddTask(ctx context.Context, user, title string) (record.Task, error) {
	created := t.clock().UTC().Format(time.RFC3339)
	payload := map[string]any{
		"type":        "task",
		"user":        user,
		"task":        title,
		"status":      "TODO",
		"createdAt":   created,
		"completedAt": nil,
	}

	res, err := t.client.ResilientSend(ctx, payload)
	if err != nil {
		return record.Task{}, err
	}

	task := taskFromResponse(res, record.Task{
		User: user, Task: title, Status: "TODO", CreatedAt: created,
	})

	t.mu.Lock()
	t.tasks = append(t.tasks, task)
	t.mu.Unlock()

	if task.ID != "" {
		if err := t.store.UpsertTask(ctx, task); err != nil {
			t.log.Warn("task cache persist failed", "error", err)
		}
	}
	return task, nil
}

// UpdateTaskStatus moves a task to status in the remote store and
// reconciles the cache with the server's response. Used directly for
// status changes and for undo (re-sending the previous status).
func (t *Tracker) UpdateTaskStatus(ctx context.Context, taskID, status string) (record.Task, error) {
	payload := map[string]any{
		"type":   "taskStatus",
		"id":     taskID,
		"status": status,
	}
	if status == "DONE" {
		payload["completedAt"] = t.clock().UTC().Format(time.RFC3339)
	} else {
		payload["completedAt"] = nil
	}

	res, err := t.client.ResilientSend(ctx, payload)
	if err != nil {
		return record.Task{}, err
	}

	updated := taskFromResponse(res, record.Task{ID: taskID, Status: status})

	t.mu.Lock()
	for i := range t.tasks {
		if t.tasks[i].ID == updated.ID {
			t.tasks[i] = updated
			break
		}
	}
	t.mu.Unlock()

	if updated.ID != "" {
		if err := t.store.UpsertTask(ctx, updated); err != nil {
			t.log.Warn("task cache persist failed", "error", err)
		}
	}
	return updated, nil
}

// taskFromResponse builds a Task from the server's echo of a write,
// falling back to the optimistic local values for fields it omits.
func taskFromResponse(res map[string]any, fallback record.Task) record.Task {
	task := fallback
	if v, ok := res["id"].(string); ok && v != "" {
		task.ID = v
	}
	if v, ok := res["user"].(string); ok && v != "" {
		task.User = v
	}
	if v, ok := res["task"].(string); ok && v != "" {
		task.Task = v
	}
	if v, ok := res["status"].(string); ok && v != "" {
		task.Status = v
	}
	if v, ok := res["createdAt"].(string); ok && v != "" {
		task.CreatedAt = v
	}
	if v, ok := res["completedAt"].(string); ok {
		task.CompletedAt = v
	}
	return task
}

// LogDocument forwards a referenced-document event and, while a session
// is active, records the document name on the session in first-seen
// order.
func (t *Tracker) LogDocument(ctx context.Context, doc record.Document) (map[string]any, error) {
	payload := map[string]any{
		"type":      "document",
		"user":      doc.User,
		"name":      doc.Name,
		"timestamp": t.clock().UTC().Format(time.RFC3339),
	}

	res, err := t.client.ResilientSend(ctx, payload)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.session != nil && t.session.AddDoc(doc.Name) {
		if err := t.store.SaveSession(ctx, t.session); err != nil {
			t.log.Warn("session persist failed", "error", err)
		}
	}
	t.mu.Unlock()

	return res, nil
}

// FetchDashboard retrieves the remote dashboard aggregate for a user.
func (t *Tracker) FetchDashboard(ctx context.Context, user string) (map[string]any, error) {
	return t.client.FetchDashboard(ctx, user)
}

// hydrateTasks replaces the task cache with the remote list. Best
// effort: any failure leaves the existing cache in place.
func (t *Tracker) hydrateTasks(ctx context.Context) {
	tasks, err := t.client.FetchTasks(ctx)
	if err != nil {
		t.log.Debug("task hydration skipped", "error", err)
		return
	}

	t.mu.Lock()
	t.tasks = tasks
	t.mu.Unlock()

	if err := t.store.ReplaceTasks(ctx, tasks); err != nil {
		t.log.Warn("task cache persist failed", "error", err)
	}
	t.log.Debug("task cache hydrated", "tasks", len(tasks))
}

// ReportError sends an error telemetry record through the resilient
// path, swallowing any failure. A no-op when telemetry is disabled.
func (t *Tracker) ReportError(level, message, stack string) {
	if !t.TelemetryEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		_, err := t.client.ResilientSend(ctx, map[string]any{
			"type":     "telemetry",
			"level":    level,
			"message":  message,
			"stack":    stack,
			"instance": t.instanceID,
			"ts":       t.clock().UTC().Format(time.RFC3339),
		})
		if err != nil {
			t.log.Debug("error telemetry dropped", "error", err)
		}
	}()
}
