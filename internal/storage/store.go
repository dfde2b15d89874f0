// Package storage persists the tracker's in-flight state (active
// session, pending activity buffer, task cache, data version) so a
// process restart does not lose anything already captured.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/nobletrack/internal/record"
)

// Store defines the interface for NobleTrack state persistence.
type Store interface {
	LoadSession(ctx context.Context) (*record.Session, error)
	SaveSession(ctx context.Context, s *record.Session) error
	ClearSession(ctx context.Context) error

	LoadBuffer(ctx context.Context) ([]record.ActivityRecord, error)
	AppendActivity(ctx context.Context, rec *record.ActivityRecord) error
	DeleteActivities(ctx context.Context, rowIDs []int64) error
	ClearBuffer(ctx context.Context) error

	LoadTasks(ctx context.Context) ([]record.Task, error)
	ReplaceTasks(ctx context.Context, tasks []record.Task) error
	UpsertTask(ctx context.Context, task record.Task) error

	DataVersion(ctx context.Context) (int, error)
	SetDataVersion(ctx context.Context, v int) error

	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements for the hot paths.
	insertActivity *sql.Stmt
	deleteActivity *sql.Stmt
	saveSession    *sql.Stmt
	upsertTask     *sql.Stmt
}

// Open opens (creating directories as needed) and migrates the SQLite
// database at path, returning a ready store.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a SQLiteStore from an already-opened and
// migrated database. Closing the store closes the database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertActivity, err = s.db.Prepare(`
		INSERT INTO activity_buffer (user, url, title, ts, sampled, hash_state)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.deleteActivity, err = s.db.Prepare(`DELETE FROM activity_buffer WHERE id = ?`)
	if err != nil {
		return err
	}

	s.saveSession, err = s.db.Prepare(`
		INSERT INTO active_session (id, server_id, user, start, last_tick, project_tag, domains, docs, activity_events)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			user = excluded.user,
			start = excluded.start,
			last_tick = excluded.last_tick,
			project_tag = excluded.project_tag,
			domains = excluded.domains,
			docs = excluded.docs,
			activity_events = excluded.activity_events
	`)
	if err != nil {
		return err
	}

	s.upsertTask, err = s.db.Prepare(`
		INSERT INTO task_cache (id, user, task, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user = excluded.user,
			task = excluded.task,
			status = excluded.status,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at
	`)
	return err
}

// parseTimestamp tries the timestamp formats SQLite may hand back.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// LoadSession returns the persisted active session, or nil when none.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*record.Session, error) {
	var (
		sess        record.Session
		startStr    string
		tickStr     string
		domainsJSON string
		docsJSON    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, user, start, last_tick, project_tag, domains, docs, activity_events
		FROM active_session WHERE id = 1
	`).Scan(&sess.ID, &sess.User, &startStr, &tickStr, &sess.ProjectTag, &domainsJSON, &docsJSON, &sess.ActivityEvents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if sess.Start, err = parseTimestamp(startStr); err != nil {
		return nil, fmt.Errorf("load session start: %w", err)
	}
	sess.LastTick, _ = parseTimestamp(tickStr)
	if err := json.Unmarshal([]byte(domainsJSON), &sess.Domains); err != nil {
		return nil, fmt.Errorf("load session domains: %w", err)
	}
	if err := json.Unmarshal([]byte(docsJSON), &sess.Docs); err != nil {
		return nil, fmt.Errorf("load session docs: %w", err)
	}
	return &sess, nil
}

// SaveSession upserts the singleton active-session row.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *record.Session) error {
	domains, err := json.Marshal(sess.Domains)
	if err != nil {
		return fmt.Errorf("encode domains: %w", err)
	}
	docs, err := json.Marshal(sess.Docs)
	if err != nil {
		return fmt.Errorf("encode docs: %w", err)
	}

	_, err = s.saveSession.ExecContext(ctx,
		sess.ID, sess.User,
		sess.Start.UTC().Format(time.RFC3339),
		sess.LastTick.UTC().Format(time.RFC3339),
		sess.ProjectTag, string(domains), string(docs), sess.ActivityEvents,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearSession removes the persisted active session, if any.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM active_session"); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// LoadBuffer returns all buffered activity records in insertion order,
// with RowID populated.
func (s *SQLiteStore) LoadBuffer(ctx context.Context) ([]record.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, url, title, ts, sampled, hash_state
		FROM activity_buffer ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load buffer: %w", err)
	}
	defer rows.Close()

	var records []record.ActivityRecord
	for rows.Next() {
		var (
			rec   record.ActivityRecord
			tsStr string
			state int
		)
		if err := rows.Scan(&rec.RowID, &rec.User, &rec.URL, &rec.Title, &tsStr, &rec.Sampled, &state); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		rec.Timestamp, _ = parseTimestamp(tsStr)
		rec.HashState = record.HashState(state)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if records == nil {
		records = []record.ActivityRecord{}
	}
	return records, nil
}

// AppendActivity inserts a record at the end of the buffer and fills in
// its RowID.
func (s *SQLiteStore) AppendActivity(ctx context.Context, rec *record.ActivityRecord) error {
	res, err := s.insertActivity.ExecContext(ctx,
		rec.User, rec.URL, rec.Title,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Sampled, int(rec.HashState),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	rec.RowID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append activity id: %w", err)
	}
	return nil
}

// DeleteActivities removes the given buffer rows (after successful
// delivery or capacity truncation).
func (s *SQLiteStore) DeleteActivities(ctx context.Context, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.deleteActivity)
	for _, id := range rowIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete activity %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearBuffer deletes every buffered activity record.
func (s *SQLiteStore) ClearBuffer(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM activity_buffer"); err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}
	return nil
}

// LoadTasks returns the cached task mirror.
func (s *SQLiteStore) LoadTasks(ctx context.Context) ([]record.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, task, status, created_at, completed_at
		FROM task_cache ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []record.Task
	for rows.Next() {
		var t record.Task
		if err := rows.Scan(&t.ID, &t.User, &t.Task, &t.Status, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []record.Task{}
	}
	return tasks, nil
}

// ReplaceTasks swaps the entire cache for the given list in one
// transaction (used on hydration from the remote store).
func (s *SQLiteStore) ReplaceTasks(ctx context.Context, tasks []record.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_cache"); err != nil {
		return fmt.Errorf("clear task cache: %w", err)
	}
	stmt := tx.StmtContext(ctx, s.upsertTask)
	for _, t := range tasks {
		if _, err := stmt.ExecContext(ctx, t.ID, t.User, t.Task, t.Status, t.CreatedAt, t.CompletedAt); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertTask inserts or updates one cached task.
func (s *SQLiteStore) UpsertTask(ctx context.Context, t record.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("upsert task: empty id")
	}
	if _, err := s.upsertTask.ExecContext(ctx, t.ID, t.User, t.Task, t.Status, t.CreatedAt, t.CompletedAt); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// DataVersion returns the stored schema/data version tag, zero when unset.
func (s *SQLiteStore) DataVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = 'data_version'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("data version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("data version parse: %w", err)
	}
	return v, nil
}

// SetDataVersion stamps the data version tag.
func (s *SQLiteStore) SetDataVersion(ctx context.Context, v int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('data_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, strconv.Itoa(v))
	if err != nil {
		return fmt.Errorf("set data version: %w", err)
	}
	return nil
}

// Close releases prepared statements and the underlying database.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.insertActivity, s.deleteActivity, s.saveSession, s.upsertTask,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
