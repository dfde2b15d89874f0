package storage

import "database/sql"

// migrateV001 creates the initial NobleTrack schema: the singleton active
// session row, the ordered activity buffer, the task-cache mirror of the
// remote store, and the meta key/value table carrying the data version.
// Every statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// At most one active session process-wide, enforced by the
		// single-row constraint.
		`CREATE TABLE IF NOT EXISTS active_session (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			server_id       TEXT NOT NULL DEFAULT '',
			user            TEXT NOT NULL,
			start           DATETIME NOT NULL,
			last_tick       DATETIME NOT NULL,
			project_tag     TEXT NOT NULL DEFAULT '',
			domains         TEXT NOT NULL DEFAULT '[]',
			docs            TEXT NOT NULL DEFAULT '[]',
			activity_events INTEGER NOT NULL DEFAULT 0
		)`,

		// Insertion order is delivery order; the AUTOINCREMENT rowid is
		// the ordering key.
		`CREATE TABLE IF NOT EXISTS activity_buffer (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user       TEXT NOT NULL,
			url        TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			ts         DATETIME NOT NULL,
			sampled    BOOLEAN NOT NULL DEFAULT 0,
			hash_state INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS task_cache (
			id           TEXT PRIMARY KEY,
			user         TEXT NOT NULL DEFAULT '',
			task         TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'TODO',
			created_at   TEXT NOT NULL DEFAULT '',
			completed_at TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_buffer_ts ON activity_buffer(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_task_cache_user    ON task_cache(user)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
