package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repos (
		name           TEXT PRIMARY KEY,
		remote_url     TEXT NOT NULL DEFAULT '',
		default_branch TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		created_at     BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		member_id        TEXT NOT NULL,
		repo_name        TEXT REFERENCES repos(name),
		branch           TEXT NOT NULL DEFAULT '',
		worktree         TEXT NOT NULL DEFAULT '',
		device_name      TEXT NOT NULL DEFAULT '',
		hostname         TEXT NOT NULL DEFAULT '',
		is_remote        BIGINT NOT NULL DEFAULT 0,
		status           TEXT NOT NULL DEFAULT 'active',
		started_at       BIGINT NOT NULL,
		last_activity_at BIGINT NOT NULL,
		ended_at         BIGINT,
		event_count      BIGINT NOT NULL DEFAULT 0,
		turns            BIGINT,
		cost_usd         DOUBLE PRECISION,
		input_tokens     BIGINT,
		output_tokens    BIGINT,
		scope            TEXT NOT NULL DEFAULT '',
		summary          TEXT NOT NULL DEFAULT '',
		enriched_at      BIGINT NOT NULL DEFAULT 0,
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_activity_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_repo ON sessions(repo_name, status);
	CREATE INDEX IF NOT EXISTS idx_sessions_member ON sessions(member_id);

	CREATE TABLE IF NOT EXISTS activities (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id),
		kind          TEXT NOT NULL,
		ts            BIGINT NOT NULL,
		file_path     TEXT NOT NULL DEFAULT '',
		operation     TEXT NOT NULL DEFAULT '',
		files         TEXT NOT NULL DEFAULT '[]',
		tool_name     TEXT NOT NULL DEFAULT '',
		body          TEXT NOT NULL DEFAULT '',
		response_kind TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id, ts);
	CREATE INDEX IF NOT EXISTS idx_activities_session_kind ON activities(session_id, kind, ts);

	CREATE TABLE IF NOT EXISTS overlaps (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		severity       TEXT NOT NULL,
		repo_name      TEXT NOT NULL,
		member_a       TEXT NOT NULL,
		member_b       TEXT NOT NULL,
		session_a      TEXT NOT NULL,
		session_b      TEXT NOT NULL,
		file_path      TEXT NOT NULL DEFAULT '',
		directory_path TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		detected_at    BIGINT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_overlaps_pair
		ON overlaps(type, session_a, session_b, file_path, directory_path);
	CREATE INDEX IF NOT EXISTS idx_overlaps_repo ON overlaps(repo_name, detected_at);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	setVersion := s.rebind(`INSERT INTO meta(key, value) VALUES ('schema_version', '1')
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := s.db.Exec(setVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}
