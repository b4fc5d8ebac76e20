package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	oerrors "github.com/overlaphq/overlap/internal/errors"
	"github.com/overlaphq/overlap/internal/models"
)

// Mutation is one planned write. The batch planner builds an ordered list of
// mutations; ApplyMutations commits them as a single atomic unit.
type Mutation interface {
	apply(ctx context.Context, tx *sql.Tx, s *Store) error
}

// ApplyMutations executes every mutation inside one transaction.
// Either all statements land or none do.
func (s *Store) ApplyMutations(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &oerrors.StoreError{Op: "begin", Err: err}
	}

	for _, m := range muts {
		if err := m.apply(ctx, tx, s); err != nil {
			_ = tx.Rollback()
			return &oerrors.StoreError{Op: "apply", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &oerrors.StoreError{Op: "commit", Err: err}
	}
	return nil
}

// PutRepo lazily creates a repo row. An existing row wins; repo metadata is
// refined later by background enrichment, never by ingest.
type PutRepo struct {
	Repo models.Repo
}

func (m PutRepo) apply(ctx context.Context, tx *sql.Tx, s *Store) error {
	query := s.rebind(`
	INSERT INTO repos (name, remote_url, default_branch, description, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (name) DO NOTHING`)

	_, err := tx.ExecContext(ctx, query,
		m.Repo.Name, m.Repo.RemoteURL, m.Repo.DefaultBranch, m.Repo.Description, m.Repo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put repo %s: %w", m.Repo.Name, err)
	}
	return nil
}

// PutSession writes the session state the planner computed. On conflict the
// lifecycle fields are last-writer-wins while aggregate stats and session
// metadata merge first-non-null-wins, so a concurrent batch can never clobber
// recorded stats with nulls.
type PutSession struct {
	Session models.Session
}

func (m PutSession) apply(ctx context.Context, tx *sql.Tx, s *Store) error {
	sess := m.Session

	query := s.rebind(`
	INSERT INTO sessions (
		id, member_id, repo_name, branch, worktree, device_name, hostname, is_remote,
		status, started_at, last_activity_at, ended_at, event_count,
		turns, cost_usd, input_tokens, output_tokens,
		scope, summary, enriched_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		repo_name        = COALESCE(sessions.repo_name, excluded.repo_name),
		branch           = CASE WHEN sessions.branch <> '' THEN sessions.branch ELSE excluded.branch END,
		worktree         = CASE WHEN sessions.worktree <> '' THEN sessions.worktree ELSE excluded.worktree END,
		device_name      = CASE WHEN sessions.device_name <> '' THEN sessions.device_name ELSE excluded.device_name END,
		hostname         = CASE WHEN sessions.hostname <> '' THEN sessions.hostname ELSE excluded.hostname END,
		is_remote        = CASE WHEN sessions.is_remote <> 0 THEN sessions.is_remote ELSE excluded.is_remote END,
		status           = excluded.status,
		last_activity_at = excluded.last_activity_at,
		ended_at         = excluded.ended_at,
		event_count      = excluded.event_count,
		turns            = COALESCE(sessions.turns, excluded.turns),
		cost_usd         = COALESCE(sessions.cost_usd, excluded.cost_usd),
		input_tokens     = COALESCE(sessions.input_tokens, excluded.input_tokens),
		output_tokens    = COALESCE(sessions.output_tokens, excluded.output_tokens),
		updated_at       = excluded.updated_at`)

	_, err := tx.ExecContext(ctx, query,
		sess.ID, sess.MemberID, nullString(sess.RepoName),
		sess.Branch, sess.Worktree, sess.DeviceName, sess.Hostname, boolToInt(sess.IsRemote),
		string(sess.Status), sess.StartedAt, sess.LastActivityAt, nullInt64(sess.EndedAt), sess.EventCount,
		nullInt64Ptr(sess.Turns), nullFloat64Ptr(sess.CostUSD), nullInt64Ptr(sess.InputTokens), nullInt64Ptr(sess.OutputTokens),
		sess.Scope, sess.Summary, sess.EnrichedAt, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

// InsertActivity appends one immutable activity record.
type InsertActivity struct {
	Activity models.Activity
}

func (m InsertActivity) apply(ctx context.Context, tx *sql.Tx, s *Store) error {
	a := m.Activity

	files := "[]"
	if len(a.Files) > 0 {
		raw, err := json.Marshal(a.Files)
		if err != nil {
			return fmt.Errorf("marshal files for activity %s: %w", a.ID, err)
		}
		files = string(raw)
	}

	query := s.rebind(`
	INSERT INTO activities (id, session_id, kind, ts, file_path, operation, files, tool_name, body, response_kind)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := tx.ExecContext(ctx, query,
		a.ID, a.SessionID, string(a.Kind), a.Timestamp,
		a.FilePath, string(a.Operation), files, a.ToolName,
		a.Text, a.ResponseKind,
	)
	if err != nil {
		return fmt.Errorf("insert activity %s: %w", a.ID, err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat64Ptr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
