package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overlaphq/overlap/internal/models"
)

const sessionColumns = `id, member_id, repo_name, branch, worktree, device_name, hostname, is_remote,
	status, started_at, last_activity_at, ended_at, event_count,
	turns, cost_usd, input_tokens, output_tokens,
	scope, summary, enriched_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess      models.Session
		repoName  sql.NullString
		isRemote  int64
		status    string
		endedAt   sql.NullInt64
		turns     sql.NullInt64
		costUSD   sql.NullFloat64
		inTokens  sql.NullInt64
		outTokens sql.NullInt64
	)

	err := row.Scan(
		&sess.ID, &sess.MemberID, &repoName, &sess.Branch, &sess.Worktree,
		&sess.DeviceName, &sess.Hostname, &isRemote,
		&status, &sess.StartedAt, &sess.LastActivityAt, &endedAt, &sess.EventCount,
		&turns, &costUSD, &inTokens, &outTokens,
		&sess.Scope, &sess.Summary, &sess.EnrichedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.RepoName = repoName.String
	sess.IsRemote = isRemote != 0
	sess.Status = models.SessionStatus(status)
	sess.EndedAt = endedAt.Int64
	if turns.Valid {
		sess.Turns = &turns.Int64
	}
	if costUSD.Valid {
		sess.CostUSD = &costUSD.Float64
	}
	if inTokens.Valid {
		sess.InputTokens = &inTokens.Int64
	}
	if outTokens.Valid {
		sess.OutputTokens = &outTokens.Int64
	}
	return &sess, nil
}

// GetSessions resolves the given session IDs in one round-trip. Missing IDs
// are simply absent from the result map.
func (s *Store) GetSessions(ctx context.Context, ids []string) (map[string]*models.Session, error) {
	out := make(map[string]*models.Session, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := s.rebind(fmt.Sprintf(
		`SELECT %s FROM sessions WHERE id IN (%s)`, sessionColumns, placeholders(len(ids))))

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out[sess.ID] = sess
	}
	return out, rows.Err()
}

// LiveSessions returns every open session plus sessions that ended at or
// after endedSince, newest activity first. This is the stream's full fetch:
// recently ended sessions must appear once so subscribers see the terminal
// state.
func (s *Store) LiveSessions(ctx context.Context, endedSince int64) ([]*models.Session, error) {
	query := s.rebind(fmt.Sprintf(`
	SELECT %s FROM sessions
	WHERE status IN ('active', 'stale') OR (status = 'ended' AND ended_at >= ?)
	ORDER BY last_activity_at DESC`, sessionColumns))

	rows, err := s.db.QueryContext(ctx, query, endedSince)
	if err != nil {
		return nil, fmt.Errorf("failed to list live sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ChangeSignature is the cheap aggregate the stream polls between full
// fetches. Any session mutation (including enrichment, which bumps
// updated_at) changes at least one component.
type ChangeSignature struct {
	OpenCount     int64
	MaxUpdatedAt  int64
	SumEventCount int64
}

// Signature computes the current change signature over open sessions.
func (s *Store) Signature(ctx context.Context) (ChangeSignature, error) {
	query := `
	SELECT COUNT(*), COALESCE(MAX(updated_at), 0), COALESCE(SUM(event_count), 0)
	FROM sessions WHERE status IN ('active', 'stale')`

	var sig ChangeSignature
	err := s.db.QueryRowContext(ctx, query).Scan(&sig.OpenCount, &sig.MaxUpdatedAt, &sig.SumEventCount)
	if err != nil {
		return sig, fmt.Errorf("failed to compute change signature: %w", err)
	}
	return sig, nil
}

// ActiveSessionsInRepo returns other members' active sessions in a repo,
// most recent first, capped to limit.
func (s *Store) ActiveSessionsInRepo(ctx context.Context, repoName, excludeMember string, limit int) ([]*models.Session, error) {
	query := s.rebind(fmt.Sprintf(`
	SELECT %s FROM sessions
	WHERE repo_name = ? AND status = 'active' AND member_id <> ?
	ORDER BY last_activity_at DESC
	LIMIT ?`, sessionColumns))

	rows, err := s.db.QueryContext(ctx, query, repoName, excludeMember, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions in repo %s: %w", repoName, err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateEnrichment attaches a classification result to a session. Bumps
// updated_at so the stream signature changes.
func (s *Store) UpdateEnrichment(ctx context.Context, sessionID, scope, summary string, now int64) error {
	query := s.rebind(`
	UPDATE sessions SET scope = ?, summary = ?, enriched_at = ?, updated_at = ?
	WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, scope, summary, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update enrichment for %s: %w", sessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// SweepStale demotes active sessions whose last activity predates cutoff.
// Returns the number of sessions demoted.
func (s *Store) SweepStale(ctx context.Context, cutoff, now int64) (int64, error) {
	query := s.rebind(`
	UPDATE sessions SET status = 'stale', updated_at = ?
	WHERE status = 'active' AND last_activity_at < ?`)

	res, err := s.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// SweepEnded ends stale sessions whose last activity predates cutoff.
// Returns the number of sessions ended.
func (s *Store) SweepEnded(ctx context.Context, cutoff, now int64) (int64, error) {
	query := s.rebind(`
	UPDATE sessions SET status = 'ended', ended_at = ?, updated_at = ?
	WHERE status = 'stale' AND last_activity_at < ?`)

	res, err := s.db.ExecContext(ctx, query, now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep ended sessions: %w", err)
	}
	return res.RowsAffected()
}
