package store

import (
	"context"
	"fmt"

	"github.com/overlaphq/overlap/internal/models"
)

// UpsertOverlap records a detected overlap. A repeat detection of the same
// (type, session pair, path) refreshes detected_at instead of creating a
// second record. Returns true when the pair was previously unseen.
func (s *Store) UpsertOverlap(ctx context.Context, o *models.Overlap) (bool, error) {
	var existing int
	check := s.rebind(`
	SELECT COUNT(*) FROM overlaps
	WHERE type = ? AND session_a = ? AND session_b = ? AND file_path = ? AND directory_path = ?`)
	err := s.db.QueryRowContext(ctx, check,
		string(o.Type), o.SessionA, o.SessionB, o.FilePath, o.DirectoryPath).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}

	query := s.rebind(`
	INSERT INTO overlaps (id, type, severity, repo_name, member_a, member_b,
		session_a, session_b, file_path, directory_path, description, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (type, session_a, session_b, file_path, directory_path) DO UPDATE SET
		severity    = excluded.severity,
		description = excluded.description,
		detected_at = excluded.detected_at`)

	_, err = s.db.ExecContext(ctx, query,
		o.ID, string(o.Type), string(o.Severity), o.RepoName,
		o.MemberA, o.MemberB, o.SessionA, o.SessionB,
		o.FilePath, o.DirectoryPath, o.Description, o.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert overlap: %w", err)
	}
	return existing == 0, nil
}

// ListOverlaps returns overlaps detected at or after since, newest first,
// optionally filtered by repo.
func (s *Store) ListOverlaps(ctx context.Context, repoName string, since int64, limit int) ([]*models.Overlap, error) {
	query := `
	SELECT id, type, severity, repo_name, member_a, member_b,
		session_a, session_b, file_path, directory_path, description, detected_at
	FROM overlaps WHERE detected_at >= ?`
	args := []any{since}
	if repoName != "" {
		query += ` AND repo_name = ?`
		args = append(args, repoName)
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlaps: %w", err)
	}
	defer rows.Close()

	var out []*models.Overlap
	for rows.Next() {
		var (
			o        models.Overlap
			typ      string
			severity string
		)
		err := rows.Scan(&o.ID, &typ, &severity, &o.RepoName, &o.MemberA, &o.MemberB,
			&o.SessionA, &o.SessionB, &o.FilePath, &o.DirectoryPath, &o.Description, &o.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overlap: %w", err)
		}
		o.Type = models.OverlapType(typ)
		o.Severity = models.OverlapSeverity(severity)
		out = append(out, &o)
	}
	return out, rows.Err()
}
