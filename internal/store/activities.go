package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/overlaphq/overlap/internal/models"
)

const activityColumns = `id, session_id, kind, ts, file_path, operation, files, tool_name, body, response_kind`

func scanActivity(row rowScanner) (*models.Activity, error) {
	var (
		a     models.Activity
		kind  string
		op    string
		files string
	)

	err := row.Scan(&a.ID, &a.SessionID, &kind, &a.Timestamp,
		&a.FilePath, &op, &files, &a.ToolName, &a.Text, &a.ResponseKind)
	if err != nil {
		return nil, err
	}

	a.Kind = models.ActivityKind(kind)
	a.Operation = models.FileOperation(op)
	if files != "" && files != "[]" {
		if err := json.Unmarshal([]byte(files), &a.Files); err != nil {
			return nil, fmt.Errorf("unmarshal files for activity %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// LatestActivities returns a session's most recent activity records, newest
// first. kind filters to one record kind when non-empty.
func (s *Store) LatestActivities(ctx context.Context, sessionID string, kind models.ActivityKind, limit int) ([]*models.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE session_id = ?`, activityColumns)
	args := []any{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestFileActivity returns the most recent file_op record for a session,
// or nil if the session has never touched a file.
func (s *Store) LatestFileActivity(ctx context.Context, sessionID string) (*models.Activity, error) {
	acts, err := s.LatestActivities(ctx, sessionID, models.ActivityFileOp, 1)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, nil
	}
	return acts[0], nil
}
