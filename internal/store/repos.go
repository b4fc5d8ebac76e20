package store

import (
	"context"
	"fmt"

	"github.com/overlaphq/overlap/internal/models"
)

// GetRepos resolves the given repo names in one round-trip. Missing names
// are absent from the result map.
func (s *Store) GetRepos(ctx context.Context, names []string) (map[string]*models.Repo, error) {
	out := make(map[string]*models.Repo, len(names))
	if len(names) == 0 {
		return out, nil
	}

	query := s.rebind(fmt.Sprintf(
		`SELECT name, remote_url, default_branch, description, created_at
		 FROM repos WHERE name IN (%s)`, placeholders(len(names))))

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get repos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Repo
		if err := rows.Scan(&r.Name, &r.RemoteURL, &r.DefaultBranch, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		out[r.Name] = &r
	}
	return out, rows.Err()
}

// UpdateRepoMetadata fills in metadata fetched by background enrichment.
// Only overwrites with non-empty values.
func (s *Store) UpdateRepoMetadata(ctx context.Context, name, defaultBranch, description string) error {
	query := s.rebind(`
	UPDATE repos SET
		default_branch = CASE WHEN ? <> '' THEN ? ELSE default_branch END,
		description    = CASE WHEN ? <> '' THEN ? ELSE description END
	WHERE name = ?`)

	_, err := s.db.ExecContext(ctx, query, defaultBranch, defaultBranch, description, description, name)
	if err != nil {
		return fmt.Errorf("failed to update repo metadata for %s: %w", name, err)
	}
	return nil
}
