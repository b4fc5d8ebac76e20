// Package github enriches tracked repositories with metadata from the
// GitHub API. Enrichment is optional: without a token the engine tracks
// repos by name only.
package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/models"
)

// RepoStore is what repo enrichment needs from the relational store.
type RepoStore interface {
	GetRepos(ctx context.Context, names []string) (map[string]*models.Repo, error)
	UpdateRepoMetadata(ctx context.Context, name, defaultBranch, description string) error
}

// RepoEnricher fetches default branch and description for newly seen repos.
type RepoEnricher struct {
	client *gh.Client
	store  RepoStore
	logger zerolog.Logger
}

// NewRepoEnricher creates the enricher with a personal access token.
func NewRepoEnricher(token string, st RepoStore, logger zerolog.Logger) *RepoEnricher {
	return &RepoEnricher{
		client: gh.NewClient(nil).WithAuthToken(token),
		store:  st,
		logger: logger.With().Str("component", "repometa").Logger(),
	}
}

// EnrichRepo looks up one tracked repo on GitHub and stores its metadata.
// Repos whose remote is not a GitHub URL are skipped.
func (e *RepoEnricher) EnrichRepo(ctx context.Context, name string) error {
	repos, err := e.store.GetRepos(ctx, []string{name})
	if err != nil {
		return fmt.Errorf("loading repo: %w", err)
	}
	repo, ok := repos[name]
	if !ok {
		return nil
	}

	owner, repoName, ok := parseGitHubRepo(repo.RemoteURL, repo.Name)
	if !ok {
		e.logger.Debug().Str("repo", name).Msg("no github remote, skipping enrichment")
		return nil
	}

	ghRepo, _, err := e.client.Repositories.Get(ctx, owner, repoName)
	if err != nil {
		return fmt.Errorf("fetching %s/%s: %w", owner, repoName, err)
	}

	if err := e.store.UpdateRepoMetadata(ctx, name, ghRepo.GetDefaultBranch(), ghRepo.GetDescription()); err != nil {
		return fmt.Errorf("storing repo metadata: %w", err)
	}

	e.logger.Info().Str("repo", name).Str("default_branch", ghRepo.GetDefaultBranch()).Msg("repo metadata enriched")
	return nil
}

// parseGitHubRepo extracts owner/repo from a remote URL, falling back to the
// repo name when it already has the owner/repo form.
func parseGitHubRepo(remoteURL, name string) (owner, repo string, ok bool) {
	candidate := ""
	switch {
	case strings.HasPrefix(remoteURL, "git@github.com:"):
		candidate = strings.TrimPrefix(remoteURL, "git@github.com:")
	case strings.Contains(remoteURL, "github.com/"):
		_, candidate, _ = strings.Cut(remoteURL, "github.com/")
	case strings.Count(name, "/") == 1:
		candidate = name
	default:
		return "", "", false
	}

	candidate = strings.TrimSuffix(strings.TrimSuffix(candidate, "/"), ".git")
	parts := strings.Split(candidate, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
