// Package overlap detects concurrent work on the same files, scopes, or
// directories across sessions within a repository.
package overlap

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/metrics"
	"github.com/overlaphq/overlap/internal/models"
)

// candidateLimit bounds how many concurrent sessions one detection pass
// compares against.
const candidateLimit = 50

// DetectorStore is what overlap detection needs from the relational store.
type DetectorStore interface {
	GetSessions(ctx context.Context, ids []string) (map[string]*models.Session, error)
	ActiveSessionsInRepo(ctx context.Context, repoName, excludeMember string, limit int) ([]*models.Session, error)
	LatestFileActivity(ctx context.Context, sessionID string) (*models.Activity, error)
	UpsertOverlap(ctx context.Context, o *models.Overlap) (bool, error)
}

// Notifier announces newly detected overlaps. Implementations must not block
// the detector for long; notification failures are logged, not propagated.
type Notifier interface {
	NotifyOverlap(ctx context.Context, o *models.Overlap) error
}

// Detector compares a session's file activity against the other active
// sessions in the same repository.
type Detector struct {
	store     DetectorStore
	notifier  Notifier
	metrics   *metrics.Metrics
	resultCap int
	logger    zerolog.Logger
}

// NewDetector wires the overlap detector. notifier and m may be nil.
// resultCap bounds the overlaps recorded per detection pass.
func NewDetector(st DetectorStore, notifier Notifier, m *metrics.Metrics, resultCap int, logger zerolog.Logger) *Detector {
	if resultCap <= 0 {
		resultCap = 10
	}
	return &Detector{
		store:     st,
		notifier:  notifier,
		metrics:   m,
		resultCap: resultCap,
		logger:    logger.With().Str("component", "overlap").Logger(),
	}
}

// Detect runs one detection pass for the files a session just touched.
// Matches are ranked strongest first: same file, then same scope, then same
// parent directory, capped at the configured result limit.
func (d *Detector) Detect(ctx context.Context, repoName, sessionID, memberID string, files []string) error {
	if repoName == "" || len(files) == 0 {
		return nil
	}

	sessions, err := d.store.GetSessions(ctx, []string{sessionID})
	if err != nil {
		return fmt.Errorf("loading triggering session: %w", err)
	}
	trigger := sessions[sessionID]

	candidates, err := d.store.ActiveSessionsInRepo(ctx, repoName, memberID, candidateLimit)
	if err != nil {
		return fmt.Errorf("loading candidate sessions: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	fileSet := make(map[string]struct{}, len(files))
	dirSet := make(map[string]struct{})
	for _, f := range files {
		fileSet[f] = struct{}{}
		dirSet[path.Dir(f)] = struct{}{}
	}

	var found []*models.Overlap
	now := nowMilli()

	for _, cand := range candidates {
		if len(found) >= d.resultCap {
			break
		}

		act, err := d.store.LatestFileActivity(ctx, cand.ID)
		if err != nil {
			return fmt.Errorf("loading candidate activity: %w", err)
		}

		found = d.appendMatches(found, trigger, cand, act, fileSet, dirSet, repoName, sessionID, memberID, now)
	}

	for _, o := range found {
		created, err := d.store.UpsertOverlap(ctx, o)
		if err != nil {
			return fmt.Errorf("recording overlap: %w", err)
		}
		if !created {
			continue
		}

		if d.metrics != nil {
			d.metrics.RecordOverlap(string(o.Type))
		}
		d.logger.Info().
			Str("type", string(o.Type)).
			Str("repo", o.RepoName).
			Str("member_a", o.MemberA).
			Str("member_b", o.MemberB).
			Str("file", o.FilePath).
			Msg("overlap detected")

		if d.notifier != nil {
			if err := d.notifier.NotifyOverlap(ctx, o); err != nil {
				d.logger.Warn().Err(err).Str("overlap_id", o.ID).Msg("overlap notification failed")
			}
		}
	}

	return nil
}

// appendMatches compares one candidate against the triggering session's
// touched files, strongest match type first, one overlap per (pair, type).
func (d *Detector) appendMatches(
	found []*models.Overlap,
	trigger, cand *models.Session,
	act *models.Activity,
	fileSet, dirSet map[string]struct{},
	repoName, sessionID, memberID string,
	now int64,
) []*models.Overlap {
	base := models.Overlap{
		ID:         uuid.New().String(),
		RepoName:   repoName,
		MemberA:    memberID,
		MemberB:    cand.MemberID,
		SessionA:   sessionID,
		SessionB:   cand.ID,
		DetectedAt: now,
	}

	candFiles := activityFiles(act)

	// Same file: the strongest signal.
	for _, f := range candFiles {
		if _, ok := fileSet[f]; !ok {
			continue
		}
		o := base
		o.ID = uuid.New().String()
		o.Type = models.OverlapFile
		o.Severity = models.SeverityHigh
		o.FilePath = f
		o.Description = fmt.Sprintf("%s and %s are both editing %s", o.MemberA, o.MemberB, f)
		found = append(found, &o)
		if len(found) >= d.resultCap {
			return found
		}
	}

	// Same semantic scope, when both sessions are classified.
	if trigger != nil && trigger.Scope != "" && trigger.Scope == cand.Scope {
		o := base
		o.ID = uuid.New().String()
		o.Type = models.OverlapScope
		o.Severity = models.SeverityMedium
		o.Description = fmt.Sprintf("%s and %s are both working on %s", o.MemberA, o.MemberB, cand.Scope)
		found = append(found, &o)
		if len(found) >= d.resultCap {
			return found
		}
	}

	// Same parent directory: the weakest signal.
	seenDirs := make(map[string]struct{})
	for _, f := range candFiles {
		dir := path.Dir(f)
		if _, ok := dirSet[dir]; !ok {
			continue
		}
		if _, ok := seenDirs[dir]; ok {
			continue
		}
		seenDirs[dir] = struct{}{}

		o := base
		o.ID = uuid.New().String()
		o.Type = models.OverlapDirectory
		o.Severity = models.SeverityLow
		o.DirectoryPath = dir
		o.Description = fmt.Sprintf("%s and %s are both working in %s/", o.MemberA, o.MemberB, dir)
		found = append(found, &o)
		if len(found) >= d.resultCap {
			return found
		}
	}

	return found
}

func nowMilli() int64 {
	return time.Now().UTC().UnixMilli()
}

func activityFiles(a *models.Activity) []string {
	if a == nil {
		return nil
	}
	if len(a.Files) > 0 {
		return a.Files
	}
	if a.FilePath != "" {
		return []string{a.FilePath}
	}
	return nil
}
