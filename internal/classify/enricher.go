package classify

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/models"
)

// recentActivityLimit bounds how much history feeds one classification.
const recentActivityLimit = 20

// EnricherStore is what session enrichment needs from the relational store.
type EnricherStore interface {
	GetSessions(ctx context.Context, ids []string) (map[string]*models.Session, error)
	LatestActivities(ctx context.Context, sessionID string, kind models.ActivityKind, limit int) ([]*models.Activity, error)
	UpdateEnrichment(ctx context.Context, sessionID, scope, summary string, now int64) error
}

// Enricher attaches classification results to sessions. Classification
// failures are logged and swallowed: the session simply stays unenriched
// until a later batch retries.
type Enricher struct {
	store      EnricherStore
	classifier Classifier
	throttle   time.Duration
	logger     zerolog.Logger

	now func() time.Time
}

// NewEnricher wires session enrichment. throttle suppresses re-classification
// of a session enriched more recently than that (heartbeat-heavy sessions
// would otherwise reclassify constantly).
func NewEnricher(st EnricherStore, classifier Classifier, throttle time.Duration, logger zerolog.Logger) *Enricher {
	return &Enricher{
		store:      st,
		classifier: classifier,
		throttle:   throttle,
		logger:     logger.With().Str("component", "enricher").Logger(),
		now:        time.Now,
	}
}

// Classify derives and stores the session's scope and summary from its
// recent file activity.
func (e *Enricher) Classify(ctx context.Context, sessionID string) error {
	now := e.now().UTC()

	sess, err := e.load(ctx, sessionID)
	if err != nil || sess == nil {
		return err
	}

	if e.throttle > 0 && sess.EnrichedAt > 0 {
		since := now.UnixMilli() - sess.EnrichedAt
		if since < e.throttle.Milliseconds() {
			e.logger.Debug().Str("session_id", sessionID).Msg("enrichment throttled")
			return nil
		}
	}

	files, toolContext, err := e.recentFiles(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	res, err := e.classifier.Classify(ctx, files, toolContext)
	if err != nil {
		// No classification is not an error for the session itself.
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("classification failed")
		return nil
	}
	if res.Scope == "" && res.Summary == "" {
		return nil
	}

	return e.store.UpdateEnrichment(ctx, sessionID, res.Scope, res.Summary, now.UnixMilli())
}

// Summarize produces the final summary for an ended session from its full
// recent activity, prompts included.
func (e *Enricher) Summarize(ctx context.Context, sessionID string) error {
	now := e.now().UTC()

	sess, err := e.load(ctx, sessionID)
	if err != nil || sess == nil {
		return err
	}

	files, toolContext, err := e.recentFiles(ctx, sessionID)
	if err != nil {
		return err
	}

	prompts, err := e.store.LatestActivities(ctx, sessionID, models.ActivityPrompt, 1)
	if err != nil {
		return err
	}
	if toolContext == "" && len(prompts) > 0 {
		toolContext = firstLine(prompts[0].Text)
	}

	if len(files) == 0 {
		return nil
	}

	res, err := e.classifier.Classify(ctx, files, toolContext)
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("final summary failed")
		return nil
	}

	scope := res.Scope
	if scope == "" {
		scope = sess.Scope
	}
	if scope == "" && res.Summary == "" {
		return nil
	}

	return e.store.UpdateEnrichment(ctx, sessionID, scope, res.Summary, now.UnixMilli())
}

func (e *Enricher) load(ctx context.Context, sessionID string) (*models.Session, error) {
	sessions, err := e.store.GetSessions(ctx, []string{sessionID})
	if err != nil {
		return nil, err
	}
	sess, ok := sessions[sessionID]
	if !ok {
		e.logger.Debug().Str("session_id", sessionID).Msg("session gone before enrichment")
		return nil, nil
	}
	return sess, nil
}

// recentFiles collects the distinct files touched by the session's latest
// file operations, newest first, plus the most recent tool name.
func (e *Enricher) recentFiles(ctx context.Context, sessionID string) ([]string, string, error) {
	acts, err := e.store.LatestActivities(ctx, sessionID, models.ActivityFileOp, recentActivityLimit)
	if err != nil {
		return nil, "", err
	}

	var files []string
	seen := make(map[string]struct{})
	toolContext := ""
	for _, a := range acts {
		if toolContext == "" && a.ToolName != "" {
			toolContext = a.ToolName
		}
		for _, f := range activityFiles(a) {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files, toolContext, nil
}

func activityFiles(a *models.Activity) []string {
	if len(a.Files) > 0 {
		return a.Files
	}
	if a.FilePath != "" {
		return []string{a.FilePath}
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}
