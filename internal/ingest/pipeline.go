package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/metrics"
	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/store"
)

// PipelineStore is what the pipeline needs from the relational store.
type PipelineStore interface {
	EntityReader
	ApplyMutations(ctx context.Context, muts []store.Mutation) error
}

// TaskSubmitter dispatches fire-and-forget background work. Submit returns
// false when the work was dropped (queue full); enrichment is best-effort so
// the pipeline only logs that.
type TaskSubmitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Detector runs overlap detection for one session's file activity.
type Detector interface {
	Detect(ctx context.Context, repoName, sessionID, memberID string, files []string) error
}

// Enricher attaches classification results and final summaries to sessions.
type Enricher interface {
	Classify(ctx context.Context, sessionID string) error
	Summarize(ctx context.Context, sessionID string) error
}

// RepoEnricher fetches external metadata for newly seen repos.
type RepoEnricher interface {
	EnrichRepo(ctx context.Context, name string) error
}

// Result is the client-visible outcome of one ingested batch. The caller is
// expected to retry only the indices listed in Errors, never the whole batch.
type Result struct {
	Processed             int          `json:"processed"`
	Errors                []EventError `json:"errors"`
	SessionsCreated       int          `json:"sessions_created"`
	SessionsEnded         int          `json:"sessions_ended"`
	FileOpsCreated        int          `json:"file_ops_created"`
	PromptsCreated        int          `json:"prompts_created"`
	AgentResponsesCreated int          `json:"agent_responses_created"`
}

// Pipeline orchestrates one batch: authorization check, planning, one atomic
// multi-statement write, then background enrichment dispatch.
type Pipeline struct {
	store        PipelineStore
	planner      *Planner
	tasks        TaskSubmitter
	detector     Detector
	enricher     Enricher
	repoEnricher RepoEnricher
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	now func() time.Time
}

// NewPipeline wires the ingestion pipeline. detector, enricher, repoEnricher,
// tasks and m may be nil; enrichment is then disabled.
func NewPipeline(
	st PipelineStore,
	planner *Planner,
	tasks TaskSubmitter,
	detector Detector,
	enricher Enricher,
	repoEnricher RepoEnricher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:        st,
		planner:      planner,
		tasks:        tasks,
		detector:     detector,
		enricher:     enricher,
		repoEnricher: repoEnricher,
		metrics:      m,
		logger:       logger.With().Str("component", "pipeline").Logger(),
		now:          time.Now,
	}
}

// Ingest processes one validated batch on behalf of memberID.
//
// Events whose user_id does not match the authenticated member are recorded
// as per-event errors and skipped; the rest of the batch proceeds. A failure
// of the atomic write is a hard error: nothing from the batch is committed.
func (p *Pipeline) Ingest(ctx context.Context, memberID string, events []models.Event) (*Result, error) {
	now := p.now().UTC()

	var items []Item
	var authErrors []EventError
	for i, ev := range events {
		if ev.UserID != memberID {
			authErrors = append(authErrors, EventError{
				Index:   i,
				Message: fmt.Sprintf("user_id %q does not match authenticated member", ev.UserID),
			})
			continue
		}
		items = append(items, Item{Index: i, Event: ev})
	}

	plan, err := p.planner.Plan(ctx, items, now)
	if err != nil {
		return nil, err
	}

	if err := p.store.ApplyMutations(ctx, plan.Mutations); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("ingest", "commit")
		}
		return nil, fmt.Errorf("batch commit failed: %w", err)
	}

	p.dispatchEnrichment(plan)

	result := &Result{
		Processed:             plan.Processed,
		Errors:                append(authErrors, plan.Errors...),
		SessionsCreated:       plan.SessionsCreated,
		SessionsEnded:         plan.SessionsEnded,
		FileOpsCreated:        plan.FileOpsCreated,
		PromptsCreated:        plan.PromptsCreated,
		AgentResponsesCreated: plan.AgentResponsesCreated,
	}
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Index < result.Errors[j].Index })
	if result.Errors == nil {
		result.Errors = []EventError{}
	}

	if p.metrics != nil {
		p.metrics.RecordIngest(result.Processed, len(result.Errors))
	}

	p.logger.Info().
		Int("processed", result.Processed).
		Int("errors", len(result.Errors)).
		Int("sessions_created", result.SessionsCreated).
		Int("sessions_ended", result.SessionsEnded).
		Msg("batch ingested")

	return result, nil
}

// dispatchEnrichment schedules the post-commit background work. All of it is
// best-effort and idempotent: a dropped task is re-derived by a later batch.
func (p *Pipeline) dispatchEnrichment(plan *Plan) {
	if p.tasks == nil {
		return
	}

	if p.detector != nil {
		for _, t := range plan.FileTriggers {
			trigger := t
			if !p.tasks.Submit("overlap_detect", func(ctx context.Context) error {
				return p.detector.Detect(ctx, trigger.RepoName, trigger.SessionID, trigger.MemberID, trigger.Files)
			}) {
				p.logger.Warn().Str("repo", trigger.RepoName).Msg("overlap detection dropped, queue full")
			}
		}
	}

	if p.enricher != nil {
		for _, id := range plan.EnrichDue {
			sessionID := id
			if !p.tasks.Submit("classify", func(ctx context.Context) error {
				return p.enricher.Classify(ctx, sessionID)
			}) {
				p.logger.Warn().Str("session_id", sessionID).Msg("classification dropped, queue full")
			}
		}
		for _, id := range plan.EndedSessions {
			sessionID := id
			if !p.tasks.Submit("summarize", func(ctx context.Context) error {
				return p.enricher.Summarize(ctx, sessionID)
			}) {
				p.logger.Warn().Str("session_id", sessionID).Msg("final summary dropped, queue full")
			}
		}
	}

	if p.repoEnricher != nil {
		for _, name := range plan.NewRepos {
			repoName := name
			if !p.tasks.Submit("repo_metadata", func(ctx context.Context) error {
				return p.repoEnricher.EnrichRepo(ctx, repoName)
			}) {
				p.logger.Warn().Str("repo", repoName).Msg("repo metadata fetch dropped, queue full")
			}
		}
	}
}
