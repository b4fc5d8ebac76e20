package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/store"
)

// EntityReader resolves a batch's session and repo references against the
// store in one round-trip each.
type EntityReader interface {
	GetSessions(ctx context.Context, ids []string) (map[string]*models.Session, error)
	GetRepos(ctx context.Context, names []string) (map[string]*models.Repo, error)
}

// Item is one event paired with its index in the original batch, so that
// per-event errors stay addressable after mismatched events are filtered.
type Item struct {
	Index int
	Event models.Event
}

// EventError reports one skipped event by batch index.
type EventError struct {
	Index   int    `json:"index"`
	Message string `json:"error"`
}

// FileTrigger is the post-commit overlap-detection input for one session's
// file activity within a batch.
type FileTrigger struct {
	RepoName  string
	SessionID string
	MemberID  string
	Files     []string
}

// Plan is the fully-formed output of planning one batch: an ordered mutation
// list plus the bookkeeping the pipeline needs for its response and for
// enrichment dispatch.
type Plan struct {
	Mutations []store.Mutation
	Errors    []EventError

	Processed             int
	SessionsCreated       int
	SessionsEnded         int
	FileOpsCreated        int
	PromptsCreated        int
	AgentResponsesCreated int

	FileTriggers  []FileTrigger
	EnrichDue     []string
	EndedSessions []string
	NewRepos      []string
}

// Planner resolves entities once per batch and builds the mutation list in
// memory. It performs no writes itself.
type Planner struct {
	reader      EntityReader
	lifecycle   Lifecycle
	enrichEvery int64
	logger      zerolog.Logger
}

// NewPlanner creates a batch planner. enrichEvery is the event-count
// threshold that schedules classification (spec default: every 3 events).
func NewPlanner(reader EntityReader, lifecycle Lifecycle, enrichEvery int, logger zerolog.Logger) *Planner {
	if enrichEvery <= 0 {
		enrichEvery = 3
	}
	return &Planner{
		reader:      reader,
		lifecycle:   lifecycle,
		enrichEvery: int64(enrichEvery),
		logger:      logger.With().Str("component", "planner").Logger(),
	}
}

// entityCache holds the batch's resolved sessions and repos. Newly planned
// entities are inserted synthetically so later events in the same batch see
// them as existing.
type entityCache struct {
	sessions     map[string]*models.Session
	repos        map[string]*models.Repo
	sessionOrder []string
	newRepos     []string
}

// Plan builds the ordered mutation list for a batch. A failure while
// planning a single event is recorded by index and that event is skipped;
// only entity resolution itself is a hard error.
func (p *Planner) Plan(ctx context.Context, items []Item, now time.Time) (*Plan, error) {
	cache, err := p.loadEntities(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("resolving batch entities: %w", err)
	}

	plan := &Plan{}
	triggers := make(map[string]*FileTrigger)
	enrichDue := make(map[string]struct{})
	var activities []store.Mutation

	for _, item := range items {
		acts, err := p.planEvent(cache, plan, triggers, enrichDue, item, now)
		if err != nil {
			p.logger.Warn().Err(err).Int("index", item.Index).
				Str("session_id", item.Event.SessionID).
				Msg("event skipped during planning")
			plan.Errors = append(plan.Errors, EventError{Index: item.Index, Message: err.Error()})
			continue
		}
		activities = append(activities, acts...)
		plan.Processed++
	}

	// Planning order: repos first (sessions reference them), then final
	// session states, then the append-only activity records.
	for _, name := range cache.newRepos {
		plan.Mutations = append(plan.Mutations, store.PutRepo{Repo: *cache.repos[name]})
	}
	for _, id := range cache.sessionOrder {
		plan.Mutations = append(plan.Mutations, store.PutSession{Session: *cache.sessions[id]})
	}
	plan.Mutations = append(plan.Mutations, activities...)

	for _, t := range triggers {
		plan.FileTriggers = append(plan.FileTriggers, *t)
	}
	for id := range enrichDue {
		plan.EnrichDue = append(plan.EnrichDue, id)
	}
	plan.NewRepos = cache.newRepos

	return plan, nil
}

func (p *Planner) loadEntities(ctx context.Context, items []Item) (*entityCache, error) {
	var sessionIDs, repoNames []string
	seenSessions := make(map[string]struct{})
	seenRepos := make(map[string]struct{})

	for _, item := range items {
		if _, ok := seenSessions[item.Event.SessionID]; !ok {
			seenSessions[item.Event.SessionID] = struct{}{}
			sessionIDs = append(sessionIDs, item.Event.SessionID)
		}
		if name := item.Event.RepoName; name != "" {
			if _, ok := seenRepos[name]; !ok {
				seenRepos[name] = struct{}{}
				repoNames = append(repoNames, name)
			}
		}
	}

	sessions, err := p.reader.GetSessions(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}
	repos, err := p.reader.GetRepos(ctx, repoNames)
	if err != nil {
		return nil, err
	}

	return &entityCache{sessions: sessions, repos: repos}, nil
}

func (p *Planner) planEvent(
	cache *entityCache,
	plan *Plan,
	triggers map[string]*FileTrigger,
	enrichDue map[string]struct{},
	item Item,
	now time.Time,
) ([]store.Mutation, error) {
	ev := item.Event

	// Ownership is checked before anything touches the cache, so a rejected
	// event contributes no synthetic entries and therefore no mutations.
	sess, known := cache.sessions[ev.SessionID]
	if known && sess.MemberID != ev.UserID {
		return nil, fmt.Errorf("session %s belongs to member %s", ev.SessionID, sess.MemberID)
	}

	// Lazy repo creation with a synthetic cache entry so later events in
	// this batch resolve it without another round-trip.
	if ev.RepoName != "" {
		if _, ok := cache.repos[ev.RepoName]; !ok {
			cache.repos[ev.RepoName] = &models.Repo{
				Name:      ev.RepoName,
				RemoteURL: ev.RemoteURL,
				CreatedAt: now.UnixMilli(),
			}
			cache.newRepos = append(cache.newRepos, ev.RepoName)
		}
	}

	if !known {
		sess = p.lifecycle.NewSession(ev, now)
		cache.sessions[ev.SessionID] = sess
		cache.sessionOrder = append(cache.sessionOrder, ev.SessionID)
		plan.SessionsCreated++
	} else if !containsString(cache.sessionOrder, ev.SessionID) {
		cache.sessionOrder = append(cache.sessionOrder, ev.SessionID)
	}

	eff := p.lifecycle.Apply(sess, ev, now)
	if eff.Ended {
		plan.SessionsEnded++
		plan.EndedSessions = append(plan.EndedSessions, sess.ID)
	}

	var muts []store.Mutation
	switch ev.Type {
	case models.EventFileOp:
		muts = append(muts, store.InsertActivity{Activity: models.Activity{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			Kind:      models.ActivityFileOp,
			Timestamp: ev.Timestamp.UnixMilli(),
			FilePath:  ev.FilePath,
			Operation: ev.Operation,
			Files:     ev.Files,
			ToolName:  ev.ToolName,
		}})
		plan.FileOpsCreated++
		p.recordFileTrigger(triggers, sess, ev)

	case models.EventPrompt:
		muts = append(muts, store.InsertActivity{Activity: models.Activity{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			Kind:      models.ActivityPrompt,
			Timestamp: ev.Timestamp.UnixMilli(),
			Text:      ev.Text,
		}})
		plan.PromptsCreated++

	case models.EventAgentResponse:
		muts = append(muts, store.InsertActivity{Activity: models.Activity{
			ID:           ulid.Make().String(),
			SessionID:    sess.ID,
			Kind:         models.ActivityAgentResponse,
			Timestamp:    ev.Timestamp.UnixMilli(),
			Text:         ev.Text,
			ResponseKind: ev.ResponseKind,
		}})
		plan.AgentResponsesCreated++
	}

	if sess.EventCount%p.enrichEvery == 0 {
		enrichDue[sess.ID] = struct{}{}
	}

	return muts, nil
}

func (p *Planner) recordFileTrigger(triggers map[string]*FileTrigger, sess *models.Session, ev models.Event) {
	if sess.RepoName == "" {
		return
	}
	files := ev.TouchedFiles()
	if len(files) == 0 {
		return
	}

	key := sess.RepoName + "\x00" + sess.ID
	t, ok := triggers[key]
	if !ok {
		t = &FileTrigger{RepoName: sess.RepoName, SessionID: sess.ID, MemberID: sess.MemberID}
		triggers[key] = t
	}
	for _, f := range files {
		if !containsString(t.Files, f) {
			t.Files = append(t.Files, f)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
