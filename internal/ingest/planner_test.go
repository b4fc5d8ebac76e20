package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/store"
)

// fakeReader serves sessions and repos from in-memory maps.
type fakeReader struct {
	sessions map[string]*models.Session
	repos    map[string]*models.Repo
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		sessions: map[string]*models.Session{},
		repos:    map[string]*models.Repo{},
	}
}

func (f *fakeReader) GetSessions(_ context.Context, ids []string) (map[string]*models.Session, error) {
	out := map[string]*models.Session{}
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok {
			copied := *s
			out[id] = &copied
		}
	}
	return out, nil
}

func (f *fakeReader) GetRepos(_ context.Context, names []string) (map[string]*models.Repo, error) {
	out := map[string]*models.Repo{}
	for _, n := range names {
		if r, ok := f.repos[n]; ok {
			copied := *r
			out[n] = &copied
		}
	}
	return out, nil
}

func testPlanner(reader EntityReader) *Planner {
	return NewPlanner(reader, testLifecycle(), 3, zerolog.Nop())
}

func items(events ...models.Event) []Item {
	out := make([]Item, len(events))
	for i, ev := range events {
		out[i] = Item{Index: i, Event: ev}
	}
	return out
}

func TestPlan_LazyCreation(t *testing.T) {
	p := testPlanner(newFakeReader())
	now := time.Now().UTC()

	fileOp := models.Event{
		SessionID: "sess-1", Type: models.EventFileOp,
		Timestamp: now, UserID: "alice", RepoName: "acme/api",
		FilePath: "a.go", Operation: models.FileOpEdit,
	}

	plan, err := p.Plan(context.Background(), items(fileOp), now)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Processed)
	assert.Equal(t, 1, plan.SessionsCreated)
	assert.Equal(t, 1, plan.FileOpsCreated)
	assert.Empty(t, plan.Errors)
	assert.Equal(t, []string{"acme/api"}, plan.NewRepos)

	// repo insert, then session upsert, then activity insert
	require.Len(t, plan.Mutations, 3)
	_, ok := plan.Mutations[0].(store.PutRepo)
	assert.True(t, ok)
	putSess, ok := plan.Mutations[1].(store.PutSession)
	require.True(t, ok)
	assert.Equal(t, "sess-1", putSess.Session.ID)
	assert.Equal(t, int64(1), putSess.Session.EventCount)
	_, ok = plan.Mutations[2].(store.InsertActivity)
	assert.True(t, ok)
}

func TestPlan_OneSessionWritePerBatch(t *testing.T) {
	p := testPlanner(newFakeReader())
	now := time.Now().UTC()

	mk := func(text string) models.Event {
		return models.Event{
			SessionID: "sess-1", Type: models.EventPrompt,
			Timestamp: now, UserID: "alice", Text: text,
		}
	}

	plan, err := p.Plan(context.Background(), items(mk("a"), mk("b"), mk("c")), now)
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Processed)
	assert.Equal(t, 1, plan.SessionsCreated, "later events reuse the synthetic cache entry")

	sessionWrites := 0
	for _, m := range plan.Mutations {
		if ps, ok := m.(store.PutSession); ok {
			sessionWrites++
			assert.Equal(t, int64(3), ps.Session.EventCount, "final state only")
		}
	}
	assert.Equal(t, 1, sessionWrites)
}

func TestPlan_MemberMismatchIsPerEventError(t *testing.T) {
	reader := newFakeReader()
	reader.sessions["sess-1"] = &models.Session{
		ID: "sess-1", MemberID: "alice",
		Status: models.SessionActive, EventCount: 1,
	}
	p := testPlanner(reader)
	now := time.Now().UTC()

	intruder := models.Event{
		SessionID: "sess-1", Type: models.EventPrompt,
		Timestamp: now, UserID: "mallory", Text: "hi",
	}
	ok := models.Event{
		SessionID: "sess-2", Type: models.EventPrompt,
		Timestamp: now, UserID: "mallory", Text: "hi",
	}

	plan, err := p.Plan(context.Background(), items(intruder, ok), now)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Processed)
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, 0, plan.Errors[0].Index)
}

func TestPlan_RejectedEventPlansNothing(t *testing.T) {
	reader := newFakeReader()
	reader.sessions["sess-1"] = &models.Session{
		ID: "sess-1", MemberID: "alice",
		Status: models.SessionActive, EventCount: 1,
	}
	p := testPlanner(reader)
	now := time.Now().UTC()

	intruder := models.Event{
		SessionID: "sess-1", Type: models.EventFileOp,
		Timestamp: now, UserID: "mallory", RepoName: "new/repo",
		FilePath: "a.go", Operation: models.FileOpEdit,
	}

	plan, err := p.Plan(context.Background(), items(intruder), now)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Processed)
	require.Len(t, plan.Errors, 1)
	assert.Empty(t, plan.Mutations, "a skipped event must not leak writes into the batch")
	assert.Empty(t, plan.NewRepos)
	assert.Empty(t, plan.FileTriggers)
}

func TestPlan_FileTriggersAggregatePerSession(t *testing.T) {
	p := testPlanner(newFakeReader())
	now := time.Now().UTC()

	ev1 := models.Event{
		SessionID: "sess-1", Type: models.EventFileOp,
		Timestamp: now, UserID: "alice", RepoName: "acme/api",
		FilePath: "a.go", Operation: models.FileOpEdit,
	}
	ev2 := ev1
	ev2.FilePath = "b.go"
	ev3 := ev1 // duplicate file

	plan, err := p.Plan(context.Background(), items(ev1, ev2, ev3), now)
	require.NoError(t, err)
	require.Len(t, plan.FileTriggers, 1)
	trigger := plan.FileTriggers[0]
	assert.Equal(t, "acme/api", trigger.RepoName)
	assert.Equal(t, "sess-1", trigger.SessionID)
	assert.Equal(t, "alice", trigger.MemberID)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, trigger.Files)
}

func TestPlan_EnrichDueEveryThirdEvent(t *testing.T) {
	p := testPlanner(newFakeReader())
	now := time.Now().UTC()

	mk := func() models.Event {
		return models.Event{
			SessionID: "sess-1", Type: models.EventPrompt,
			Timestamp: now, UserID: "alice", Text: "hi",
		}
	}

	plan, err := p.Plan(context.Background(), items(mk(), mk()), now)
	require.NoError(t, err)
	assert.Empty(t, plan.EnrichDue)

	plan, err = p.Plan(context.Background(), items(mk(), mk(), mk()), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, plan.EnrichDue)
}

func TestPlan_EndedSessionsReported(t *testing.T) {
	reader := newFakeReader()
	reader.sessions["sess-1"] = &models.Session{
		ID: "sess-1", MemberID: "alice",
		Status: models.SessionActive, EventCount: 5,
	}
	p := testPlanner(reader)
	now := time.Now().UTC()

	end := models.Event{
		SessionID: "sess-1", Type: models.EventSessionEnd,
		Timestamp: now, UserID: "alice",
	}

	plan, err := p.Plan(context.Background(), items(end), now)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.SessionsEnded)
	assert.Equal(t, []string{"sess-1"}, plan.EndedSessions)
}
