package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/overlaphq/overlap/internal/errors"
	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/store"
)

// fakePipelineStore captures applied mutations or fails the commit.
type fakePipelineStore struct {
	*fakeReader
	applied [][]store.Mutation
	fail    error
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{fakeReader: newFakeReader()}
}

func (f *fakePipelineStore) ApplyMutations(_ context.Context, muts []store.Mutation) error {
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, muts)
	return nil
}

// syncTasks runs submitted tasks inline.
type syncTasks struct {
	names []string
	full  bool
}

func (s *syncTasks) Submit(name string, fn func(ctx context.Context) error) bool {
	if s.full {
		return false
	}
	s.names = append(s.names, name)
	_ = fn(context.Background())
	return true
}

type fakeDetector struct {
	calls []FileTrigger
}

func (f *fakeDetector) Detect(_ context.Context, repoName, sessionID, memberID string, files []string) error {
	f.calls = append(f.calls, FileTrigger{RepoName: repoName, SessionID: sessionID, MemberID: memberID, Files: files})
	return nil
}

type fakeEnricher struct {
	classified []string
	summarized []string
}

func (f *fakeEnricher) Classify(_ context.Context, sessionID string) error {
	f.classified = append(f.classified, sessionID)
	return nil
}

func (f *fakeEnricher) Summarize(_ context.Context, sessionID string) error {
	f.summarized = append(f.summarized, sessionID)
	return nil
}

func testPipeline(st *fakePipelineStore, tasks TaskSubmitter, det Detector, enr Enricher) *Pipeline {
	planner := testPlanner(st.fakeReader)
	return NewPipeline(st, planner, tasks, det, enr, nil, nil, zerolog.Nop())
}

func TestIngest_HappyPath(t *testing.T) {
	st := newFakePipelineStore()
	tasks := &syncTasks{}
	det := &fakeDetector{}
	enr := &fakeEnricher{}
	p := testPipeline(st, tasks, det, enr)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "sess-1", Type: models.EventSessionStart, Timestamp: now, UserID: "alice", RepoName: "acme/api"},
		{SessionID: "sess-1", Type: models.EventFileOp, Timestamp: now, UserID: "alice", RepoName: "acme/api", FilePath: "a.go", Operation: models.FileOpEdit},
		{SessionID: "sess-1", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "hi"},
	}

	res, err := p.Ingest(context.Background(), "alice", events)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.SessionsCreated)
	assert.Equal(t, 1, res.FileOpsCreated)
	assert.Equal(t, 1, res.PromptsCreated)

	require.Len(t, st.applied, 1, "one atomic commit per batch")

	// Third event crossed the classification threshold, file activity
	// scheduled detection.
	require.Len(t, det.calls, 1)
	assert.Equal(t, []string{"a.go"}, det.calls[0].Files)
	assert.Equal(t, []string{"sess-1"}, enr.classified)
}

func TestIngest_MemberMismatchIsPerEventError(t *testing.T) {
	st := newFakePipelineStore()
	p := testPipeline(st, &syncTasks{}, nil, nil)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "sess-1", Type: models.EventPrompt, Timestamp: now, UserID: "mallory", Text: "hi"},
		{SessionID: "sess-2", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "hi"},
	}

	res, err := p.Ingest(context.Background(), "alice", events)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Contains(t, res.Errors[0].Message, "mallory")
}

func TestIngest_CommitFailureIsHardError(t *testing.T) {
	st := newFakePipelineStore()
	st.fail = &oerrors.StoreError{Op: "commit", Err: assert.AnError}
	p := testPipeline(st, &syncTasks{}, nil, nil)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "sess-1", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "hi"},
	}

	_, err := p.Ingest(context.Background(), "alice", events)
	require.Error(t, err)
	assert.True(t, oerrors.IsRetryable(err))
}

func TestIngest_EndedSessionScheduledForSummary(t *testing.T) {
	st := newFakePipelineStore()
	st.sessions["sess-1"] = &models.Session{
		ID: "sess-1", MemberID: "alice",
		Status: models.SessionActive, EventCount: 4,
	}
	tasks := &syncTasks{}
	enr := &fakeEnricher{}
	p := testPipeline(st, tasks, nil, enr)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "sess-1", Type: models.EventSessionEnd, Timestamp: now, UserID: "alice"},
	}

	res, err := p.Ingest(context.Background(), "alice", events)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SessionsEnded)
	assert.Equal(t, []string{"sess-1"}, enr.summarized)
}

func TestIngest_FullQueueDropsEnrichmentOnly(t *testing.T) {
	st := newFakePipelineStore()
	tasks := &syncTasks{full: true}
	det := &fakeDetector{}
	enr := &fakeEnricher{}
	p := testPipeline(st, tasks, det, enr)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "sess-1", Type: models.EventFileOp, Timestamp: now, UserID: "alice", RepoName: "acme/api", FilePath: "a.go", Operation: models.FileOpEdit},
	}

	res, err := p.Ingest(context.Background(), "alice", events)
	require.NoError(t, err, "the durable write already committed")
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, det.calls)
	require.Len(t, st.applied, 1)
}

func TestIngest_ErrorsSortedByIndex(t *testing.T) {
	st := newFakePipelineStore()
	st.sessions["owned"] = &models.Session{
		ID: "owned", MemberID: "bob",
		Status: models.SessionActive, EventCount: 1,
	}
	p := testPipeline(st, &syncTasks{}, nil, nil)
	now := time.Now().UTC()

	events := []models.Event{
		{SessionID: "owned", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "hi"},   // planner error
		{SessionID: "sess-2", Type: models.EventPrompt, Timestamp: now, UserID: "mallory", Text: "x"}, // auth error
		{SessionID: "sess-3", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "ok"},
	}

	res, err := p.Ingest(context.Background(), "alice", events)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Equal(t, 1, res.Errors[1].Index)
}
