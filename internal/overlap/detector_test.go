package overlap

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaphq/overlap/internal/models"
)

type fakeDetectorStore struct {
	sessions   map[string]*models.Session
	active     []*models.Session
	latestFile map[string]*models.Activity

	upserts []*models.Overlap
	// existing marks (type, sessionA, sessionB, file) tuples already stored.
	existing map[string]bool
}

func newFakeDetectorStore() *fakeDetectorStore {
	return &fakeDetectorStore{
		sessions:   map[string]*models.Session{},
		latestFile: map[string]*models.Activity{},
		existing:   map[string]bool{},
	}
}

func (f *fakeDetectorStore) GetSessions(_ context.Context, ids []string) (map[string]*models.Session, error) {
	out := map[string]*models.Session{}
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeDetectorStore) ActiveSessionsInRepo(_ context.Context, _, excludeMember string, _ int) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range f.active {
		if s.MemberID != excludeMember {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeDetectorStore) LatestFileActivity(_ context.Context, sessionID string) (*models.Activity, error) {
	return f.latestFile[sessionID], nil
}

func (f *fakeDetectorStore) UpsertOverlap(_ context.Context, o *models.Overlap) (bool, error) {
	key := string(o.Type) + o.SessionA + o.SessionB + o.FilePath + o.DirectoryPath
	if f.existing[key] {
		return false, nil
	}
	f.existing[key] = true
	f.upserts = append(f.upserts, o)
	return true, nil
}

type recordingNotifier struct {
	notified []*models.Overlap
}

func (r *recordingNotifier) NotifyOverlap(_ context.Context, o *models.Overlap) error {
	r.notified = append(r.notified, o)
	return nil
}

func TestDetect_SameFileIsHighSeverity(t *testing.T) {
	st := newFakeDetectorStore()
	st.sessions["mine"] = &models.Session{ID: "mine", MemberID: "alice", Scope: "api"}
	st.active = []*models.Session{
		{ID: "theirs", MemberID: "bob", Scope: "web"},
	}
	st.latestFile["theirs"] = &models.Activity{
		Kind: models.ActivityFileOp, FilePath: "internal/api/server.go",
	}

	notifier := &recordingNotifier{}
	d := NewDetector(st, notifier, nil, 10, zerolog.Nop())

	err := d.Detect(context.Background(), "acme/api", "mine", "alice", []string{"internal/api/server.go"})
	require.NoError(t, err)

	require.Len(t, st.upserts, 2, "file match plus shared parent directory")
	fileOverlap := st.upserts[0]
	assert.Equal(t, models.OverlapFile, fileOverlap.Type)
	assert.Equal(t, models.SeverityHigh, fileOverlap.Severity)
	assert.Equal(t, "alice", fileOverlap.MemberA)
	assert.Equal(t, "bob", fileOverlap.MemberB)
	assert.Equal(t, "internal/api/server.go", fileOverlap.FilePath)

	dirOverlap := st.upserts[1]
	assert.Equal(t, models.OverlapDirectory, dirOverlap.Type)
	assert.Equal(t, models.SeverityLow, dirOverlap.Severity)
	assert.Equal(t, "internal/api", dirOverlap.DirectoryPath)

	assert.Len(t, notifier.notified, 2)
}

func TestDetect_ScopeMatch(t *testing.T) {
	st := newFakeDetectorStore()
	st.sessions["mine"] = &models.Session{ID: "mine", MemberID: "alice", Scope: "billing"}
	st.active = []*models.Session{
		{ID: "theirs", MemberID: "bob", Scope: "billing"},
	}
	st.latestFile["theirs"] = &models.Activity{
		Kind: models.ActivityFileOp, FilePath: "web/invoice.tsx",
	}

	d := NewDetector(st, nil, nil, 10, zerolog.Nop())
	err := d.Detect(context.Background(), "acme/api", "mine", "alice", []string{"internal/billing/charge.go"})
	require.NoError(t, err)

	require.Len(t, st.upserts, 1)
	assert.Equal(t, models.OverlapScope, st.upserts[0].Type)
	assert.Equal(t, models.SeverityMedium, st.upserts[0].Severity)
}

func TestDetect_OwnSessionsExcluded(t *testing.T) {
	st := newFakeDetectorStore()
	st.sessions["mine"] = &models.Session{ID: "mine", MemberID: "alice"}
	st.active = []*models.Session{
		{ID: "other-mine", MemberID: "alice"},
	}
	st.latestFile["other-mine"] = &models.Activity{
		Kind: models.ActivityFileOp, FilePath: "a.go",
	}

	d := NewDetector(st, nil, nil, 10, zerolog.Nop())
	err := d.Detect(context.Background(), "acme/api", "mine", "alice", []string{"a.go"})
	require.NoError(t, err)
	assert.Empty(t, st.upserts)
}

func TestDetect_RepeatDetectionNotReNotified(t *testing.T) {
	st := newFakeDetectorStore()
	st.sessions["mine"] = &models.Session{ID: "mine", MemberID: "alice"}
	st.active = []*models.Session{
		{ID: "theirs", MemberID: "bob"},
	}
	st.latestFile["theirs"] = &models.Activity{
		Kind: models.ActivityFileOp, FilePath: "a.go",
	}

	notifier := &recordingNotifier{}
	d := NewDetector(st, notifier, nil, 10, zerolog.Nop())

	require.NoError(t, d.Detect(context.Background(), "acme/api", "mine", "alice", []string{"a.go"}))
	first := len(notifier.notified)

	require.NoError(t, d.Detect(context.Background(), "acme/api", "mine", "alice", []string{"a.go"}))
	assert.Equal(t, first, len(notifier.notified), "refreshed overlaps are silent")
}

func TestDetect_ResultCap(t *testing.T) {
	st := newFakeDetectorStore()
	st.sessions["mine"] = &models.Session{ID: "mine", MemberID: "alice"}
	files := []string{"a.go", "b.go", "c.go", "d.go"}
	for _, id := range []string{"s1", "s2", "s3"} {
		st.active = append(st.active, &models.Session{ID: id, MemberID: "bob-" + id})
		st.latestFile[id] = &models.Activity{Kind: models.ActivityFileOp, Files: files}
	}

	d := NewDetector(st, nil, nil, 2, zerolog.Nop())
	require.NoError(t, d.Detect(context.Background(), "acme/api", "mine", "alice", files))
	assert.Len(t, st.upserts, 2)
}

func TestDetect_NoFilesNoop(t *testing.T) {
	st := newFakeDetectorStore()
	d := NewDetector(st, nil, nil, 10, zerolog.Nop())
	require.NoError(t, d.Detect(context.Background(), "acme/api", "mine", "alice", nil))
	require.NoError(t, d.Detect(context.Background(), "", "mine", "alice", []string{"a.go"}))
	assert.Empty(t, st.upserts)
}
