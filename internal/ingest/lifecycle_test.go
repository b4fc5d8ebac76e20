package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlaphq/overlap/internal/models"
)

func testLifecycle() Lifecycle {
	return NewLifecycle(DefaultLifecycleConfig())
}

func TestNewSession_AnyEventCreates(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	ev := models.Event{
		SessionID: "sess-1",
		Type:      models.EventPrompt,
		Timestamp: now.Add(-time.Minute),
		UserID:    "alice",
		RepoName:  "acme/api",
	}

	sess := lc.NewSession(ev, now)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, "alice", sess.MemberID)
	assert.Equal(t, ev.Timestamp.UnixMilli(), sess.StartedAt)
	assert.Equal(t, ev.Timestamp.UnixMilli(), sess.LastActivityAt)
	assert.Zero(t, sess.EventCount, "count is advanced by Apply, not creation")
}

func TestApply_CountsAndLastActivity(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	ev := models.Event{SessionID: "s", Type: models.EventPrompt, Timestamp: now, UserID: "alice", Text: "hi"}
	sess := lc.NewSession(ev, now)

	lc.Apply(sess, ev, now)
	assert.Equal(t, int64(1), sess.EventCount)
	assert.Equal(t, now.UnixMilli(), sess.LastActivityAt)

	// Out-of-order older event never regresses last_activity_at.
	old := ev
	old.Timestamp = now.Add(-time.Hour)
	lc.Apply(sess, old, now)
	assert.Equal(t, int64(2), sess.EventCount)
	assert.Equal(t, now.UnixMilli(), sess.LastActivityAt)
}

func TestApply_SessionEndIsIdempotentOnEndedAt(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	ev := models.Event{SessionID: "s", Type: models.EventSessionStart, Timestamp: now, UserID: "alice"}
	sess := lc.NewSession(ev, now)
	lc.Apply(sess, ev, now)

	end := models.Event{
		SessionID: "s", Type: models.EventSessionEnd,
		Timestamp: now.Add(time.Minute), UserID: "alice",
		Turns: ptrInt64(7),
	}
	eff := lc.Apply(sess, end, now.Add(time.Minute))
	assert.True(t, eff.Ended)
	assert.Equal(t, models.SessionEnded, sess.Status)
	firstEndedAt := sess.EndedAt
	require.NotNil(t, sess.Turns)
	assert.Equal(t, int64(7), *sess.Turns)

	// A late duplicate end only contributes stats, never moves ended_at.
	lateEnd := models.Event{
		SessionID: "s", Type: models.EventSessionEnd,
		Timestamp: now.Add(2 * time.Hour), UserID: "alice",
		Turns:   ptrInt64(99),
		CostUSD: ptrFloat64(1.25),
	}
	eff = lc.Apply(sess, lateEnd, now.Add(2*time.Hour))
	assert.False(t, eff.Ended)
	assert.Equal(t, firstEndedAt, sess.EndedAt)
	assert.Equal(t, int64(7), *sess.Turns, "first non-null stat wins")
	require.NotNil(t, sess.CostUSD)
	assert.Equal(t, 1.25, *sess.CostUSD, "never-set stat is filled")
}

func TestApply_StartReactivationIsBounded(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	ev := models.Event{SessionID: "s", Type: models.EventSessionStart, Timestamp: now.Add(-48 * time.Hour), UserID: "alice"}
	sess := lc.NewSession(ev, now.Add(-48*time.Hour))
	sess.Status = models.SessionEnded
	sess.EndedAt = now.Add(-24 * time.Hour).UnixMilli()

	// Backfilled historical start: too old to resurrect the session.
	stale := models.Event{SessionID: "s", Type: models.EventSessionStart, Timestamp: now.Add(-10 * time.Hour), UserID: "alice"}
	eff := lc.Apply(sess, stale, now)
	assert.False(t, eff.Reactivated)
	assert.Equal(t, models.SessionEnded, sess.Status)

	// Fresh start reactivates.
	fresh := models.Event{SessionID: "s", Type: models.EventSessionStart, Timestamp: now, UserID: "alice"}
	eff = lc.Apply(sess, fresh, now)
	assert.True(t, eff.Reactivated)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Zero(t, sess.EndedAt)
}

func TestApply_ActivityReactivatesUnconditionally(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	ev := models.Event{SessionID: "s", Type: models.EventSessionStart, Timestamp: now, UserID: "alice"}
	sess := lc.NewSession(ev, now)
	sess.Status = models.SessionStale

	fileOp := models.Event{
		SessionID: "s", Type: models.EventFileOp,
		Timestamp: now, UserID: "alice",
		FilePath: "a.go", Operation: models.FileOpEdit,
	}
	eff := lc.Apply(sess, fileOp, now)
	assert.True(t, eff.Reactivated)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestApply_MetadataMergesFirstNonNull(t *testing.T) {
	lc := testLifecycle()
	now := time.Now().UTC()

	start := models.Event{
		SessionID: "s", Type: models.EventSessionStart,
		Timestamp: now, UserID: "alice",
		Branch: "main", Hostname: "laptop",
	}
	sess := lc.NewSession(start, now)
	lc.Apply(sess, start, now)
	assert.Equal(t, "main", sess.Branch)

	dup := start
	dup.Branch = "other"
	dup.Worktree = "/tmp/wt"
	lc.Apply(sess, dup, now)
	assert.Equal(t, "main", sess.Branch, "existing metadata wins")
	assert.Equal(t, "/tmp/wt", sess.Worktree, "unset metadata is filled")
}
