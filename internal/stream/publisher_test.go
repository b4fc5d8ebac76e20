package stream

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/overlaphq/overlap/internal/errors"
	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/retry"
	"github.com/overlaphq/overlap/internal/store"
)

type fakeStreamStore struct {
	mu       sync.Mutex
	sessions []*models.Session
	sig      store.ChangeSignature
	sigFails int
}

func (f *fakeStreamStore) Signature(context.Context) (store.ChangeSignature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sigFails > 0 {
		f.sigFails--
		return store.ChangeSignature{}, oerrors.ErrUnavailable
	}
	return f.sig, nil
}

func (f *fakeStreamStore) LiveSessions(context.Context, int64) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

func (f *fakeStreamStore) set(sig store.ChangeSignature, sessions ...*models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sig = sig
	f.sessions = sessions
}

// syncBuffer is a goroutine-safe bytes.Buffer for the stream writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testPublisher(st Store) *Publisher {
	p := NewPublisher(st, Config{
		PollInterval:      10 * time.Millisecond,
		KeepaliveInterval: time.Hour,
	}, nil, zerolog.Nop())
	p.retry = retry.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return p
}

func TestServe_ConnectedThenSnapshotThenIncrement(t *testing.T) {
	st := &fakeStreamStore{}
	st.set(store.ChangeSignature{OpenCount: 1, SumEventCount: 1},
		&models.Session{ID: "a", Status: models.SessionActive, EventCount: 1})

	p := testPublisher(st)

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan struct{})
	go func() {
		p.Serve(ctx, bufio.NewWriter(out))
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "event: activity") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The connected event precedes the snapshot.
	wire := out.String()
	assert.Less(t, strings.Index(wire, "event: connected"), strings.Index(wire, "event: activity"))
	assert.Contains(t, wire, "id: 1\nevent: connected")

	// A signature change with a changed session pushes another activity event.
	st.set(store.ChangeSignature{OpenCount: 1, SumEventCount: 2},
		&models.Session{ID: "a", Status: models.SessionActive, EventCount: 2})

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "event: activity") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop on cancel")
	}

	assert.Contains(t, out.String(), `"id":"a"`)
	assert.Contains(t, out.String(), `"sessions":[`)
}

func TestServe_UnchangedSignatureIsSilent(t *testing.T) {
	st := &fakeStreamStore{}
	st.set(store.ChangeSignature{OpenCount: 1},
		&models.Session{ID: "a", Status: models.SessionActive})

	p := testPublisher(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	go p.Serve(ctx, bufio.NewWriter(out))

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "event: activity") == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, strings.Count(out.String(), "event: activity"))
}

func TestServe_RemovedSessionsRideActivityEvents(t *testing.T) {
	st := &fakeStreamStore{}
	st.set(store.ChangeSignature{OpenCount: 2},
		&models.Session{ID: "a", Status: models.SessionActive},
		&models.Session{ID: "b", Status: models.SessionActive})

	p := testPublisher(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	go p.Serve(ctx, bufio.NewWriter(out))

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "event: activity") == 1
	}, 2*time.Second, 10*time.Millisecond)

	st.set(store.ChangeSignature{OpenCount: 1},
		&models.Session{ID: "a", Status: models.SessionActive})

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"removed":["b"]`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServe_InitialFetchFailureRetries(t *testing.T) {
	st := &fakeStreamStore{sigFails: 2}
	st.set(store.ChangeSignature{OpenCount: 1},
		&models.Session{ID: "a", Status: models.SessionActive})

	p := testPublisher(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	go p.Serve(ctx, bufio.NewWriter(out))

	// The failed polls surface as error events but keep the connection open;
	// once the store recovers the snapshot still arrives.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "event: activity")
	}, 2*time.Second, 10*time.Millisecond)

	wire := out.String()
	assert.Contains(t, wire, "event: error")
	assert.Less(t, strings.Index(wire, "event: error"), strings.Index(wire, "event: activity"))
	assert.Contains(t, wire, `"id":"a"`)
}

func TestServe_KeepaliveOnIdleConnection(t *testing.T) {
	st := &fakeStreamStore{}
	st.set(store.ChangeSignature{OpenCount: 1},
		&models.Session{ID: "a", Status: models.SessionActive})

	p := NewPublisher(st, Config{
		PollInterval:      10 * time.Millisecond,
		KeepaliveInterval: 50 * time.Millisecond,
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	go p.Serve(ctx, bufio.NewWriter(out))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), ": keepalive")
	}, 2*time.Second, 10*time.Millisecond)
}
