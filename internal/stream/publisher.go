package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaphq/overlap/internal/metrics"
	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/retry"
	"github.com/overlaphq/overlap/internal/store"
)

// Store is what the stream needs from the relational store: the cheap change
// signature, and a full snapshot when the signature moves.
type Store interface {
	Signature(ctx context.Context) (store.ChangeSignature, error)
	LiveSessions(ctx context.Context, endedSince int64) ([]*models.Session, error)
}

// Config holds the stream timing knobs.
type Config struct {
	// PollInterval is how often the change signature is checked (default 3s).
	PollInterval time.Duration
	// KeepaliveInterval is how often a comment is written on an idle
	// connection so proxies keep it open (default 25s).
	KeepaliveInterval time.Duration
	// EndedRetention is how long ended sessions remain in the snapshot so
	// subscribers see them finish (default 5m).
	EndedRetention time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 25 * time.Second
	}
	if c.EndedRetention <= 0 {
		c.EndedRetention = 5 * time.Minute
	}
}

// Publisher serves live session updates over SSE. One Publisher is shared by
// all connections; per-connection state lives in Serve.
type Publisher struct {
	store   Store
	cfg     Config
	retry   retry.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	now func() time.Time
}

// NewPublisher wires the stream publisher. m may be nil.
func NewPublisher(st Store, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	cfg.defaults()
	return &Publisher{
		store:   st,
		cfg:     cfg,
		retry:   retry.DefaultConfig(),
		metrics: m,
		logger:  logger.With().Str("component", "stream").Logger(),
		now:     time.Now,
	}
}

// Serve streams to one subscriber until ctx is cancelled or the client goes
// away. The connection opens with a `connected` event and a full `activity`
// snapshot; afterwards only changed or removed sessions are sent. Event ids
// are a per-connection sequence so clients can detect gaps after a reconnect.
func (p *Publisher) Serve(ctx context.Context, w *bufio.Writer) {
	if p.metrics != nil {
		p.metrics.StreamConnections.Inc()
		defer p.metrics.StreamConnections.Dec()
	}

	var seq uint64
	d := newDiffer()
	failures := 0
	var lastSig store.ChangeSignature
	haveSig := false
	sentSnapshot := false

	seq++
	if err := writeEvent(w, seq, "connected", []byte(`{}`)); err != nil {
		return
	}

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	keepalive := time.NewTimer(p.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	// The first iteration runs immediately so the snapshot is not delayed
	// by a full poll interval.
	for first := true; ; first = false {
		if !first {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				if err := writeKeepalive(w); err != nil {
					return
				}
				keepalive.Reset(p.cfg.KeepaliveInterval)
				continue
			case <-poll.C:
			}
		}

		sig, err := p.store.Signature(ctx)
		if err != nil {
			if !p.reportPollFailure(ctx, w, &seq, keepalive, &failures, err) {
				return
			}
			continue
		}

		if sentSnapshot && haveSig && sig == lastSig {
			failures = 0
			continue
		}

		snapshot, err := p.fetch(ctx)
		if err != nil {
			if !p.reportPollFailure(ctx, w, &seq, keepalive, &failures, err) {
				return
			}
			continue
		}
		failures = 0
		lastSig = sig
		haveSig = true

		changed, removed := d.diff(snapshot)
		if !sentSnapshot || len(changed) > 0 || len(removed) > 0 {
			seq++
			if err := writeActivity(w, seq, changed, removed); err != nil {
				return
			}
			keepalive.Reset(p.cfg.KeepaliveInterval)
			p.countSent(len(changed) + len(removed))
		}
		sentSnapshot = true
	}
}

// reportPollFailure sends an `error` event and backs off. A single failed
// poll never tears down the connection; only a write failure or cancellation
// does (returns false).
func (p *Publisher) reportPollFailure(
	ctx context.Context,
	w *bufio.Writer,
	seq *uint64,
	keepalive *time.Timer,
	failures *int,
	err error,
) bool {
	*failures++
	p.logger.Warn().Err(err).Int("failures", *failures).Msg("stream poll failed")
	if p.metrics != nil {
		p.metrics.RecordError("stream", "poll")
	}
	*seq++
	if werr := writeEvent(w, *seq, "error", []byte(`{"error":"temporarily unavailable"}`)); werr != nil {
		return false
	}
	keepalive.Reset(p.cfg.KeepaliveInterval)
	return sleepCtx(ctx, retry.Delay(p.retry, *failures))
}

func (p *Publisher) fetch(ctx context.Context) ([]*models.Session, error) {
	endedSince := p.now().UTC().Add(-p.cfg.EndedRetention).UnixMilli()
	return p.store.LiveSessions(ctx, endedSince)
}

func (p *Publisher) countSent(n int) {
	if p.metrics != nil {
		p.metrics.StreamEventsSent.Add(float64(n))
	}
}

// activityPayload is the data body of an `activity` event: the full state of
// every changed session, plus the ids of sessions that left the live window.
type activityPayload struct {
	Sessions []*models.Session `json:"sessions"`
	Removed  []string          `json:"removed,omitempty"`
}

func writeActivity(w *bufio.Writer, seq uint64, sessions []*models.Session, removed []string) error {
	if sessions == nil {
		sessions = []*models.Session{}
	}
	data, err := json.Marshal(activityPayload{Sessions: sessions, Removed: removed})
	if err != nil {
		return err
	}
	return writeEvent(w, seq, "activity", data)
}

func writeEvent(w *bufio.Writer, seq uint64, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepalive(w *bufio.Writer) error {
	if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
