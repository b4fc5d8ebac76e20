package ingest

import (
	"time"

	"github.com/overlaphq/overlap/internal/models"
)

// LifecycleConfig holds the session staleness thresholds.
type LifecycleConfig struct {
	// StaleTimeout demotes active sessions with no activity (default 8h).
	// It also bounds session_start reactivation: a start event older than
	// this never resurrects a non-active session.
	StaleTimeout time.Duration
	// EndedTimeout is how long past StaleTimeout a stale session survives
	// before the sweep ends it (default 24h).
	EndedTimeout time.Duration
}

// DefaultLifecycleConfig returns the production thresholds.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		StaleTimeout: 8 * time.Hour,
		EndedTimeout: 24 * time.Hour,
	}
}

// Lifecycle is the session state machine. It is pure: every decision is a
// function of the session pre-image, the event, and an explicit now.
type Lifecycle struct {
	cfg LifecycleConfig
}

// NewLifecycle creates the state machine with the given thresholds.
func NewLifecycle(cfg LifecycleConfig) Lifecycle {
	return Lifecycle{cfg: cfg}
}

// Effect describes what applying one event did to a session.
type Effect struct {
	Created     bool
	Ended       bool
	Reactivated bool
}

// NewSession lazily creates the session implied by the first event seen for
// an unknown session id. Any event type may create a session.
func (l Lifecycle) NewSession(ev models.Event, now time.Time) *models.Session {
	nowMs := now.UnixMilli()
	evMs := ev.Timestamp.UnixMilli()

	return &models.Session{
		ID:             ev.SessionID,
		MemberID:       ev.UserID,
		RepoName:       ev.RepoName,
		Branch:         ev.Branch,
		Worktree:       ev.Worktree,
		DeviceName:     ev.DeviceName,
		Hostname:       ev.Hostname,
		IsRemote:       ev.IsRemote,
		Status:         models.SessionActive,
		StartedAt:      evMs,
		LastActivityAt: evMs,
		CreatedAt:      nowMs,
		UpdatedAt:      nowMs,
	}
}

// Apply advances the session state machine for one event, mutating s in
// place. The caller owns persistence of the resulting state.
func (l Lifecycle) Apply(s *models.Session, ev models.Event, now time.Time) Effect {
	var eff Effect
	evMs := ev.Timestamp.UnixMilli()

	s.EventCount++
	if evMs > s.LastActivityAt {
		s.LastActivityAt = evMs
	}
	s.UpdatedAt = now.UnixMilli()
	mergeSessionMetadata(s, ev)

	switch ev.Type {
	case models.EventSessionStart:
		// Anti-flapping: a backfilled historical start must not resurrect
		// a long-dead session. Fresh starts reactivate normally.
		if s.Status != models.SessionActive && now.Sub(ev.Timestamp) < l.cfg.StaleTimeout {
			s.Status = models.SessionActive
			s.EndedAt = 0
			eff.Reactivated = true
		}

	case models.EventSessionEnd:
		if s.Status != models.SessionEnded {
			s.Status = models.SessionEnded
			s.EndedAt = evMs
			eff.Ended = true
		}
		// Already-ended sessions keep their ended_at; a late end event only
		// contributes stats.
		mergeAggregateStats(s, ev)

	default:
		// file_op, prompt and agent_response carry fresh timestamps by
		// construction and reactivate unconditionally.
		if s.Status != models.SessionActive {
			s.Status = models.SessionActive
			s.EndedAt = 0
			eff.Reactivated = true
		}
	}

	return eff
}

// mergeSessionMetadata fills never-set metadata fields, first non-null wins.
func mergeSessionMetadata(s *models.Session, ev models.Event) {
	if s.RepoName == "" {
		s.RepoName = ev.RepoName
	}
	if s.Branch == "" {
		s.Branch = ev.Branch
	}
	if s.Worktree == "" {
		s.Worktree = ev.Worktree
	}
	if s.DeviceName == "" {
		s.DeviceName = ev.DeviceName
	}
	if s.Hostname == "" {
		s.Hostname = ev.Hostname
	}
	if ev.IsRemote {
		s.IsRemote = true
	}
}

// mergeAggregateStats merges session_end stats, first non-null wins.
func mergeAggregateStats(s *models.Session, ev models.Event) {
	if s.Turns == nil {
		s.Turns = ev.Turns
	}
	if s.CostUSD == nil {
		s.CostUSD = ev.CostUSD
	}
	if s.InputTokens == nil {
		s.InputTokens = ev.InputTokens
	}
	if s.OutputTokens == nil {
		s.OutputTokens = ev.OutputTokens
	}
}
