// Package stream pushes live session updates to subscribers over
// Server-Sent Events. Each connection polls a cheap change signature and
// diffs full snapshots per connection, so subscribers only receive sessions
// that actually changed.
package stream

import (
	"fmt"

	"github.com/overlaphq/overlap/internal/models"
)

// fingerprint summarizes the subscriber-visible state of one session. Two
// snapshots of a session with equal fingerprints render identically.
func fingerprint(s *models.Session) string {
	return fmt.Sprintf("%s|%d|%d|%d|%s|%s|%s",
		s.Status,
		s.LastActivityAt,
		s.EndedAt,
		s.EventCount,
		s.Scope,
		s.Summary,
		statsKey(s),
	)
}

func statsKey(s *models.Session) string {
	key := ""
	if s.Turns != nil {
		key += fmt.Sprintf("t%d", *s.Turns)
	}
	if s.CostUSD != nil {
		key += fmt.Sprintf("c%.4f", *s.CostUSD)
	}
	return key
}

// differ tracks the per-connection view of the session set.
type differ struct {
	prev map[string]string
}

func newDiffer() *differ {
	return &differ{prev: make(map[string]string)}
}

// diff compares the new snapshot against the connection's previous view and
// returns the sessions that changed (or appeared) plus the ids that left the
// snapshot. The first call reports everything as changed.
func (d *differ) diff(snapshot []*models.Session) (changed []*models.Session, removed []string) {
	next := make(map[string]string, len(snapshot))
	for _, s := range snapshot {
		fp := fingerprint(s)
		next[s.ID] = fp
		if d.prev[s.ID] != fp {
			changed = append(changed, s)
		}
	}
	for id := range d.prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	d.prev = next
	return changed, removed
}
