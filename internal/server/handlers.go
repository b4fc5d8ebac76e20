package server

import (
	"bufio"
	"context"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	oerrors "github.com/overlaphq/overlap/internal/errors"
	"github.com/overlaphq/overlap/internal/health"
	"github.com/overlaphq/overlap/internal/ingest"
	"github.com/overlaphq/overlap/internal/models"
	"github.com/overlaphq/overlap/internal/sweep"
)

// conflictCandidateLimit bounds the sessions compared by the conflict
// pre-check.
const conflictCandidateLimit = 50

// endedRetention is how long ended sessions remain visible in the session
// read model.
const endedRetention = 5 * time.Minute

// Datastore is what the read-model handlers need from the relational store.
type Datastore interface {
	LiveSessions(ctx context.Context, endedSince int64) ([]*models.Session, error)
	ListOverlaps(ctx context.Context, repoName string, since int64, limit int) ([]*models.Overlap, error)
	ActiveSessionsInRepo(ctx context.Context, repoName, excludeMember string, limit int) ([]*models.Session, error)
	LatestFileActivity(ctx context.Context, sessionID string) (*models.Activity, error)
}

// Ingester processes one validated event batch.
type Ingester interface {
	Ingest(ctx context.Context, memberID string, events []models.Event) (*ingest.Result, error)
}

// Streamer serves one SSE subscriber until its context ends.
type Streamer interface {
	Serve(ctx context.Context, w *bufio.Writer)
}

// SweepRunner runs one on-demand sweep pass.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (sweep.Result, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	pipeline Ingester
	store    Datastore
	streamer Streamer
	sweeper  SweepRunner
	checker  *health.Checker
	logger   zerolog.Logger

	// streamCtx ends long-lived stream connections on shutdown.
	streamCtx context.Context
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(
	pipeline Ingester,
	store Datastore,
	streamer Streamer,
	sweeper SweepRunner,
	checker *health.Checker,
	streamCtx context.Context,
	logger zerolog.Logger,
) *Handlers {
	if streamCtx == nil {
		streamCtx = context.Background()
	}
	return &Handlers{
		pipeline:  pipeline,
		store:     store,
		streamer:  streamer,
		sweeper:   sweeper,
		checker:   checker,
		streamCtx: streamCtx,
		logger:    logger.With().Str("component", "handlers").Logger(),
	}
}

// Ingest handles POST /api/v1/ingest.
func (h *Handlers) Ingest(c *fiber.Ctx) error {
	batch, err := ingest.DecodeBatch(c.Body())
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_batch", "Bad Request", err.Error())
	}
	if err := ingest.ValidateBatch(batch); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_batch", "Bad Request", err.Error())
	}

	result, err := h.pipeline.Ingest(c.Context(), MemberID(c), batch.Events)
	if err != nil {
		if oerrors.IsRetryable(err) {
			return problemResponse(c, fiber.StatusServiceUnavailable,
				"store_unavailable", "Service Unavailable",
				"The batch was not committed; retry the whole batch")
		}
		return err
	}

	return c.JSON(result)
}

// Sessions handles GET /api/v1/sessions. Optional filters: repo, member,
// status.
func (h *Handlers) Sessions(c *fiber.Ctx) error {
	endedSince := time.Now().UTC().Add(-endedRetention).UnixMilli()
	sessions, err := h.store.LiveSessions(c.Context(), endedSince)
	if err != nil {
		return err
	}

	repo := c.Query("repo")
	member := c.Query("member")
	status := c.Query("status")

	out := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if repo != "" && s.RepoName != repo {
			continue
		}
		if member != "" && s.MemberID != member {
			continue
		}
		if status != "" && string(s.Status) != status {
			continue
		}
		out = append(out, s)
	}

	return c.JSON(fiber.Map{"sessions": out})
}

// Overlaps handles GET /api/v1/overlaps?repo=…&since=…&limit=….
// since is unix milliseconds; the default window is 24 hours.
func (h *Handlers) Overlaps(c *fiber.Ctx) error {
	repo := c.Query("repo")
	if repo == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_param", "Bad Request", "repo query parameter is required")
	}

	since := time.Now().UTC().Add(-24 * time.Hour).UnixMilli()
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_param", "Bad Request", "since must be unix milliseconds")
		}
		since = v
	}

	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	overlaps, err := h.store.ListOverlaps(c.Context(), repo, since, limit)
	if err != nil {
		return err
	}
	if overlaps == nil {
		overlaps = []*models.Overlap{}
	}
	return c.JSON(fiber.Map{"overlaps": overlaps})
}

// Conflicts handles GET /api/v1/conflicts?repo=…&file=…(&file=…).
// It reports other members' active sessions whose latest file activity
// touches any of the given files or their directories. Read-only.
func (h *Handlers) Conflicts(c *fiber.Ctx) error {
	repo := c.Query("repo")
	if repo == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_param", "Bad Request", "repo query parameter is required")
	}

	var files []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("file") {
		if len(raw) > 0 {
			files = append(files, string(raw))
		}
	}
	if len(files) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_param", "Bad Request", "at least one file query parameter is required")
	}

	fileSet := make(map[string]struct{}, len(files))
	dirSet := make(map[string]struct{})
	for _, f := range files {
		fileSet[f] = struct{}{}
		dirSet[path.Dir(f)] = struct{}{}
	}

	candidates, err := h.store.ActiveSessionsInRepo(c.Context(), repo, MemberID(c), conflictCandidateLimit)
	if err != nil {
		return err
	}

	resp := ConflictsResponse{Repo: repo, Matches: []ConflictMatch{}}
	for _, cand := range candidates {
		act, err := h.store.LatestFileActivity(c.Context(), cand.ID)
		if err != nil {
			return err
		}
		for _, f := range touchedFiles(act) {
			_, sameFile := fileSet[f]
			_, sameDir := dirSet[path.Dir(f)]
			if !sameFile && !sameDir {
				continue
			}
			resp.Matches = append(resp.Matches, ConflictMatch{
				SessionID:      cand.ID,
				MemberID:       cand.MemberID,
				FilePath:       f,
				Branch:         cand.Branch,
				LastActivityAt: cand.LastActivityAt,
			})
		}
	}

	return c.JSON(resp)
}

// Sweep handles POST /api/v1/sweep: one on-demand sweep pass.
func (h *Handlers) Sweep(c *fiber.Ctx) error {
	res, err := h.sweeper.Run(c.Context(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// Stream handles GET /api/v1/stream: the SSE live session stream.
func (h *Handlers) Stream(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := h.streamCtx
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		h.streamer.Serve(ctx, w)
	}))
	return nil
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	status := fiber.StatusOK
	overall := "ok"
	for _, s := range results {
		if s == health.StatusDown {
			status = fiber.StatusServiceUnavailable
			overall = "down"
			break
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": results,
	})
}

func touchedFiles(a *models.Activity) []string {
	if a == nil {
		return nil
	}
	if len(a.Files) > 0 {
		return a.Files
	}
	if a.FilePath != "" {
		return []string{a.FilePath}
	}
	return nil
}
