package models

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionStale  SessionStatus = "stale"
	SessionEnded  SessionStatus = "ended"
)

// Session is one continuous unit of work by one member in one repository.
//
// Timestamps are unix milliseconds. EndedAt is zero unless Status is
// SessionEnded. Aggregate stats are pointers so that "never reported" is
// distinguishable from zero (first-non-null-wins merging).
type Session struct {
	ID       string `json:"id"`
	MemberID string `json:"member_id"`
	RepoName string `json:"repo_name,omitempty"`

	Branch     string `json:"branch,omitempty"`
	Worktree   string `json:"worktree,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	IsRemote   bool   `json:"is_remote,omitempty"`

	Status         SessionStatus `json:"status"`
	StartedAt      int64         `json:"started_at"`
	LastActivityAt int64         `json:"last_activity_at"`
	EndedAt        int64         `json:"ended_at,omitempty"`
	EventCount     int64         `json:"event_count"`

	Turns        *int64   `json:"turns,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	InputTokens  *int64   `json:"input_tokens,omitempty"`
	OutputTokens *int64   `json:"output_tokens,omitempty"`

	// Enrichment (best-effort, derived after the durable write)
	Scope      string `json:"scope,omitempty"`
	Summary    string `json:"summary,omitempty"`
	EnrichedAt int64  `json:"-"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Open reports whether the session is in a non-ended state.
func (s *Session) Open() bool {
	return s.Status == SessionActive || s.Status == SessionStale
}

// ActivityKind discriminates activity records.
type ActivityKind string

const (
	ActivityFileOp        ActivityKind = "file_op"
	ActivityPrompt        ActivityKind = "prompt"
	ActivityAgentResponse ActivityKind = "agent_response"
)

// Activity is an immutable, append-only fact attached to a session.
type Activity struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Kind      ActivityKind `json:"kind"`
	Timestamp int64        `json:"timestamp"`

	FilePath  string        `json:"file_path,omitempty"`
	Operation FileOperation `json:"operation,omitempty"`
	Files     []string      `json:"files,omitempty"`
	ToolName  string        `json:"tool_name,omitempty"`

	Text         string `json:"text,omitempty"`
	ResponseKind string `json:"response_kind,omitempty"`
}

// TouchedFiles returns every file path the activity references.
func (a *Activity) TouchedFiles() []string {
	if a.FilePath == "" {
		return a.Files
	}
	out := make([]string, 0, len(a.Files)+1)
	out = append(out, a.FilePath)
	for _, f := range a.Files {
		if f != a.FilePath {
			out = append(out, f)
		}
	}
	return out
}

// Repo is a repository referenced by sessions. Name is the natural key.
type Repo struct {
	Name          string `json:"name"`
	RemoteURL     string `json:"remote_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}
