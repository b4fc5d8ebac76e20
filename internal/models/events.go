package models

import "time"

// EventType discriminates the telemetry event union.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventFileOp        EventType = "file_op"
	EventPrompt        EventType = "prompt"
	EventAgentResponse EventType = "agent_response"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventSessionStart, EventSessionEnd, EventFileOp, EventPrompt, EventAgentResponse:
		return true
	}
	return false
}

// FileOperation is the kind of file access reported by a file_op event.
type FileOperation string

const (
	FileOpRead   FileOperation = "read"
	FileOpWrite  FileOperation = "write"
	FileOpEdit   FileOperation = "edit"
	FileOpDelete FileOperation = "delete"
)

// ValidFileOperation reports whether op is a known file operation kind.
func ValidFileOperation(op FileOperation) bool {
	switch op {
	case FileOpRead, FileOpWrite, FileOpEdit, FileOpDelete:
		return true
	}
	return false
}

// Event is one telemetry item in an ingest batch.
//
// The envelope fields (SessionID, Type, Timestamp, UserID) are required for
// every event. The remaining fields belong to individual variants; the
// validator rejects fields set on the wrong variant.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	RepoName  string    `json:"repo_name,omitempty"`

	// session_start
	Branch     string `json:"branch,omitempty"`
	Worktree   string `json:"worktree,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	IsRemote   bool   `json:"is_remote,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`

	// file_op
	FilePath  string        `json:"file_path,omitempty"`
	Operation FileOperation `json:"operation,omitempty"`
	Files     []string      `json:"files,omitempty"`
	ToolName  string        `json:"tool_name,omitempty"`

	// prompt / agent_response
	Text         string `json:"text,omitempty"`
	ResponseKind string `json:"response_kind,omitempty"`

	// session_end aggregate stats (merged first-non-null-wins)
	Turns        *int64   `json:"turns,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	InputTokens  *int64   `json:"input_tokens,omitempty"`
	OutputTokens *int64   `json:"output_tokens,omitempty"`
}

// TouchedFiles returns every file path the event references, FilePath first.
func (e *Event) TouchedFiles() []string {
	if e.FilePath == "" {
		return e.Files
	}
	out := make([]string, 0, len(e.Files)+1)
	out = append(out, e.FilePath)
	for _, f := range e.Files {
		if f != e.FilePath {
			out = append(out, f)
		}
	}
	return out
}
