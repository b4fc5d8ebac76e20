package server

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ConflictMatch is one active session touching a requested file.
type ConflictMatch struct {
	SessionID      string `json:"session_id"`
	MemberID       string `json:"member_id"`
	FilePath       string `json:"file_path"`
	Branch         string `json:"branch,omitempty"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// ConflictsResponse is the conflict pre-check result.
type ConflictsResponse struct {
	Repo    string          `json:"repo"`
	Matches []ConflictMatch `json:"matches"`
}
