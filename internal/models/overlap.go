package models

// OverlapType is how two concurrent sessions were matched.
type OverlapType string

const (
	OverlapFile      OverlapType = "file"
	OverlapScope     OverlapType = "scope"
	OverlapDirectory OverlapType = "directory"
)

// OverlapSeverity ranks how likely a detected overlap is a real conflict.
type OverlapSeverity string

const (
	SeverityHigh   OverlapSeverity = "high"
	SeverityMedium OverlapSeverity = "medium"
	SeverityLow    OverlapSeverity = "low"
)

// Overlap is a derived assertion that two different members have concurrent
// sessions touching the same file, directory or semantic scope.
//
// SessionA/MemberA is always the triggering side. A newer detection of the
// same (type, session pair, file) refreshes DetectedAt rather than creating
// a second record.
type Overlap struct {
	ID       string          `json:"id"`
	Type     OverlapType     `json:"type"`
	Severity OverlapSeverity `json:"severity"`
	RepoName string          `json:"repo_name"`

	MemberA  string `json:"member_a"`
	MemberB  string `json:"member_b"`
	SessionA string `json:"session_a"`
	SessionB string `json:"session_b"`

	FilePath      string `json:"file_path,omitempty"`
	DirectoryPath string `json:"directory_path,omitempty"`
	Description   string `json:"description,omitempty"`

	DetectedAt int64 `json:"detected_at"`
}
