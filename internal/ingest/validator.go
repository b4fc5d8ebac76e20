// Package ingest implements the batched-event processor: validation, batch
// planning against a per-request entity cache, the session lifecycle state
// machine, and the pipeline that commits each batch as one atomic write.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	oerrors "github.com/overlaphq/overlap/internal/errors"
	"github.com/overlaphq/overlap/internal/models"
)

// Batch size bounds for one ingest call.
const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

const maxFilesPerEvent = 100

// Batch is the ingest request body.
type Batch struct {
	Events []models.Event `json:"events"`
}

// DecodeBatch strictly decodes an ingest body. Unknown fields anywhere in
// the payload reject the whole batch.
func DecodeBatch(body []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var b Batch
	if err := dec.Decode(&b); err != nil {
		return nil, oerrors.NewValidationError("body", err.Error())
	}
	return &b, nil
}

// ValidateBatch checks the batch envelope and per-variant field sets. Any
// failure rejects the whole batch before any mutation; the returned error
// names the offending field.
func ValidateBatch(b *Batch) error {
	if len(b.Events) < MinBatchSize {
		return oerrors.NewValidationError("events", "batch must contain at least one event")
	}
	if len(b.Events) > MaxBatchSize {
		return oerrors.NewValidationError("events",
			fmt.Sprintf("batch exceeds %d events", MaxBatchSize))
	}

	for i := range b.Events {
		if err := validateEvent(i, &b.Events[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateEvent(i int, ev *models.Event) error {
	field := func(name string) string { return fmt.Sprintf("events[%d].%s", i, name) }

	if ev.SessionID == "" {
		return oerrors.NewValidationError(field("session_id"), "required")
	}
	if len(ev.SessionID) > 128 {
		return oerrors.NewValidationError(field("session_id"), "exceeds 128 characters")
	}
	if !models.ValidEventType(ev.Type) {
		return oerrors.NewValidationError(field("event_type"),
			fmt.Sprintf("unknown event type %q", ev.Type))
	}
	if ev.Timestamp.IsZero() {
		return oerrors.NewValidationError(field("timestamp"), "required")
	}
	if ev.UserID == "" {
		return oerrors.NewValidationError(field("user_id"), "required")
	}

	// Variant fields are optional, but a field set on the wrong variant is
	// rejected: silently dropping it would hide client bugs.
	switch ev.Type {
	case models.EventSessionStart:
		if err := rejectFileFields(field, ev); err != nil {
			return err
		}
		if err := rejectTextFields(field, ev); err != nil {
			return err
		}
		if err := rejectStatFields(field, ev); err != nil {
			return err
		}

	case models.EventSessionEnd:
		if err := rejectFileFields(field, ev); err != nil {
			return err
		}
		if err := rejectTextFields(field, ev); err != nil {
			return err
		}
		if ev.Turns != nil && *ev.Turns < 0 {
			return oerrors.NewValidationError(field("turns"), "must not be negative")
		}
		if ev.CostUSD != nil && *ev.CostUSD < 0 {
			return oerrors.NewValidationError(field("cost_usd"), "must not be negative")
		}
		if ev.InputTokens != nil && *ev.InputTokens < 0 {
			return oerrors.NewValidationError(field("input_tokens"), "must not be negative")
		}
		if ev.OutputTokens != nil && *ev.OutputTokens < 0 {
			return oerrors.NewValidationError(field("output_tokens"), "must not be negative")
		}

	case models.EventFileOp:
		if err := rejectStartFields(field, ev); err != nil {
			return err
		}
		if err := rejectTextFields(field, ev); err != nil {
			return err
		}
		if err := rejectStatFields(field, ev); err != nil {
			return err
		}
		if ev.Operation != "" && !models.ValidFileOperation(ev.Operation) {
			return oerrors.NewValidationError(field("operation"),
				fmt.Sprintf("unknown operation %q", ev.Operation))
		}
		if len(ev.Files) > maxFilesPerEvent {
			return oerrors.NewValidationError(field("files"),
				fmt.Sprintf("exceeds %d entries", maxFilesPerEvent))
		}
		for j, f := range ev.Files {
			if f == "" {
				return oerrors.NewValidationError(
					fmt.Sprintf("events[%d].files[%d]", i, j), "must not be empty")
			}
		}

	case models.EventPrompt:
		if err := rejectStartFields(field, ev); err != nil {
			return err
		}
		if err := rejectFileFields(field, ev); err != nil {
			return err
		}
		if err := rejectStatFields(field, ev); err != nil {
			return err
		}
		if ev.ResponseKind != "" {
			return oerrors.NewValidationError(field("response_kind"), "not allowed for prompt events")
		}

	case models.EventAgentResponse:
		if err := rejectStartFields(field, ev); err != nil {
			return err
		}
		if err := rejectFileFields(field, ev); err != nil {
			return err
		}
		if err := rejectStatFields(field, ev); err != nil {
			return err
		}
	}

	return nil
}

func rejectStartFields(field func(string) string, ev *models.Event) error {
	switch {
	case ev.Branch != "":
		return oerrors.NewValidationError(field("branch"), "only allowed on session_start events")
	case ev.Worktree != "":
		return oerrors.NewValidationError(field("worktree"), "only allowed on session_start events")
	case ev.DeviceName != "":
		return oerrors.NewValidationError(field("device_name"), "only allowed on session_start events")
	case ev.Hostname != "":
		return oerrors.NewValidationError(field("hostname"), "only allowed on session_start events")
	case ev.IsRemote:
		return oerrors.NewValidationError(field("is_remote"), "only allowed on session_start events")
	case ev.RemoteURL != "":
		return oerrors.NewValidationError(field("remote_url"), "only allowed on session_start events")
	}
	return nil
}

func rejectFileFields(field func(string) string, ev *models.Event) error {
	switch {
	case ev.FilePath != "":
		return oerrors.NewValidationError(field("file_path"), "only allowed on file_op events")
	case ev.Operation != "":
		return oerrors.NewValidationError(field("operation"), "only allowed on file_op events")
	case len(ev.Files) > 0:
		return oerrors.NewValidationError(field("files"), "only allowed on file_op events")
	case ev.ToolName != "":
		return oerrors.NewValidationError(field("tool_name"), "only allowed on file_op events")
	}
	return nil
}

func rejectTextFields(field func(string) string, ev *models.Event) error {
	switch {
	case ev.Text != "":
		return oerrors.NewValidationError(field("text"), "only allowed on prompt and agent_response events")
	case ev.ResponseKind != "":
		return oerrors.NewValidationError(field("response_kind"), "only allowed on agent_response events")
	}
	return nil
}

func rejectStatFields(field func(string) string, ev *models.Event) error {
	switch {
	case ev.Turns != nil:
		return oerrors.NewValidationError(field("turns"), "only allowed on session_end events")
	case ev.CostUSD != nil:
		return oerrors.NewValidationError(field("cost_usd"), "only allowed on session_end events")
	case ev.InputTokens != nil:
		return oerrors.NewValidationError(field("input_tokens"), "only allowed on session_end events")
	case ev.OutputTokens != nil:
		return oerrors.NewValidationError(field("output_tokens"), "only allowed on session_end events")
	}
	return nil
}
