package call

import (
	"errors"

	"github.com/goccy/go-json"
)

var (
	ErrMissingExecutionID = errors.New("notification is missing execution_id")
	ErrUnknownStatus      = errors.New("notification has an unknown lifecycle status")
)

// Notification is one asynchronous lifecycle event for a call, delivered
// at-least-once and possibly out of order by the call placement provider.
type Notification struct {
	ExecutionID     string          `json:"execution_id"`
	Status          string          `json:"status"`
	DurationSeconds int             `json:"duration_seconds"`
	HangupBy        string          `json:"hangup_by"`
	HangupReason    string          `json:"hangup_reason"`
	RecordingURL    string          `json:"recording_url"`
	Transcript      json.RawMessage `json:"transcript"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (notification *Notification) Validate() error {
	if notification.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	if !IsKnownStatus(notification.Status) {
		return ErrUnknownStatus
	}

	return nil
}

// hangupIndicatesFailure distinguishes a disconnect that completed the
// conversation from one the provider reports as an error.
func (notification *Notification) hangupIndicatesFailure() bool {
	switch notification.HangupReason {
	case "error", "failed":
		return true
	default:
		return false
	}
}
