package call

import "time"

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeAdvanced Outcome = "advanced"
	OutcomeStale    Outcome = "stale"
)

type QueueAction int

const (
	QueueNone QueueAction = iota
	QueueComplete
	QueueFail
)

// Plan is the pure result of evaluating one notification against the
// current call state: what to write, and which side effects the transition
// owes. ReleaseSlot and the queue action are critical; TriggerAnalysis is
// best-effort.
type Plan struct {
	Outcome            Outcome
	Updates            map[string]any
	ReleaseSlot        bool
	QueueAction        QueueAction
	QueueFailureReason string
	TriggerAnalysis    bool
}

// PlanTransition decides how a notification applies to a call currently in
// currentStatus (exists = false means call birth: the first notification
// for this execution id, whatever its status). The decision depends only on
// its inputs so duplicate deliveries plan identically.
func PlanTransition(currentStatus string, exists bool, notification *Notification, now time.Time) Plan {
	if exists && !CanTransition(currentStatus, notification.Status) {
		return Plan{Outcome: OutcomeStale}
	}

	plan := Plan{
		Outcome: OutcomeAdvanced,
		Updates: buildUpdates(notification, now),
	}

	if !exists {
		plan.Outcome = OutcomeCreated
	}

	switch notification.Status {
	case StatusCallDisconnected:
		// Authoritative completion: capacity is released here, not at
		// "completed", because the final recording may arrive much later
		// or never.
		planDisconnectEffects(&plan, notification)
	case StatusBusy, StatusNoAnswer, StatusFailed:
		plan.ReleaseSlot = true
		plan.QueueAction = QueueFail
		plan.QueueFailureReason = notification.Status
	case StatusCompleted:
		plan.TriggerAnalysis = true

		// A completed that skips call_disconnected would make the later
		// disconnect stale, so its critical effects run now.
		if !exists || Ordinal(currentStatus) < Ordinal(StatusCallDisconnected) {
			planDisconnectEffects(&plan, notification)
		}
	}

	return plan
}

func planDisconnectEffects(plan *Plan, notification *Notification) {
	plan.ReleaseSlot = true

	if notification.hangupIndicatesFailure() {
		plan.QueueAction = QueueFail
		plan.QueueFailureReason = notification.HangupReason
	} else {
		plan.QueueAction = QueueComplete
	}
}

func buildUpdates(notification *Notification, now time.Time) map[string]any {
	updates := map[string]any{
		"lifecycle_status": notification.Status,
	}

	if column := stageTimestampColumn(notification.Status); column != "" {
		updates[column] = now
	}

	if notification.DurationSeconds > 0 {
		updates["duration_seconds"] = notification.DurationSeconds
	}

	if notification.HangupBy != "" {
		updates["hangup_by"] = notification.HangupBy
	}

	if notification.HangupReason != "" {
		updates["hangup_reason"] = notification.HangupReason
	}

	// Overwrite the recording only when the new notification carries one.
	if notification.RecordingURL != "" {
		updates["recording_url"] = notification.RecordingURL
	}

	if len(notification.Metadata) > 0 {
		updates["metadata"] = []byte(notification.Metadata)
	}

	return updates
}

func stageTimestampColumn(status string) string {
	switch status {
	case StatusInitiated:
		return "initiated_at"
	case StatusRinging:
		return "ringing_at"
	case StatusInProgress:
		return "answered_at"
	case StatusCallDisconnected:
		return "disconnected_at"
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
		return "completed_at"
	default:
		return ""
	}
}
