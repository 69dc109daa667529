package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var planNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestPlanTransitionCreatesOnFirstNotification(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusInProgress}

	plan := PlanTransition("", false, notification, planNow)

	require.Equal(t, OutcomeCreated, plan.Outcome)
	require.Equal(t, StatusInProgress, plan.Updates["lifecycle_status"])
	require.Equal(t, planNow, plan.Updates["answered_at"])
	require.False(t, plan.ReleaseSlot)
	require.Equal(t, QueueNone, plan.QueueAction)
}

func TestPlanTransitionStaleDuplicate(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusRinging}

	plan := PlanTransition(StatusRinging, true, notification, planNow)

	require.Equal(t, OutcomeStale, plan.Outcome)
	require.Nil(t, plan.Updates)
}

func TestPlanTransitionStaleOutOfOrder(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusInitiated}

	plan := PlanTransition(StatusCallDisconnected, true, notification, planNow)

	require.Equal(t, OutcomeStale, plan.Outcome)
}

func TestPlanTransitionDisconnectReleasesSlotAndCompletesQueue(t *testing.T) {
	notification := &Notification{
		ExecutionID:     "exec-1",
		Status:          StatusCallDisconnected,
		DurationSeconds: 42,
		HangupBy:        "callee",
		HangupReason:    "normal",
	}

	plan := PlanTransition(StatusInProgress, true, notification, planNow)

	require.Equal(t, OutcomeAdvanced, plan.Outcome)
	require.True(t, plan.ReleaseSlot)
	require.Equal(t, QueueComplete, plan.QueueAction)
	require.False(t, plan.TriggerAnalysis)
	require.Equal(t, 42, plan.Updates["duration_seconds"])
	require.Equal(t, "callee", plan.Updates["hangup_by"])
	require.Equal(t, planNow, plan.Updates["disconnected_at"])
}

func TestPlanTransitionDisconnectWithErrorHangupFailsQueue(t *testing.T) {
	notification := &Notification{
		ExecutionID:  "exec-1",
		Status:       StatusCallDisconnected,
		HangupReason: "error",
	}

	plan := PlanTransition(StatusInProgress, true, notification, planNow)

	require.True(t, plan.ReleaseSlot)
	require.Equal(t, QueueFail, plan.QueueAction)
	require.Equal(t, "error", plan.QueueFailureReason)
}

func TestPlanTransitionBranchTerminalReleasesSlotAndFailsQueue(t *testing.T) {
	for _, status := range []string{StatusBusy, StatusNoAnswer, StatusFailed} {
		notification := &Notification{ExecutionID: "exec-1", Status: status}

		plan := PlanTransition(StatusRinging, true, notification, planNow)

		require.True(t, plan.ReleaseSlot, status)
		require.Equal(t, QueueFail, plan.QueueAction, status)
		require.Equal(t, status, plan.QueueFailureReason)
		require.Equal(t, planNow, plan.Updates["completed_at"])
	}
}

func TestPlanTransitionCompletedTriggersAnalysis(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusCompleted}

	plan := PlanTransition(StatusCallDisconnected, true, notification, planNow)

	require.Equal(t, OutcomeAdvanced, plan.Outcome)
	require.True(t, plan.TriggerAnalysis)
	require.False(t, plan.ReleaseSlot)
	require.Equal(t, QueueNone, plan.QueueAction)
}

func TestPlanTransitionCompletedSkippingDisconnectReleasesSlot(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusCompleted}

	plan := PlanTransition(StatusInProgress, true, notification, planNow)

	require.Equal(t, OutcomeAdvanced, plan.Outcome)
	require.True(t, plan.TriggerAnalysis)
	require.True(t, plan.ReleaseSlot)
	require.Equal(t, QueueComplete, plan.QueueAction)
}

func TestPlanTransitionCompletedSkippingDisconnectWithErrorHangup(t *testing.T) {
	notification := &Notification{
		ExecutionID:  "exec-1",
		Status:       StatusCompleted,
		HangupReason: "error",
	}

	plan := PlanTransition(StatusRinging, true, notification, planNow)

	require.True(t, plan.ReleaseSlot)
	require.Equal(t, QueueFail, plan.QueueAction)
	require.Equal(t, "error", plan.QueueFailureReason)
}

func TestPlanTransitionCompletedAtBirthReleasesSlot(t *testing.T) {
	notification := &Notification{ExecutionID: "exec-1", Status: StatusCompleted}

	plan := PlanTransition("", false, notification, planNow)

	require.Equal(t, OutcomeCreated, plan.Outcome)
	require.True(t, plan.ReleaseSlot)
	require.Equal(t, QueueComplete, plan.QueueAction)
	require.True(t, plan.TriggerAnalysis)
}

func TestPlanTransitionRecordingOverwrittenOnlyWhenPresent(t *testing.T) {
	withRecording := &Notification{
		ExecutionID:  "exec-1",
		Status:       StatusCompleted,
		RecordingURL: "https://records/exec-1.wav",
	}

	plan := PlanTransition(StatusCallDisconnected, true, withRecording, planNow)
	require.Equal(t, "https://records/exec-1.wav", plan.Updates["recording_url"])

	withoutRecording := &Notification{ExecutionID: "exec-2", Status: StatusCallDisconnected}

	plan = PlanTransition(StatusInProgress, true, withoutRecording, planNow)
	_, present := plan.Updates["recording_url"]
	require.False(t, present)
}

func TestNotificationValidate(t *testing.T) {
	require.ErrorIs(t, (&Notification{Status: StatusRinging}).Validate(), ErrMissingExecutionID)
	require.ErrorIs(t, (&Notification{ExecutionID: "exec-1", Status: "paused"}).Validate(), ErrUnknownStatus)
	require.ErrorIs(t, (&Notification{ExecutionID: "exec-1", Status: StatusPending}).Validate(), ErrUnknownStatus)
	require.NoError(t, (&Notification{ExecutionID: "exec-1", Status: StatusRinging}).Validate())
}
