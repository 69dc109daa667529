package call

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrdinalProgression(t *testing.T) {
	require.Equal(t, -1, Ordinal(StatusPending))
	require.Equal(t, 0, Ordinal(StatusInitiated))
	require.Equal(t, 1, Ordinal(StatusRinging))
	require.Equal(t, 2, Ordinal(StatusInProgress))
	require.Equal(t, 3, Ordinal(StatusCallDisconnected))
	require.Equal(t, 4, Ordinal(StatusCompleted))
	require.Equal(t, 4, Ordinal(StatusBusy))
	require.Equal(t, -2, Ordinal("hold_music"))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StatusCompleted))
	require.True(t, IsTerminal(StatusBusy))
	require.True(t, IsTerminal(StatusNoAnswer))
	require.True(t, IsTerminal(StatusFailed))
	require.False(t, IsTerminal(StatusCallDisconnected))
	require.False(t, IsTerminal(StatusPending))
}

func TestCanTransitionForwardOnly(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusInitiated))
	require.True(t, CanTransition(StatusInitiated, StatusRinging))
	require.True(t, CanTransition(StatusRinging, StatusInProgress))
	require.True(t, CanTransition(StatusInProgress, StatusCallDisconnected))
	require.True(t, CanTransition(StatusCallDisconnected, StatusCompleted))

	// Skipped intermediate notifications still advance the call.
	require.True(t, CanTransition(StatusPending, StatusInProgress))
	require.True(t, CanTransition(StatusInitiated, StatusCallDisconnected))
}

func TestCanTransitionRejectsDuplicatesAndReplays(t *testing.T) {
	require.False(t, CanTransition(StatusRinging, StatusRinging))
	require.False(t, CanTransition(StatusInProgress, StatusRinging))
	require.False(t, CanTransition(StatusCallDisconnected, StatusInitiated))
	require.False(t, CanTransition(StatusCompleted, StatusCallDisconnected))
}

func TestCanTransitionBranchTerminalsOnlyBeforeAnswer(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusNoAnswer))
	require.True(t, CanTransition(StatusInitiated, StatusBusy))
	require.True(t, CanTransition(StatusRinging, StatusFailed))

	require.False(t, CanTransition(StatusInProgress, StatusBusy))
	require.False(t, CanTransition(StatusCallDisconnected, StatusNoAnswer))
	require.False(t, CanTransition(StatusCompleted, StatusFailed))
}

func TestCanTransitionBranchTerminalIsFinal(t *testing.T) {
	require.False(t, CanTransition(StatusBusy, StatusCompleted))
	require.False(t, CanTransition(StatusNoAnswer, StatusInProgress))
	require.False(t, CanTransition(StatusFailed, StatusFailed))
}

func TestCanTransitionUnknownStatus(t *testing.T) {
	require.False(t, CanTransition(StatusRinging, "transferring"))
	require.False(t, CanTransition(StatusRinging, StatusPending))
}
