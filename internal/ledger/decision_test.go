package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideGrantsBelowBothLimits(t *testing.T) {
	counts := Counts{User: 1, UserLimit: 3, System: 10, SystemLimit: 100}

	decision := Decide(counts, CallTypeCampaign, nil)

	require.True(t, decision.Granted)
	require.Nil(t, decision.Preempt)
}

func TestDecideDeniesAtUserLimit(t *testing.T) {
	counts := Counts{User: 3, UserLimit: 3, System: 10, SystemLimit: 100}

	decision := Decide(counts, CallTypeCampaign, nil)

	require.False(t, decision.Granted)
	require.Equal(t, DeniedUserLimit, decision.DeniedReason)
}

func TestDecideDeniesAtSystemLimit(t *testing.T) {
	counts := Counts{User: 1, UserLimit: 3, System: 100, SystemLimit: 100}

	decision := Decide(counts, CallTypeCampaign, nil)

	require.False(t, decision.Granted)
	require.Equal(t, DeniedSystemLimit, decision.DeniedReason)
}

func TestDecideDirectPreemptsCampaignAtUserLimit(t *testing.T) {
	counts := Counts{User: 3, UserLimit: 3, System: 10, SystemLimit: 100}
	victim := &ActiveSlot{CallID: "campaign-call", UserID: "user-1", CallType: CallTypeCampaign}

	decision := Decide(counts, CallTypeDirect, victim)

	require.True(t, decision.Granted)
	require.NotNil(t, decision.Preempt)
	require.Equal(t, "campaign-call", decision.Preempt.CallID)
}

func TestDecideDirectDeniedWithoutCampaignVictim(t *testing.T) {
	counts := Counts{User: 3, UserLimit: 3, System: 10, SystemLimit: 100}

	decision := Decide(counts, CallTypeDirect, nil)

	require.False(t, decision.Granted)
	require.Equal(t, DeniedUserLimit, decision.DeniedReason)
}

func TestDecideCampaignNeverPreempts(t *testing.T) {
	counts := Counts{User: 3, UserLimit: 3, System: 10, SystemLimit: 100}
	victim := &ActiveSlot{CallID: "campaign-call", UserID: "user-1", CallType: CallTypeCampaign}

	decision := Decide(counts, CallTypeCampaign, victim)

	require.False(t, decision.Granted)
	require.Nil(t, decision.Preempt)
}

func TestDecideDirectDeniedAtSystemLimitBelowUserLimit(t *testing.T) {
	counts := Counts{User: 1, UserLimit: 3, System: 100, SystemLimit: 100}
	victim := &ActiveSlot{CallID: "campaign-call", UserID: "user-1", CallType: CallTypeCampaign}

	decision := Decide(counts, CallTypeDirect, victim)

	require.False(t, decision.Granted)
	require.Equal(t, DeniedSystemLimit, decision.DeniedReason)
}
