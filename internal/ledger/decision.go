package ledger

// Counts is the state of the ledger observed under the admission lock.
type Counts struct {
	User        int
	UserLimit   int
	System      int
	SystemLimit int
}

// Decision is the outcome of one admission check. When Preempt is set the
// grant is conditional on evicting that campaign slot first; the eviction
// frees one user slot and one system slot, so both limits still hold after
// the new slot is inserted.
type Decision struct {
	Granted      bool
	DeniedReason string
	Preempt      *ActiveSlot
}

// Decide applies the admission rules to counts observed under the lock.
// oldestCampaign is the user's oldest campaign slot, or nil if none exists.
// Campaign calls never preempt; only a direct call at the user limit may
// evict a campaign slot.
func Decide(counts Counts, callType string, oldestCampaign *ActiveSlot) Decision {
	if counts.User < counts.UserLimit && counts.System < counts.SystemLimit {
		return Decision{Granted: true}
	}

	if callType == CallTypeDirect && counts.User >= counts.UserLimit && oldestCampaign != nil {
		return Decision{Granted: true, Preempt: oldestCampaign}
	}

	reason := DeniedSystemLimit
	if counts.User >= counts.UserLimit {
		reason = DeniedUserLimit
	}

	return Decision{Granted: false, DeniedReason: reason}
}
