package ledger

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	prometheusFennec "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/usersettings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerService is the sole arbiter of call admission: how many calls a user
// and the system are running right now, and whether one more may start.
type LedgerService struct {
	SlotRepository     *SlotRepository
	SettingsRepository *usersettings.SettingsRepository
}

func NewService(dbConn *gorm.DB) *LedgerService {
	return &LedgerService{
		SlotRepository:     NewSlotRepository(dbConn),
		SettingsRepository: usersettings.NewSettingsRepository(dbConn),
	}
}

// Reserve attempts to claim one slot for callID. Contention is not an error:
// a full user or system simply yields a denied decision.
func (ledgerService *LedgerService) Reserve(
	ctx context.Context,
	userID, callID, callType string,
) (*Reservation, error) {
	userLimit, err := ledgerService.SettingsRepository.GetConcurrencyLimit(ctx, userID)
	if err != nil {
		return nil, err
	}

	reservation, err := ledgerService.SlotRepository.ReserveSlot(
		ctx,
		userID,
		callID,
		callType,
		userLimit,
		config.Conf.SystemConcurrencyLimit,
	)
	if err != nil {
		return nil, err
	}

	ledgerService.observeDecision(userID, callID, reservation)

	return reservation, nil
}

func (ledgerService *LedgerService) observeDecision(userID, callID string, reservation *Reservation) {
	switch {
	case reservation.Decision.Granted && reservation.PreemptedCallID != "":
		prometheusFennec.AdmissionDecisions.WithLabelValues("granted_preemption").Inc()
		prometheusFennec.Preemptions.Inc()

		logging.Logger.Warn("campaign call preempted by direct call",
			zap.String("user_id", userID),
			zap.String("call_id", callID),
			zap.String("preempted_call_id", reservation.PreemptedCallID),
			zap.String("preempted_queue_item_id", reservation.PreemptedQueueID),
		)
	case reservation.Decision.Granted:
		prometheusFennec.AdmissionDecisions.WithLabelValues("granted").Inc()
	default:
		prometheusFennec.AdmissionDecisions.WithLabelValues("denied_" + reservation.Decision.DeniedReason).Inc()

		logging.Logger.Debug("slot reservation denied",
			zap.String("user_id", userID),
			zap.String("call_id", callID),
			zap.String("reason", reservation.Decision.DeniedReason),
		)
	}
}

// Release frees the slot held by callID. Safe to call for an already
// released slot; a persistence failure propagates because a lost release
// leaks capacity permanently.
func (ledgerService *LedgerService) Release(ctx context.Context, callID string) error {
	return ledgerService.SlotRepository.ReleaseSlot(ctx, callID)
}

// SlotHeld reports whether callID still holds its slot.
func (ledgerService *LedgerService) SlotHeld(ctx context.Context, callID string) (bool, error) {
	return ledgerService.SlotRepository.SlotHeld(ctx, callID)
}

func (ledgerService *LedgerService) UserStats(ctx context.Context, userID string) (*Stats, error) {
	limit, err := ledgerService.SettingsRepository.GetConcurrencyLimit(ctx, userID)
	if err != nil {
		return nil, err
	}

	active, err := ledgerService.SlotRepository.CountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return newStats(active, limit), nil
}

func (ledgerService *LedgerService) SystemStats(ctx context.Context) (*Stats, error) {
	active, err := ledgerService.SlotRepository.CountAll(ctx)
	if err != nil {
		return nil, err
	}

	return newStats(active, config.Conf.SystemConcurrencyLimit), nil
}

func newStats(active, limit int) *Stats {
	available := limit - active
	if available < 0 {
		available = 0
	}

	return &Stats{Active: active, Limit: limit, Available: available}
}

// ReapOrphans reclaims slots whose call has been live longer than maxAge.
// This is the crash-recovery path for capacity leaked between reservation
// and release.
func (ledgerService *LedgerService) ReapOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	slots, err := ledgerService.SlotRepository.GetStaleSlots(ctx, maxAge)
	if err != nil {
		return 0, err
	}

	reaped := 0

	for idx := range slots {
		slot := slots[idx]

		err := ledgerService.SlotRepository.ReapOrphan(ctx, &slot)
		if err != nil {
			return reaped, err
		}

		reaped++

		prometheusFennec.OrphanedSlotsReaped.Inc()

		logging.Logger.Warn("reaped orphaned active slot",
			zap.String("call_id", slot.CallID),
			zap.String("user_id", slot.UserID),
			zap.Time("started_at", slot.StartedAt),
		)
	}

	return reaped, nil
}
