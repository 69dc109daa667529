package ledger

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidReservationResult = errors.New("invalid result type, it should be pointer to Reservation struct")
	ErrInvalidSlotsResult       = errors.New("invalid result type, it should be slice of ActiveSlot")
)

// systemLockKey is the advisory lock guarding the system-wide count. It is
// always taken before any per-user lock so concurrent reservations cannot
// deadlock.
const systemLockKey int64 = 0x66656e6e6563

type Reservation struct {
	Decision         Decision
	Slot             *ActiveSlot
	PreemptedCallID  string
	PreemptedQueueID string
}

type SlotRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewSlotRepository(dbConn *gorm.DB) *SlotRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &SlotRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func userLockKey(userID string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(userID))

	return int64(hasher.Sum64())
}

// ReserveSlot runs the whole admission check as one transaction holding the
// system and per-user advisory locks, so concurrent callers observing
// "count < limit" serialize and can never overshoot either limit.
func (slotRepository *SlotRepository) ReserveSlot(
	ctx context.Context,
	userID, callID, callType string,
	userLimit, systemLimit int,
) (*Reservation, error) {
	result, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		var reservation *Reservation

		err := slotRepository.DBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error

			reservation, txErr = reserveSlotLocked(tx, userID, callID, callType, userLimit, systemLimit)

			return txErr
		})
		if err != nil {
			logging.Logger.Error("[ReserveSlot] Admission transaction failed",
				zap.String("user_id", userID),
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return reservation, nil
	})
	if err != nil {
		return nil, err
	}

	reservation, ok := result.(*Reservation)
	if !ok {
		return nil, ErrInvalidReservationResult
	}

	return reservation, nil
}

func reserveSlotLocked(
	tx *gorm.DB,
	userID, callID, callType string,
	userLimit, systemLimit int,
) (*Reservation, error) {
	err := tx.Exec("SELECT pg_advisory_xact_lock(?)", systemLockKey).Error
	if err != nil {
		return nil, err
	}

	err = tx.Exec("SELECT pg_advisory_xact_lock(?)", userLockKey(userID)).Error
	if err != nil {
		return nil, err
	}

	counts, err := countsLocked(tx, userID, userLimit, systemLimit)
	if err != nil {
		return nil, err
	}

	oldestCampaign, err := oldestCampaignSlotLocked(tx, userID)
	if err != nil {
		return nil, err
	}

	decision := Decide(counts, callType, oldestCampaign)

	reservation := &Reservation{Decision: decision}

	if !decision.Granted {
		return reservation, nil
	}

	if decision.Preempt != nil {
		err = evictCampaignSlotLocked(tx, decision.Preempt, reservation)
		if err != nil {
			return nil, err
		}
	}

	slot := &ActiveSlot{
		CallID:    callID,
		UserID:    userID,
		CallType:  callType,
		StartedAt: time.Now(),
	}

	err = tx.Create(slot).Error
	if err != nil {
		return nil, err
	}

	reservation.Slot = slot

	return reservation, nil
}

func countsLocked(tx *gorm.DB, userID string, userLimit, systemLimit int) (Counts, error) {
	var userCount, systemCount int64

	err := tx.Model(&ActiveSlot{}).Where("user_id = ?", userID).Count(&userCount).Error
	if err != nil {
		return Counts{}, err
	}

	err = tx.Model(&ActiveSlot{}).Count(&systemCount).Error
	if err != nil {
		return Counts{}, err
	}

	return Counts{
		User:        int(userCount),
		UserLimit:   userLimit,
		System:      int(systemCount),
		SystemLimit: systemLimit,
	}, nil
}

// oldestCampaignSlotLocked picks the preemption victim: oldest started_at
// first, ties broken by the lowest queue item position when one is linked.
func oldestCampaignSlotLocked(tx *gorm.DB, userID string) (*ActiveSlot, error) {
	var slots []ActiveSlot

	err := tx.Model(&ActiveSlot{}).
		Select("active_slots.*").
		Joins("LEFT JOIN queue_items ON queue_items.call_id = active_slots.call_id").
		Where("active_slots.user_id = ? AND active_slots.call_type = ?", userID, CallTypeCampaign).
		Order("active_slots.started_at ASC, queue_items.position ASC NULLS LAST").
		Limit(1).
		Find(&slots).Error
	if err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		return nil, nil
	}

	return &slots[0], nil
}

// evictCampaignSlotLocked removes the victim slot, marks its call failed
// with reason preempted and sends its queue item back to queued with an
// incremented attempt. Raw table updates keep this package free of domain
// imports; the schemas are owned by the queue and call packages.
func evictCampaignSlotLocked(tx *gorm.DB, victim *ActiveSlot, reservation *Reservation) error {
	err := tx.Where("call_id = ?", victim.CallID).Delete(&ActiveSlot{}).Error
	if err != nil {
		return err
	}

	err = tx.Table("calls").
		Where("id = ? AND lifecycle_status NOT IN ?", victim.CallID, terminalStatuses()).
		Updates(map[string]any{
			"lifecycle_status": "failed",
			"hangup_by":        "system",
			"hangup_reason":    "preempted",
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		return err
	}

	var queueItemIDs []string

	err = tx.Table("queue_items").
		Where("call_id = ?", victim.CallID).
		Limit(1).
		Pluck("id", &queueItemIDs).Error
	if err != nil {
		return err
	}

	if len(queueItemIDs) > 0 {
		queueItemID := queueItemIDs[0]

		err = tx.Table("queue_items").
			Where("id = ?", queueItemID).
			Updates(map[string]any{
				"status":         "queued",
				"attempts":       gorm.Expr("attempts + 1"),
				"failure_reason": "preempted",
				"call_id":        nil,
			}).Error
		if err != nil {
			return err
		}

		reservation.PreemptedQueueID = queueItemID
	}

	reservation.PreemptedCallID = victim.CallID

	return nil
}

func terminalStatuses() []string {
	return []string{"completed", "busy", "no_answer", "failed"}
}

// ReleaseSlot deletes the slot for callID. Releasing an absent slot is a
// no-op, which makes duplicate terminal notifications safe.
func (slotRepository *SlotRepository) ReleaseSlot(ctx context.Context, callID string) error {
	_, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		err := ReleaseSlotTx(slotRepository.DBConn.WithContext(ctx), callID)
		if err != nil {
			logging.Logger.Error("[ReleaseSlot] Failed to delete active slot",
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return nil, nil
	})

	return err
}

// ReleaseSlotTx is the transactional form used by the lifecycle state
// machine so slot release commits atomically with the call transition.
func ReleaseSlotTx(tx *gorm.DB, callID string) error {
	return tx.Where("call_id = ?", callID).Delete(&ActiveSlot{}).Error
}

// SlotHeld reports whether a slot still backs callID. A reserved slot can
// be preempted by a direct call before the dispatcher is reached, so the
// scheduler checks this right before placing the call.
func (slotRepository *SlotRepository) SlotHeld(ctx context.Context, callID string) (bool, error) {
	var count int64

	_, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		err := slotRepository.DBConn.WithContext(ctx).
			Model(&ActiveSlot{}).
			Where("call_id = ?", callID).
			Count(&count).Error

		return nil, err
	})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (slotRepository *SlotRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int64

	_, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		err := slotRepository.DBConn.WithContext(ctx).
			Model(&ActiveSlot{}).
			Where("user_id = ?", userID).
			Count(&count).Error

		return nil, err
	})
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

func (slotRepository *SlotRepository) CountAll(ctx context.Context) (int, error) {
	var count int64

	_, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		err := slotRepository.DBConn.WithContext(ctx).
			Model(&ActiveSlot{}).
			Count(&count).Error

		return nil, err
	})
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

// GetStaleSlots returns slots that have been active longer than maxAge.
func (slotRepository *SlotRepository) GetStaleSlots(
	ctx context.Context,
	maxAge time.Duration,
) ([]ActiveSlot, error) {
	result, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		var slots []ActiveSlot

		err := slotRepository.DBConn.WithContext(ctx).
			Where("started_at < ?", time.Now().Add(-maxAge)).
			Order("started_at ASC").
			Find(&slots).Error
		if err != nil {
			return nil, err
		}

		return slots, nil
	})
	if err != nil {
		return nil, err
	}

	slots, ok := result.([]ActiveSlot)
	if !ok {
		return nil, ErrInvalidSlotsResult
	}

	return slots, nil
}

// ReapOrphan reclaims one leaked slot: the slot row goes away, the call is
// forced terminal and the queue item is failed, all in one transaction.
func (slotRepository *SlotRepository) ReapOrphan(ctx context.Context, slot *ActiveSlot) error {
	_, err := slotRepository.CircuitBreaker.Execute(func() (any, error) {
		err := slotRepository.DBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Where("call_id = ?", slot.CallID).Delete(&ActiveSlot{}).Error
			if err != nil {
				return err
			}

			err = tx.Table("calls").
				Where("id = ? AND lifecycle_status NOT IN ?", slot.CallID, terminalStatuses()).
				Updates(map[string]any{
					"lifecycle_status": "failed",
					"hangup_by":        "system",
					"hangup_reason":    "orphan_reaped",
					"updated_at":       time.Now(),
				}).Error
			if err != nil {
				return err
			}

			return tx.Table("queue_items").
				Where("call_id = ? AND status = ?", slot.CallID, "processing").
				Updates(map[string]any{
					"status":         "failed",
					"failure_reason": "orphan_reaped",
				}).Error
		})
		if err != nil {
			logging.Logger.Error("[ReapOrphan] Failed to reap orphaned slot",
				zap.String("call_id", slot.CallID),
				zap.String("user_id", slot.UserID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return nil, nil
	})

	return err
}
