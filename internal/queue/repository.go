package queue

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/campaign"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidQueueItemResult  = errors.New("invalid result type, it should be pointer to QueueItem struct")
	ErrInvalidQueueItemsResult = errors.New("invalid result type, it should be slice of QueueItem")
	ErrInvalidUserIDsResult    = errors.New("invalid result type, it should be slice of user ids")
	ErrItemNotQueued           = errors.New("queue item is not in queued status")
)

type QueueRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewQueueRepository(dbConn *gorm.DB) *QueueRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &QueueRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// UsersWithQueuedWork returns the distinct users owning at least one queued
// item, ordered so round-robin passes visit them deterministically.
func (queueRepository *QueueRepository) UsersWithQueuedWork(ctx context.Context) ([]string, error) {
	result, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		var userIDs []string

		err := queueRepository.DBConn.WithContext(ctx).
			Model(&QueueItem{}).
			Distinct("user_id").
			Where("status = ?", StatusQueued).
			Order("user_id ASC").
			Pluck("user_id", &userIDs).Error
		if err != nil {
			return nil, err
		}

		return userIDs, nil
	})
	if err != nil {
		return nil, err
	}

	userIDs, ok := result.([]string)
	if !ok {
		return nil, ErrInvalidUserIDsResult
	}

	return userIDs, nil
}

// NextCandidates returns the user's queued, due items for active campaigns
// in dispatch order: priority classes first, strict FIFO by position within
// a class; no other ordering heuristic applies. Calling-window and date
// gates are per campaign and checked by the scheduler, so a batch is
// returned rather than a single row.
func (queueRepository *QueueRepository) NextCandidates(
	ctx context.Context,
	userID string,
	now time.Time,
	limit int,
) ([]QueueItem, error) {
	result, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		var items []QueueItem

		err := queueRepository.DBConn.WithContext(ctx).
			Model(&QueueItem{}).
			Select("queue_items.*").
			Joins("JOIN campaigns ON campaigns.id = queue_items.campaign_id").
			Where("queue_items.user_id = ? AND queue_items.status = ?", userID, StatusQueued).
			Where("campaigns.status = ?", campaign.StatusActive).
			Where("queue_items.scheduled_for <= ?", now).
			Order("queue_items.priority DESC, queue_items.position ASC").
			Limit(limit).
			Find(&items).Error
		if err != nil {
			logging.Logger.Error("[NextCandidates] Failed to query queued items",
				zap.String("user_id", userID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return items, nil
	})
	if err != nil {
		return nil, err
	}

	items, ok := result.([]QueueItem)
	if !ok {
		return nil, ErrInvalidQueueItemsResult
	}

	return items, nil
}

// MarkProcessing transitions the item queued -> processing, binds the call
// id and counts the attempt. The conditional update on status guarantees a
// second scheduler instance racing on the same item loses.
func (queueRepository *QueueRepository) MarkProcessing(
	ctx context.Context,
	item *QueueItem,
	callID string,
) error {
	_, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		now := time.Now()

		result := queueRepository.DBConn.WithContext(ctx).
			Model(&QueueItem{}).
			Where("id = ? AND status = ?", item.ID, StatusQueued).
			Updates(map[string]any{
				"status":          StatusProcessing,
				"call_id":         callID,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_attempt_at": now,
			})
		if result.Error != nil {
			logging.Logger.Error("[MarkProcessing] Failed to update queue item",
				zap.String("queue_item_id", item.ID),
				zap.String("call_id", callID),
				zap.String("error", result.Error.Error()),
			)

			return nil, result.Error
		}

		if result.RowsAffected == 0 {
			return nil, ErrItemNotQueued
		}

		item.Status = StatusProcessing
		item.CallID = &callID
		item.Attempts++
		item.LastAttemptAt = &now

		return nil, nil
	})

	return err
}

// RequeueAfterDispatchFailure undoes a processing claim after a synchronous
// dispatch error. Attempts were already counted by MarkProcessing; once they
// reach maxAttempts the item is terminally failed and never reconsidered.
func (queueRepository *QueueRepository) RequeueAfterDispatchFailure(
	ctx context.Context,
	item *QueueItem,
	reason string,
	maxAttempts int,
) error {
	_, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		status := StatusQueued
		if item.Attempts >= maxAttempts {
			status = StatusFailed
		}

		updates := map[string]any{
			"status":         status,
			"failure_reason": reason,
		}

		if status == StatusQueued {
			updates["call_id"] = nil
		}

		err := queueRepository.DBConn.WithContext(ctx).
			Model(&QueueItem{}).
			Where("id = ? AND status = ?", item.ID, StatusProcessing).
			Updates(updates).Error
		if err != nil {
			logging.Logger.Error("[RequeueAfterDispatchFailure] Failed to update queue item",
				zap.String("queue_item_id", item.ID),
				zap.String("status", status),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		item.Status = status
		item.FailureReason = &reason

		return nil, nil
	})

	return err
}

// CompleteByCallIDTx marks the item owning callID completed. Runs inside
// the lifecycle transaction so the terminal call transition and the queue
// update commit atomically.
func CompleteByCallIDTx(tx *gorm.DB, callID string) error {
	return tx.Model(&QueueItem{}).
		Where("call_id = ? AND status = ?", callID, StatusProcessing).
		Update("status", StatusCompleted).Error
}

// FailByCallIDTx moves the item owning callID back to queued for another
// attempt, or terminally fails it once maxAttempts is reached.
func FailByCallIDTx(tx *gorm.DB, callID, reason string, maxAttempts int) error {
	err := tx.Model(&QueueItem{}).
		Where("call_id = ? AND status = ? AND attempts < ?", callID, StatusProcessing, maxAttempts).
		Updates(map[string]any{
			"status":         StatusQueued,
			"failure_reason": reason,
			"call_id":        nil,
		}).Error
	if err != nil {
		return err
	}

	return tx.Model(&QueueItem{}).
		Where("call_id = ? AND status = ?", callID, StatusProcessing).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
		}).Error
}

// Cancel terminally fails a queued item. Items already processing cannot be
// cancelled; the in-flight call runs to its terminal notification.
func (queueRepository *QueueRepository) Cancel(ctx context.Context, itemID string) error {
	_, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		result := queueRepository.DBConn.WithContext(ctx).
			Model(&QueueItem{}).
			Where("id = ? AND status = ?", itemID, StatusQueued).
			Updates(map[string]any{
				"status":         StatusFailed,
				"failure_reason": FailureReasonCancelled,
			})
		if result.Error != nil {
			return nil, result.Error
		}

		if result.RowsAffected == 0 {
			return nil, ErrItemNotQueued
		}

		return nil, nil
	})

	return err
}

// GetQueueItemByCallID retrieves the item bound to callID, or nil when the
// call was not placed on behalf of a campaign.
func (queueRepository *QueueRepository) GetQueueItemByCallID(
	ctx context.Context,
	callID string,
) (*QueueItem, error) {
	result, err := queueRepository.CircuitBreaker.Execute(func() (any, error) {
		var items []QueueItem

		err := queueRepository.DBConn.WithContext(ctx).
			Where("call_id = ?", callID).
			Limit(1).
			Find(&items).Error
		if err != nil {
			return nil, err
		}

		if len(items) == 0 {
			return (*QueueItem)(nil), nil
		}

		return &items[0], nil
	})
	if err != nil {
		return nil, err
	}

	item, ok := result.(*QueueItem)
	if !ok {
		return nil, ErrInvalidQueueItemResult
	}

	return item, nil
}
