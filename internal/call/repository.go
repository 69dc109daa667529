package call

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidCallResult = errors.New("invalid result type, it should be pointer to Call struct")

type CallRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewCallRepository(dbConn *gorm.DB) *CallRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &CallRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// CreateDispatched records a call the scheduler (or the direct-call API)
// just placed. The call starts in the pending pre-lifecycle state; the
// provider's notifications take it from there.
func (callRepository *CallRepository) CreateDispatched(ctx context.Context, call *Call) error {
	_, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		if call.LifecycleStatus == "" {
			call.LifecycleStatus = StatusPending
		}

		err := callRepository.DBConn.WithContext(ctx).Create(call).Error
		if err != nil {
			logging.Logger.Error("[CreateDispatched] Failed to create call",
				zap.String("call_id", call.ID),
				zap.String("execution_id", call.ExecutionID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return call, nil
	})

	return err
}

// GetCallByExecutionID retrieves a Call by its external correlation key.
func (callRepository *CallRepository) GetCallByExecutionID(
	ctx context.Context,
	executionID string,
) (*Call, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		var call Call

		err := callRepository.DBConn.WithContext(ctx).
			Where("execution_id = ?", executionID).
			First(&call).Error
		if err != nil {
			return nil, err
		}

		return &call, nil
	})
	if err != nil {
		return nil, err
	}

	call, ok := result.(*Call)
	if !ok {
		return nil, ErrInvalidCallResult
	}

	return call, nil
}

// GetCallByID retrieves a Call by internal id.
func (callRepository *CallRepository) GetCallByID(ctx context.Context, callID string) (*Call, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		var call Call

		err := callRepository.DBConn.WithContext(ctx).
			Where("id = ?", callID).
			First(&call).Error
		if err != nil {
			return nil, err
		}

		return &call, nil
	})
	if err != nil {
		return nil, err
	}

	call, ok := result.(*Call)
	if !ok {
		return nil, ErrInvalidCallResult
	}

	return call, nil
}

// lockByExecutionIDTx loads the call row under FOR UPDATE so concurrent
// notifications for the same execution id serialize on it.
func lockByExecutionIDTx(tx *gorm.DB, executionID string) (*Call, bool, error) {
	var call Call

	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("execution_id = ?", executionID).
		First(&call).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return &call, true, nil
}

// SetTranscriptRef stores the object storage reference for the transcript.
// Best-effort persistence paths call this outside the lifecycle transaction.
func (callRepository *CallRepository) SetTranscriptRef(
	ctx context.Context,
	callID, transcriptRef string,
) error {
	_, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		err := callRepository.DBConn.WithContext(ctx).
			Model(&Call{}).
			Where("id = ?", callID).
			Update("transcript_ref", transcriptRef).Error
		if err != nil {
			logging.Logger.Error("[SetTranscriptRef] Failed to update call",
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return nil, nil
	})

	return err
}

// FinalizeStuckDisconnected converts calls parked in call_disconnected for
// longer than threshold into completed-without-recording. Their capacity
// was already released at disconnect; this is record keeping only.
func (callRepository *CallRepository) FinalizeStuckDisconnected(
	ctx context.Context,
	threshold time.Duration,
) (int, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		now := time.Now()

		update := callRepository.DBConn.WithContext(ctx).
			Model(&Call{}).
			Where("lifecycle_status = ? AND disconnected_at < ?", StatusCallDisconnected, now.Add(-threshold)).
			Updates(map[string]any{
				"lifecycle_status": StatusCompleted,
				"completed_at":     now,
			})
		if update.Error != nil {
			return nil, update.Error
		}

		return int(update.RowsAffected), nil
	})
	if err != nil {
		return 0, err
	}

	finalized, ok := result.(int)
	if !ok {
		return 0, ErrInvalidCallResult
	}

	return finalized, nil
}
