package deadletter

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAnalysisDeadLetterResult      = errors.New("invalid result type, it should be pointer to AnalysisDeadLetter")
	ErrInvalidAnalysisDeadLetterSliceResult = errors.New("invalid result type, it should be slice of AnalysisDeadLetter")
)

type DeadLetterRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewRepository(dbConn *gorm.DB) *DeadLetterRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &DeadLetterRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func (dlRepository *DeadLetterRepository) CreateJob(
	ctx context.Context,
	executionID string,
	msg []byte,
	errMsg string,
) (*AnalysisDeadLetter, error) {
	result, err := dlRepository.CircuitBreaker.Execute(func() (any, error) {
		now := time.Now()
		dlJob := AnalysisDeadLetter{
			ExecutionID: executionID,
			Msg:         msg,
			Error:       errMsg,
			Status:      StatusPending,
			LastRetryAt: &now,
		}

		var dbConn *gorm.DB

		select {
		case <-ctx.Done():
			dbConn = dlRepository.DBConn
		default:
			dbConn = dlRepository.DBConn.WithContext(ctx)
		}

		// Use upsert to handle duplicate execution_id (updates existing record if exists)
		err := dbConn.Where("execution_id = ?", executionID).
			Assign(map[string]interface{}{
				"msg":           msg,
				"error":         errMsg,
				"status":        StatusPending,
				"last_retry_at": &now,
			}).
			FirstOrCreate(&dlJob).Error
		if err != nil {
			logging.Logger.Error("failed to create dead letter record",
				zap.String("execution_id", executionID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return &dlJob, nil
	})
	if err != nil {
		return nil, err
	}

	dlJob, ok := result.(*AnalysisDeadLetter)
	if !ok {
		return nil, ErrInvalidAnalysisDeadLetterResult
	}

	return dlJob, nil
}

func (dlRepository *DeadLetterRepository) GetPendingJobs(ctx context.Context) ([]AnalysisDeadLetter, error) {
	result, err := dlRepository.CircuitBreaker.Execute(func() (any, error) {
		var records []AnalysisDeadLetter

		err := dlRepository.DBConn.WithContext(ctx).
			Where(
				"status = ? AND last_retry_at <= ? AND retry_count < ?",
				StatusPending,
				time.Now().Add(-time.Duration(config.Conf.DeadLetterRetryDelay)*time.Hour),
				config.Conf.DeadLetterMaxRetries,
			).
			Order("created_at ASC").
			Limit(config.Conf.DeadLetterLimit).
			Find(&records).Error
		if err != nil {
			logging.Logger.Info("failed to fetch dead letter jobs", zap.String("error", err.Error()))
			return nil, err
		}

		return records, err
	})
	if err != nil {
		return nil, err
	}

	records, ok := result.([]AnalysisDeadLetter)
	if !ok {
		return nil, ErrInvalidAnalysisDeadLetterSliceResult
	}

	return records, nil
}

func (dlRepository *DeadLetterRepository) UpdateJobStatus(
	ctx context.Context,
	dlJob *AnalysisDeadLetter,
	status string,
) error {
	_, err := dlRepository.CircuitBreaker.Execute(func() (any, error) {
		err := dlRepository.DBConn.
			WithContext(ctx).
			Model(dlJob).
			Where("execution_id = ?", dlJob.ExecutionID).
			Update("status", status).Error
		if err != nil {
			return nil, err
		}

		return dlJob, nil
	})

	return err
}

func (dlRepository *DeadLetterRepository) IncreaseRetryCount(
	ctx context.Context,
	dlJob *AnalysisDeadLetter,
	errMsg string,
) error {
	_, err := dlRepository.CircuitBreaker.Execute(func() (any, error) {
		updates := map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": time.Now(),
			"status":        StatusPending,
			"error":         errMsg,
		}

		err := dlRepository.DBConn.WithContext(ctx).
			Model(dlJob).
			Where("execution_id = ?", dlJob.ExecutionID).
			Updates(updates).Error
		if err != nil {
			logging.Logger.Error("failed to increase dl job retry count",
				zap.String("execution_id", dlJob.ExecutionID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return dlJob, nil
	})

	return err
}

func (dlRepository *DeadLetterRepository) DeleteDlJobRecord(ctx context.Context, dlJob *AnalysisDeadLetter) error {
	_, err := dlRepository.CircuitBreaker.Execute(func() (any, error) {
		err := dlRepository.DBConn.WithContext(ctx).
			Where("execution_id = ?", dlJob.ExecutionID).
			Delete(dlJob).
			Error

		return nil, err
	})

	return err
}
