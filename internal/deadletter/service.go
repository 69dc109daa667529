package deadletter

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DeadLetterService struct {
	DLRepository    *DeadLetterRepository
	AnalysisService *analysis.AnalysisService
}

func NewService(dbConn *gorm.DB, analysisService *analysis.AnalysisService) *DeadLetterService {
	dlRepository := NewRepository(dbConn)

	return &DeadLetterService{
		DLRepository:    dlRepository,
		AnalysisService: analysisService,
	}
}

func (dlService *DeadLetterService) MarkJob(ctx context.Context, executionID string, msg []byte, errMsg string) error {
	_, err := dlService.DLRepository.CreateJob(ctx, executionID, msg, errMsg)
	if err != nil {
		return err
	}

	logging.Logger.Info("mark analysis job as dead letter", zap.String("execution_id", executionID))

	return nil
}

func (dlService *DeadLetterService) ProcessDeadLetterJob(ctx context.Context, dlJob *AnalysisDeadLetter) {
	err := dlService.DLRepository.UpdateJobStatus(ctx, dlJob, StatusInProgress)
	if err != nil {
		logging.Logger.Info("failed to update dl job to in progress", zap.String("execution_id", dlJob.ExecutionID))
		return
	}

	logging.Logger.Info("dl job status updated successfully", zap.String("execution_id", dlJob.ExecutionID))

	result, err := dlService.AnalysisService.ProcessAnalysisMessage(ctx, dlJob.Msg)
	if err != nil {
		if errors.Is(err, analysis.ErrCallNotFound) {
			logging.Logger.Warn("dropping dead letter for unknown call",
				zap.String("execution_id", dlJob.ExecutionID),
			)
			_ = dlService.DLRepository.DeleteDlJobRecord(ctx, dlJob)

			return
		}

		logging.Logger.Error("failed to reprocess analysis job",
			zap.String("execution_id", dlJob.ExecutionID),
			zap.String("error", err.Error()),
		)
		_ = dlService.DLRepository.IncreaseRetryCount(ctx, dlJob, err.Error())

		return
	}

	logging.Logger.Info("dl job processed successfully",
		zap.String("execution_id", result.ExecutionID),
		zap.String("outcome", result.Outcome),
	)

	err = dlService.DLRepository.DeleteDlJobRecord(ctx, dlJob)
	if err != nil {
		logging.Logger.Info("failed to delete processed dl job",
			zap.String("execution_id", dlJob.ExecutionID),
			zap.String("error", err.Error()),
		)
	}
}
