package deadletter

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DeadLetterWorker struct {
	WorkerPool   *ants.Pool
	DLService    *DeadLetterService
	DLRepository *DeadLetterRepository
}

func NewWorker(
	dlService *DeadLetterService,
	dbConn *gorm.DB,
) (*DeadLetterWorker, error) {
	workerPool, err := ants.NewPool(config.Conf.DeadLetterPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	dlRepository := NewRepository(dbConn)

	return &DeadLetterWorker{
		WorkerPool:   workerPool,
		DLService:    dlService,
		DLRepository: dlRepository,
	}, nil
}

func (dlWorker *DeadLetterWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.DeadLetterInterval) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dlWorker.processDeadLetterJobs(ctx)
		}
	}
}

func (dlWorker *DeadLetterWorker) processDeadLetterJobs(ctx context.Context) {
	dlJobs, err := dlWorker.DLRepository.GetPendingJobs(ctx)
	if err != nil {
		return
	}

	if len(dlJobs) == 0 {
		logging.Logger.Debug("no dl jobs are pending")
		return
	}

	logging.Logger.Info("start processing dl jobs", zap.Int("count_dl_jobs", len(dlJobs)))

	for idx := range dlJobs {
		dlJob := dlJobs[idx]

		err := dlWorker.WorkerPool.Submit(func() {
			dlWorker.DLService.ProcessDeadLetterJob(ctx, &dlJob)
		})
		if err != nil {
			logging.Logger.Error("failed to submit dl worker pool",
				zap.String("execution_id", dlJob.ExecutionID),
				zap.String("error", err.Error()),
			)
		}
	}
}
