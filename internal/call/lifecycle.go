package call

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	prometheusFennec "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bestEffortTimeout = 60 * time.Second

// TranscriptStore persists transcript payloads to object storage.
type TranscriptStore interface {
	Upload(ctx context.Context, buffer *bytes.Buffer, objectKey string) (string, error)
}

// AnalysisEnqueuer hands a finished call to the downstream analysis
// pipeline.
type AnalysisEnqueuer interface {
	EnqueueCallAnalysis(ctx context.Context, job *analysis.Job) error
}

// LifecycleService consumes lifecycle notifications and drives each call's
// state machine, fanning out side effects exactly once per transition.
type LifecycleService struct {
	DBConn           *gorm.DB
	CallRepository   *CallRepository
	TranscriptStore  TranscriptStore
	AnalysisEnqueuer AnalysisEnqueuer
	SideEffectPool   *ants.Pool
}

func NewLifecycleService(
	dbConn *gorm.DB,
	transcriptStore TranscriptStore,
	analysisEnqueuer AnalysisEnqueuer,
	sideEffectPool *ants.Pool,
) *LifecycleService {
	return &LifecycleService{
		DBConn:           dbConn,
		CallRepository:   NewCallRepository(dbConn),
		TranscriptStore:  transcriptStore,
		AnalysisEnqueuer: analysisEnqueuer,
		SideEffectPool:   sideEffectPool,
	}
}

// HandleNotification applies one notification to its call. The state
// transition, slot release and queue update commit in a single transaction:
// either the transition and its critical side effects all happen, or the
// caller gets an error and the provider redelivers. Best-effort work
// (transcript upload, analysis trigger) runs after commit off the request
// path.
func (lifecycleService *LifecycleService) HandleNotification(
	ctx context.Context,
	notification *Notification,
) (Outcome, error) {
	err := notification.Validate()
	if err != nil {
		return "", err
	}

	prometheusFennec.LifecycleNotifications.WithLabelValues(notification.Status).Inc()

	var (
		plan       Plan
		activeCall *Call
	)

	err = lifecycleService.DBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := lockByExecutionIDTx(tx, notification.ExecutionID)
		if err != nil {
			return err
		}

		currentStatus := ""
		if found {
			currentStatus = existing.LifecycleStatus
		}

		plan = PlanTransition(currentStatus, found, notification, time.Now())

		if plan.Outcome == OutcomeStale {
			activeCall = existing
			return nil
		}

		if found {
			activeCall = existing

			err = tx.Model(&Call{}).Where("id = ?", existing.ID).Updates(plan.Updates).Error
		} else {
			activeCall, err = createFromNotificationTx(tx, notification, plan)
		}

		if err != nil {
			return err
		}

		return applyCriticalEffectsTx(tx, activeCall.ID, plan)
	})
	if err != nil {
		return "", fmt.Errorf("lifecycle transition for execution %s failed: %w", notification.ExecutionID, err)
	}

	if plan.Outcome == OutcomeStale {
		prometheusFennec.StaleNotifications.Inc()

		logging.Logger.Debug("ignoring stale lifecycle notification",
			zap.String("execution_id", notification.ExecutionID),
			zap.String("status", notification.Status),
			zap.String("current_status", activeCall.LifecycleStatus),
		)

		return OutcomeStale, nil
	}

	lifecycleService.runBestEffortEffects(notification, activeCall, plan)

	logging.Logger.Info("call lifecycle advanced",
		zap.String("execution_id", notification.ExecutionID),
		zap.String("call_id", activeCall.ID),
		zap.String("status", notification.Status),
		zap.String("outcome", string(plan.Outcome)),
	)

	return plan.Outcome, nil
}

// createFromNotificationTx is the call birth path. It also covers the
// out-of-order first arrival: a call whose first notification is not
// "initiated" is created directly in that state instead of being dropped,
// so slot and queue bookkeeping still run.
func createFromNotificationTx(tx *gorm.DB, notification *Notification, plan Plan) (*Call, error) {
	newCall := &Call{
		ID:              uuid.NewString(),
		ExecutionID:     notification.ExecutionID,
		LifecycleStatus: notification.Status,
	}

	err := tx.Create(newCall).Error
	if err != nil {
		return nil, err
	}

	err = tx.Model(&Call{}).Where("id = ?", newCall.ID).Updates(plan.Updates).Error
	if err != nil {
		return nil, err
	}

	logging.Logger.Warn("call born from notification",
		zap.String("execution_id", notification.ExecutionID),
		zap.String("status", notification.Status),
	)

	return newCall, nil
}

// applyCriticalEffectsTx runs the side effects that protect the admission
// and queue invariants. They share the lifecycle transaction: losing a slot
// release silently would leak capacity permanently.
func applyCriticalEffectsTx(tx *gorm.DB, callID string, plan Plan) error {
	if plan.ReleaseSlot {
		err := ledger.ReleaseSlotTx(tx, callID)
		if err != nil {
			return err
		}
	}

	switch plan.QueueAction {
	case QueueComplete:
		return queue.CompleteByCallIDTx(tx, callID)
	case QueueFail:
		return queue.FailByCallIDTx(tx, callID, plan.QueueFailureReason, config.Conf.MaxDispatchAttempts)
	case QueueNone:
	}

	return nil
}

func (lifecycleService *LifecycleService) runBestEffortEffects(
	notification *Notification,
	activeCall *Call,
	plan Plan,
) {
	if len(notification.Transcript) > 0 {
		transcript := make([]byte, len(notification.Transcript))
		copy(transcript, notification.Transcript)

		callID := activeCall.ID
		executionID := notification.ExecutionID

		err := lifecycleService.SideEffectPool.Submit(func() {
			lifecycleService.persistTranscript(callID, executionID, transcript)
		})
		if err != nil {
			logging.Logger.Error("failed to submit transcript persistence job",
				zap.String("execution_id", executionID),
				zap.String("error", err.Error()),
			)
		}
	}

	if plan.TriggerAnalysis {
		job := &analysis.Job{
			ExecutionID: notification.ExecutionID,
			CallID:      activeCall.ID,
		}

		err := lifecycleService.SideEffectPool.Submit(func() {
			lifecycleService.enqueueAnalysis(job)
		})
		if err != nil {
			logging.Logger.Error("failed to submit analysis trigger job",
				zap.String("execution_id", notification.ExecutionID),
				zap.String("error", err.Error()),
			)
		}
	}
}

func (lifecycleService *LifecycleService) persistTranscript(callID, executionID string, transcript []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()

	objectKey := analysis.TranscriptObjectKey(executionID)

	transcriptRef, err := lifecycleService.TranscriptStore.Upload(ctx, bytes.NewBuffer(transcript), objectKey)
	if err != nil {
		logging.Logger.Error("failed to upload transcript",
			zap.String("execution_id", executionID),
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)

		return
	}

	err = lifecycleService.CallRepository.SetTranscriptRef(ctx, callID, transcriptRef)
	if err != nil {
		logging.Logger.Error("failed to store transcript reference",
			zap.String("execution_id", executionID),
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)
	}
}

func (lifecycleService *LifecycleService) enqueueAnalysis(job *analysis.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()

	err := lifecycleService.AnalysisEnqueuer.EnqueueCallAnalysis(ctx, job)
	if err != nil {
		logging.Logger.Error("failed to enqueue analysis job",
			zap.String("execution_id", job.ExecutionID),
			zap.String("call_id", job.CallID),
			zap.String("error", err.Error()),
		)
	}
}
