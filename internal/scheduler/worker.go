package scheduler

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/campaign"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/dispatcher"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	prometheusFennec "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// SchedulerWorker drains the campaign queue: every tick it takes the
// scheduling lease and tries to dispatch the next eligible item for each
// user with queued work, one call per user per pass.
type SchedulerWorker struct {
	LeaseRepository    *LeaseRepository
	QueueRepository    *queue.QueueRepository
	CampaignRepository *campaign.CampaignRepository
	CallRepository     *call.CallRepository
	LedgerService      *ledger.LedgerService
	CallPlacer         dispatcher.CallPlacer
	Token              string
}

func NewWorker(
	dbConn *gorm.DB,
	ledgerService *ledger.LedgerService,
	callPlacer dispatcher.CallPlacer,
) *SchedulerWorker {
	return &SchedulerWorker{
		LeaseRepository:    NewLeaseRepository(dbConn),
		QueueRepository:    queue.NewQueueRepository(dbConn),
		CampaignRepository: campaign.NewCampaignRepository(dbConn),
		CallRepository:     call.NewCallRepository(dbConn),
		LedgerService:      ledgerService,
		CallPlacer:         callPlacer,
		Token:              uuid.NewString(),
	}
}

// candidateBatchSize bounds how many queued items one pass inspects per
// user while skipping items outside their campaign's calling window.
const candidateBatchSize = 25

func (schedulerWorker *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.SchedulerPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			schedulerWorker.releaseLease()
			return
		case <-ticker.C:
			schedulerWorker.runPass(ctx)
		}
	}
}

func (schedulerWorker *SchedulerWorker) runPass(ctx context.Context) {
	acquired, err := schedulerWorker.LeaseRepository.Acquire(
		ctx,
		config.Conf.SchedulerLeaseResource,
		schedulerWorker.Token,
		time.Duration(config.Conf.SchedulerLeaseTTL)*time.Second,
	)
	if err != nil {
		logging.Logger.Error("failed to acquire scheduler lease", zap.String("error", err.Error()))
		return
	}

	if !acquired {
		prometheusFennec.LeaseContention.Inc()
		logging.Logger.Debug("scheduler lease held elsewhere, skipping pass")

		return
	}

	timer := prometheus.NewTimer(prometheusFennec.SchedulerPassDuration)
	defer timer.ObserveDuration()

	userIDs, err := schedulerWorker.QueueRepository.UsersWithQueuedWork(ctx)
	if err != nil {
		logging.Logger.Error("failed to list users with queued work", zap.String("error", err.Error()))
		return
	}

	if len(userIDs) == 0 {
		return
	}

	// Users are independent: a failed dispatch for one must not cancel the
	// in-flight dispatches of the others, so the group carries no context.
	var group errgroup.Group
	group.SetLimit(config.Conf.PoolSize)

	for _, userID := range userIDs {
		group.Go(func() error {
			return schedulerWorker.dispatchForUser(ctx, userID)
		})
	}

	err = group.Wait()
	if err != nil {
		logging.Logger.Error("scheduling pass finished with errors", zap.String("error", err.Error()))
	}
}

func (schedulerWorker *SchedulerWorker) dispatchForUser(ctx context.Context, userID string) error {
	item, err := schedulerWorker.nextEligible(ctx, userID)
	if err != nil {
		return err
	}

	if item == nil {
		return nil
	}

	callID := uuid.NewString()

	reservation, err := schedulerWorker.LedgerService.Reserve(ctx, userID, callID, ledger.CallTypeCampaign)
	if err != nil {
		return err
	}

	if !reservation.Decision.Granted {
		// Denied admission leaves the item queued and costs no attempt.
		return nil
	}

	err = schedulerWorker.QueueRepository.MarkProcessing(ctx, item, callID)
	if err != nil {
		releaseErr := schedulerWorker.LedgerService.Release(context.WithoutCancel(ctx), callID)
		if releaseErr != nil {
			logging.Logger.Error("failed to release slot after claim failure",
				zap.String("call_id", callID),
				zap.String("error", releaseErr.Error()),
			)
		}

		if errors.Is(err, queue.ErrItemNotQueued) {
			logging.Logger.Debug("queue item claimed elsewhere",
				zap.String("queue_item_id", item.ID),
			)

			return nil
		}

		return err
	}

	schedulerWorker.Dispatch(ctx, item, callID)

	return nil
}

// nextEligible walks the user's queued candidates in dispatch order and
// returns the first one whose campaign is inside its daily calling window
// and date range right now. Campaigns are fetched once per pass.
func (schedulerWorker *SchedulerWorker) nextEligible(ctx context.Context, userID string) (*queue.QueueItem, error) {
	now := time.Now()

	items, err := schedulerWorker.QueueRepository.NextCandidates(ctx, userID, now, candidateBatchSize)
	if err != nil {
		return nil, err
	}

	campaigns := make(map[string]*campaign.Campaign)

	for idx := range items {
		item := &items[idx]

		currentCampaign, ok := campaigns[item.CampaignID]
		if !ok {
			currentCampaign, err = schedulerWorker.CampaignRepository.GetCampaignByID(ctx, item.CampaignID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					logging.Logger.Warn("queue item references missing campaign",
						zap.String("queue_item_id", item.ID),
						zap.String("campaign_id", item.CampaignID),
					)

					continue
				}

				return nil, err
			}

			campaigns[item.CampaignID] = currentCampaign
		}

		if !campaign.WithinDailyWindow(now, currentCampaign.FirstCallTime, currentCampaign.LastCallTime) {
			continue
		}

		if !campaign.WithinDateRange(now, currentCampaign.StartDate, currentCampaign.EndDate) {
			continue
		}

		return item, nil
	}

	return nil, nil
}

// Dispatch hands the claimed item to the dispatcher. The slot reserved for
// callID is re-checked first: a direct call may have preempted it between
// reservation and this point, in which case the claim is rolled back
// without placing the call.
func (schedulerWorker *SchedulerWorker) Dispatch(ctx context.Context, item *queue.QueueItem, callID string) {
	held, err := schedulerWorker.LedgerService.SlotHeld(ctx, callID)
	if err != nil {
		schedulerWorker.undoDispatch(ctx, item, callID, err)
		return
	}

	if !held {
		logging.Logger.Warn("slot preempted before dispatch",
			zap.String("queue_item_id", item.ID),
			zap.String("call_id", callID),
		)

		requeueErr := schedulerWorker.QueueRepository.RequeueAfterDispatchFailure(
			context.WithoutCancel(ctx),
			item,
			queue.FailureReasonPreempted,
			config.Conf.MaxDispatchAttempts,
		)
		if requeueErr != nil {
			logging.Logger.Error("failed to requeue item after preemption",
				zap.String("queue_item_id", item.ID),
				zap.String("error", requeueErr.Error()),
			)
		}

		return
	}

	dispatchCtx, cancel := context.WithTimeout(
		ctx,
		time.Duration(config.Conf.SchedulerDispatchTimeout)*time.Second,
	)
	defer cancel()

	executionID, err := schedulerWorker.CallPlacer.PlaceCall(dispatchCtx, &dispatcher.PlaceCallRequest{
		AgentID:     item.AgentID,
		PhoneNumber: item.PhoneNumber,
		Context:     dispatchContext(item),
	})
	if err != nil {
		schedulerWorker.undoDispatch(ctx, item, callID, err)
		return
	}

	newCall := &call.Call{
		ID:          callID,
		ExecutionID: executionID,
		UserID:      item.UserID,
		AgentID:     item.AgentID,
		PhoneNumber: item.PhoneNumber,
		CallType:    ledger.CallTypeCampaign,
	}

	err = schedulerWorker.CallRepository.CreateDispatched(ctx, newCall)
	if err != nil {
		// The lifecycle creates the record on first notification; the slot
		// is still reclaimed by the orphan reaper if that never happens.
		logging.Logger.Warn("failed to record dispatched call",
			zap.String("call_id", callID),
			zap.String("execution_id", executionID),
			zap.String("error", err.Error()),
		)
	}

	logging.Logger.Info("campaign call dispatched",
		zap.String("queue_item_id", item.ID),
		zap.String("call_id", callID),
		zap.String("execution_id", executionID),
		zap.String("user_id", item.UserID),
	)
}

func (schedulerWorker *SchedulerWorker) undoDispatch(
	ctx context.Context,
	item *queue.QueueItem,
	callID string,
	dispatchErr error,
) {
	prometheusFennec.DispatchFailures.Inc()

	logging.Logger.Error("call placement failed",
		zap.String("queue_item_id", item.ID),
		zap.String("call_id", callID),
		zap.Int("attempts", item.Attempts),
		zap.String("error", dispatchErr.Error()),
	)

	// The rollback must land even when the pass context is already
	// canceled; a skipped release leaks the slot until the reaper runs.
	cleanupCtx := context.WithoutCancel(ctx)

	err := schedulerWorker.LedgerService.Release(cleanupCtx, callID)
	if err != nil {
		logging.Logger.Error("failed to release slot after dispatch failure",
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)
	}

	err = schedulerWorker.QueueRepository.RequeueAfterDispatchFailure(
		cleanupCtx,
		item,
		dispatchErr.Error(),
		config.Conf.MaxDispatchAttempts,
	)
	if err != nil {
		logging.Logger.Error("failed to requeue item after dispatch failure",
			zap.String("queue_item_id", item.ID),
			zap.String("error", err.Error()),
		)
	}
}

func (schedulerWorker *SchedulerWorker) releaseLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := schedulerWorker.LeaseRepository.Release(ctx, config.Conf.SchedulerLeaseResource, schedulerWorker.Token)
	if err != nil {
		logging.Logger.Error("failed to release scheduler lease", zap.String("error", err.Error()))
	}
}

func dispatchContext(item *queue.QueueItem) json.RawMessage {
	payload := map[string]any{
		"campaign_id":   item.CampaignID,
		"queue_item_id": item.ID,
	}

	if item.ContactID != nil {
		payload["contact_id"] = *item.ContactID
	}

	contextBytes, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	return contextBytes
}
