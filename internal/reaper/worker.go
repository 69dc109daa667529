package reaper

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReaperWorker reclaims capacity leaked by crashes: slots whose call never
// reached a terminal state, and calls parked in call_disconnected whose
// final notification never arrived.
type ReaperWorker struct {
	LedgerService  *ledger.LedgerService
	CallRepository *call.CallRepository
}

func NewWorker(dbConn *gorm.DB, ledgerService *ledger.LedgerService) *ReaperWorker {
	return &ReaperWorker{
		LedgerService:  ledgerService,
		CallRepository: call.NewCallRepository(dbConn),
	}
}

func (reaperWorker *ReaperWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.Conf.OrphanReapInterval) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaperWorker.reap(ctx)
		}
	}
}

func (reaperWorker *ReaperWorker) reap(ctx context.Context) {
	threshold := time.Duration(config.Conf.OrphanReapThreshold) * time.Second

	reaped, err := reaperWorker.LedgerService.ReapOrphans(ctx, threshold)
	if err != nil {
		logging.Logger.Error("orphan reap pass failed",
			zap.Int("reaped_before_failure", reaped),
			zap.String("error", err.Error()),
		)
	} else if reaped > 0 {
		logging.Logger.Warn("reaped orphaned slots", zap.Int("count", reaped))
	}

	finalized, err := reaperWorker.CallRepository.FinalizeStuckDisconnected(ctx, threshold)
	if err != nil {
		logging.Logger.Error("failed to finalize stuck disconnected calls",
			zap.String("error", err.Error()),
		)

		return
	}

	if finalized > 0 {
		logging.Logger.Info("finalized stuck disconnected calls", zap.Int("count", finalized))
	}
}
