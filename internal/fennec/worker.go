package fennec

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	prometheusFennec "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/prometheus"
	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AnalysisMessageHandler handles analysis job messages from Kafka
func (app *Fennec) AnalysisMessageHandler(ctx context.Context, msg *sarama.ConsumerMessage) {
	err := app.WorkerPool.Submit(func() {
		app.processAnalysisMessage(ctx, msg)
	})
	if err != nil {
		logging.Logger.Error("failed to submit job to ants pool", zap.String("error", err.Error()))
	}
}

func (app *Fennec) processAnalysisMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	timer := prometheus.NewTimer(prometheusFennec.AnalysisDuration)

	defer func() {
		duration := timer.ObserveDuration()
		logging.Logger.Debug("Analysis job duration",
			zap.Duration("duration", duration),
		)
	}()

	defer app.handlePanic()

	result, err := app.AnalysisService.ProcessAnalysisMessage(ctx, msg.Value)
	if err != nil {
		if app.isSkippedMessage(err) {
			logging.Logger.Debug("Skipped analysis message",
				zap.ByteString("execution_id", msg.Key),
				zap.String("reason", err.Error()),
			)

			return
		}

		logging.Logger.Error("failed to process analysis message",
			zap.String("error", err.Error()),
			zap.ByteString("execution_id", msg.Key),
			zap.ByteString("msg_value", msg.Value),
		)

		_ = app.DeadLetterService.MarkJob(ctx, string(msg.Key), msg.Value, err.Error())

		return
	}

	logging.Logger.Info("analysis message processed successfully",
		zap.String("execution_id", result.ExecutionID),
		zap.String("outcome", result.Outcome),
	)
}

// isSkippedMessage identifies messages that should be dropped rather than
// dead-lettered: health probes without an execution id, and jobs whose call
// record no longer exists.
func (app *Fennec) isSkippedMessage(err error) bool {
	return errors.Is(err, analysis.ErrMissingExecutionID) ||
		errors.Is(err, analysis.ErrCallNotFound)
}

func (app *Fennec) handlePanic() {
	if r := recover(); r != nil {
		logging.Logger.Error("panic in analysis worker",
			zap.Any("recover", r),
		)
	}
}
