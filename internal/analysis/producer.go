package analysis

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/utils"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Producer struct {
	KafkaProducer *kafka.Producer
}

func NewProducer(kafkaProducer *kafka.Producer) *Producer {
	return &Producer{
		KafkaProducer: kafkaProducer,
	}
}

// EnqueueCallAnalysis publishes an analysis job keyed by execution ID.
func (producer *Producer) EnqueueCallAnalysis(ctx context.Context, job *Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if job.CreatedAt == "" {
		job.CreatedAt = utils.TimeToString(time.Now())
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		logging.Logger.Error("failed to marshal analysis job",
			zap.String("execution_id", job.ExecutionID),
			zap.String("error", err.Error()),
		)

		return err
	}

	partition, offset, err := producer.KafkaProducer.SendMessage(
		config.Conf.KafkaAnalysisTopic,
		[]byte(job.ExecutionID),
		jobBytes,
	)
	if err != nil {
		logging.Logger.Error("failed to enqueue analysis job",
			zap.String("execution_id", job.ExecutionID),
			zap.String("error", err.Error()),
		)

		return err
	}

	logging.Logger.Info("analysis job enqueued",
		zap.String("execution_id", job.ExecutionID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}
