package healthchecker

import (
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckKafkaProducer round-trips a probe through the analysis topic. The
// probe has no execution id, so the consumer recognizes and drops it.
func CheckKafkaProducer() error {
	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("failed to create new kafka producer client", zap.String("error", err.Error()))
		return err
	}

	probe, err := json.Marshal(analysis.Job{})
	if err != nil {
		return err
	}

	_, _, err = kafkaProducer.SendMessage(
		config.Conf.KafkaAnalysisTopic,
		[]byte(uuid.New().String()),
		probe,
	)

	return err
}
