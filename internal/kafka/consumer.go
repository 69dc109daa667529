package kafka

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Consumer is the analysis consumer group client. It is the only consumer
// this service runs, so the group id comes straight from configuration.
type Consumer struct {
	Client sarama.ConsumerGroup
}

func NewConsumer() (*Consumer, error) {
	client, err := sarama.NewConsumerGroup(
		[]string{config.Conf.KafkaBootstrapServer},
		config.Conf.KafkaAnalysisGroupID,
		newSaramaConfig(),
	)
	if err != nil {
		logging.Logger.Error("Failed to create Kafka consumer group",
			zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
			zap.String("group_id", config.Conf.KafkaAnalysisGroupID),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Successfully connected to Kafka",
		zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
		zap.String("group_id", config.Conf.KafkaAnalysisGroupID),
		zap.String("mechanism", "SCRAM-SHA-512"),
	)

	return &Consumer{
		Client: client,
	}, nil
}

// Consume blocks reading the topic until ctx is canceled. A rebalance makes
// sarama's Consume return, so it is re-entered in a loop; internal errors
// are logged and do not stop consumption.
func (c *Consumer) Consume(
	ctx context.Context,
	topic string,
	messageHandler func(context.Context, *sarama.ConsumerMessage),
) error {
	handler := &consumerGroupHandler{
		messageHandler: messageHandler,
	}

	go func() {
		for err := range c.Client.Errors() {
			logging.Logger.Error("Kafka consumer internal error",
				zap.String("topic", topic),
				zap.String("error", err.Error()),
			)
		}
	}()

	for {
		err := c.Client.Consume(ctx, []string{topic}, handler)
		if err != nil {
			logging.Logger.Error("Kafka consume error",
				zap.String("topic", topic),
				zap.String("error", err.Error()),
			)
		}

		if ctx.Err() != nil {
			logging.Logger.Info("Kafka consumer stopping",
				zap.String("topic", topic),
			)

			return nil
		}
	}
}

func (c *Consumer) Close() error {
	err := c.Client.Close()
	if err != nil {
		logging.Logger.Error("Failed to close Kafka consumer", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("Kafka consumer closed successfully")

	return nil
}

type consumerGroupHandler struct {
	messageHandler func(context.Context, *sarama.ConsumerMessage)
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			h.messageHandler(session.Context(), message)

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
