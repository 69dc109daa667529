package circuitbreak

import "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"

var CircuitBreakChan chan string

const (
	DBService            = "database"
	DispatcherService    = "dispatcher"
	MinioService         = "minio"
	LLMService           = "llm"
	KafkaProducerService = "kafka_producer"
	WebhookService       = "webhook_server"
)

func Init() {
	CircuitBreakChan = make(chan string)
}

func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Fatal("fennec app is not created")
	}

	CircuitBreakChan <- service
}
