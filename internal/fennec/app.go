package fennec

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/dispatcher"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/llm"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/minio"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/reaper"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/scheduler"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/webhook"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Fennec struct {
	DBConn               *gorm.DB
	MinioClient          *minio.MinioClient
	KafkaConsumer        *kafka.Consumer
	KafkaProducer        *kafka.Producer
	WorkerPool           *ants.Pool
	SideEffectPool       *ants.Pool
	LedgerService        *ledger.LedgerService
	QueueRepository      *queue.QueueRepository
	LifecycleService     *call.LifecycleService
	AnalysisService      *analysis.AnalysisService
	DeadLetterService    *deadletter.DeadLetterService
	DeadLetterWorker     *deadletter.DeadLetterWorker
	SchedulerWorker      *scheduler.SchedulerWorker
	ReaperWorker         *reaper.ReaperWorker
	WebhookServer        *webhook.Server
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFun context.CancelFunc) (*Fennec, error) {
	logging.Logger.Info("[NewApp] Initializing Fennec application...")

	healthcheckerService := healthchecker.NewService(ctxCancelFun)

	logging.Logger.Info("[NewApp] Health checker service created")

	dbConn, err := database.NewDatabase()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize database", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Database connection established")

	minioClient, err := minio.NewMinioClient()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize Minio client", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Minio client created")

	kafkaConsumer, kafkaProducer, err := initializeKafka()
	if err != nil {
		return nil, err
	}

	workerPool, sideEffectPool, err := initializePools()
	if err != nil {
		return nil, err
	}

	app := &Fennec{
		DBConn:               dbConn,
		MinioClient:          minioClient,
		KafkaConsumer:        kafkaConsumer,
		KafkaProducer:        kafkaProducer,
		WorkerPool:           workerPool,
		SideEffectPool:       sideEffectPool,
		HealthCheckerService: healthcheckerService,
	}

	err = app.initializeServices()
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("[NewApp] Initializing circuit breakers...")
	circuitbreak.Init()
	logging.Logger.Info("[NewApp] Circuit breakers initialized")

	return app, nil
}

func initializeKafka() (*kafka.Consumer, *kafka.Producer, error) {
	logging.Logger.Info("[NewApp] Creating Kafka consumer...")

	kafkaConsumer, err := kafka.NewConsumer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka consumer", zap.Error(err))
		return nil, nil, err
	}

	logging.Logger.Info("[NewApp] Creating Kafka producer...")

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka producer", zap.Error(err))
		return nil, nil, err
	}

	return kafkaConsumer, kafkaProducer, nil
}

func initializePools() (*ants.Pool, *ants.Pool, error) {
	logging.Logger.Info("[NewApp] Creating worker pools",
		zap.Int("pool_size", config.Conf.PoolSize),
		zap.Int("side_effect_pool_size", config.Conf.SideEffectPoolSize),
	)

	workerPool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true))
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create worker pool", zap.Error(err))
		return nil, nil, err
	}

	sideEffectPool, err := ants.NewPool(config.Conf.SideEffectPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create side effect pool", zap.Error(err))
		return nil, nil, err
	}

	return workerPool, sideEffectPool, nil
}

func (app *Fennec) initializeServices() error {
	logging.Logger.Info("[NewApp] Creating domain services...")

	app.LedgerService = ledger.NewService(app.DBConn)
	app.QueueRepository = queue.NewQueueRepository(app.DBConn)

	analysisProducer := analysis.NewProducer(app.KafkaProducer)
	app.LifecycleService = call.NewLifecycleService(app.DBConn, app.MinioClient, analysisProducer, app.SideEffectPool)

	llmClient := llm.NewClient()
	app.AnalysisService = analysis.NewService(app.DBConn, app.MinioClient, llmClient)

	app.DeadLetterService = deadletter.NewService(app.DBConn, app.AnalysisService)

	deadletterWorker, err := deadletter.NewWorker(app.DeadLetterService, app.DBConn)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create dead letter worker", zap.Error(err))
		return err
	}

	app.DeadLetterWorker = deadletterWorker

	dispatcherClient := dispatcher.NewClient()
	app.SchedulerWorker = scheduler.NewWorker(app.DBConn, app.LedgerService, dispatcherClient)
	app.ReaperWorker = reaper.NewWorker(app.DBConn, app.LedgerService)

	directCallService := webhook.NewDirectCallService(app.DBConn, app.LedgerService, dispatcherClient, app.SideEffectPool)
	app.WebhookServer = webhook.NewServer(app.LifecycleService, directCallService, app.LedgerService, app.QueueRepository)

	logging.Logger.Info("[NewApp] Domain services created")

	return nil
}

func (app *Fennec) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	go app.HealthCheckerService.Monitor()

	go app.DeadLetterWorker.Run(ctx)
	go app.SchedulerWorker.Run(ctx)
	go app.ReaperWorker.Run(ctx)

	go func() {
		err := app.WebhookServer.Run(ctx)
		if err != nil {
			logging.Logger.Error("[Run] Webhook server failed", zap.Error(err))
			app.HealthCheckerService.TriggerError(circuitbreak.WebhookService)
		}
	}()

	logging.Logger.Info("[Run] Starting analysis Kafka consumer (BLOCKING)",
		zap.String("topic", config.Conf.KafkaAnalysisTopic),
		zap.Int("worker_pool_size", config.Conf.PoolSize),
	)

	err := app.KafkaConsumer.Consume(ctx, config.Conf.KafkaAnalysisTopic, app.AnalysisMessageHandler)
	if err != nil {
		logging.Logger.Error("[Run] Kafka consumer returned error", zap.Error(err))
		return err
	}

	logging.Logger.Warn("[Run] Kafka consumer returned (context canceled or error), beginning shutdown...")
	app.closeConsumer()
	app.shutdown()

	return nil
}

func (app *Fennec) closeConsumer() {
	logging.Logger.Info("[Run] Closing analysis Kafka consumer...")

	err := app.KafkaConsumer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close analysis consumer", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Analysis consumer closed successfully")
	}
}

func (app *Fennec) shutdown() {
	logging.Logger.Info("[Run] Releasing worker pools...",
		zap.Int("running_workers", app.WorkerPool.Running()),
		zap.Int("free_workers", app.WorkerPool.Free()),
	)
	app.WorkerPool.Release()
	app.SideEffectPool.Release()
	logging.Logger.Info("[Run] Worker pools released")

	logging.Logger.Info("[Run] Closing Kafka producer...")

	err := app.KafkaProducer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close producer", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Kafka producer closed successfully")
	}

	logging.Logger.Info("[Run] ===== App shutdown complete =====")
}
