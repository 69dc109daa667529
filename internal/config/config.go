package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	PostgresHost            string `mapstructure:"postgres_host"              validate:"required"`
	PostgresUsername        string `mapstructure:"postgres_username"          validate:"required"`
	PostgresPassword        string `mapstructure:"postgres_password"          validate:"required"`
	PostgresPort            string `mapstructure:"postgres_port"              validate:"required"`
	PostgresDatabase        string `mapstructure:"postgres_database"          validate:"required"`
	DBIntervalCB            uint32 `mapstructure:"db_interval_cb"`
	DBConsecutiveFailuresCB uint32 `mapstructure:"db_consecutive_failures_cb"`

	SystemConcurrencyLimit      int `mapstructure:"system_concurrency_limit"       validate:"required,min=1"`
	DefaultUserConcurrencyLimit int `mapstructure:"default_user_concurrency_limit" validate:"required,min=1"`

	SchedulerPollInterval    int    `mapstructure:"scheduler_poll_interval"`
	SchedulerLeaseTTL        int    `mapstructure:"scheduler_lease_ttl"`
	SchedulerLeaseResource   string `mapstructure:"scheduler_lease_resource"`
	SchedulerDispatchTimeout int    `mapstructure:"scheduler_dispatch_timeout"`
	MaxDispatchAttempts      int    `mapstructure:"max_dispatch_attempts"`

	OrphanReapThreshold int `mapstructure:"orphan_reap_threshold"`
	OrphanReapInterval  int `mapstructure:"orphan_reap_interval"`

	DispatcherBaseUrl               string `mapstructure:"dispatcher_base_url"                validate:"required"`
	DispatcherAPIKey                string `mapstructure:"dispatcher_api_key"                 validate:"required"`
	DispatcherPlaceCallUrl          string `mapstructure:"dispatcher_place_call_url"          validate:"required"`
	DispatcherHangupUrl             string `mapstructure:"dispatcher_hangup_url"              validate:"required"`
	DispatcherTimeout               int    `mapstructure:"dispatcher_timeout"`
	DispatcherRetryMaxAttempts      uint   `mapstructure:"dispatcher_retry_max_attempts"`
	DispatcherRetryMinBackoff       int    `mapstructure:"dispatcher_retry_min_backoff"`
	DispatcherRetryMaxBackoff       int    `mapstructure:"dispatcher_retry_max_backoff"`
	DispatcherIntervalCB            uint32 `mapstructure:"dispatcher_interval_cb"`
	DispatcherConsecutiveFailuresCB uint32 `mapstructure:"dispatcher_consecutive_failures_cb"`

	WebhookPort    string `mapstructure:"webhook_port"`
	WebhookTimeout int    `mapstructure:"webhook_timeout"`

	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"        validate:"required"`
	KafkaUsername              string `mapstructure:"kafka_username"                validate:"required"`
	KafkaPassword              string `mapstructure:"kafka_password"                validate:"required"`
	KafkaAnalysisTopic         string `mapstructure:"kafka_analysis_topic"          validate:"required"`
	KafkaAnalysisGroupID       string `mapstructure:"kafka_analysis_group_id"       validate:"required"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	MinioEndpointURL            string `mapstructure:"minio_endpoint_url"              validate:"required"`
	MinioAccessKey              string `mapstructure:"minio_access_key"                validate:"required"`
	MinioSecretKey              string `mapstructure:"minio_secret_key"                validate:"required"`
	MinioBucketName             string `mapstructure:"minio_bucket_name"               validate:"required"`
	MinioPathPrefix             string `mapstructure:"minio_path_prefix"               validate:"required"`
	MinioMaxRetryAttempts       uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMinSeconds int    `mapstructure:"minio_retry_backoff_min_seconds"`
	MinioRetryBackoffMaxSeconds int    `mapstructure:"minio_retry_backoff_max_seconds"`
	MinioTimeout                int    `mapstructure:"minio_timeout"`
	MinioIntervalCB             uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB  uint32 `mapstructure:"minio_consecutive_failures_cb"`

	LLMBaseUrl               string `mapstructure:"llm_base_url"                validate:"required"`
	LLMAPIKey                string `mapstructure:"llm_api_key"                 validate:"required"`
	LLMModel                 string `mapstructure:"llm_model"                   validate:"required"`
	LLMTimeout               int    `mapstructure:"llm_timeout"`
	LLMRetryMaxAttempts      uint   `mapstructure:"llm_retry_max_attempts"`
	LLMRetryMinBackoff       int    `mapstructure:"llm_retry_min_backoff"`
	LLMRetryMaxBackoff       int    `mapstructure:"llm_retry_max_backoff"`
	LLMIntervalCB            uint32 `mapstructure:"llm_interval_cb"`
	LLMConsecutiveFailuresCB uint32 `mapstructure:"llm_consecutive_failures_cb"`

	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	PoolSize           int `mapstructure:"pool_size"`
	SideEffectPoolSize int `mapstructure:"side_effect_pool_size"`
	DeadLetterPoolSize int `mapstructure:"dead_letter_pool_size"`

	DeadLetterMaxRetries int `mapstructure:"deadletter_max_retries"`
	DeadLetterLimit      int `mapstructure:"deadletter_limit"`
	DeadLetterInterval   int `mapstructure:"deadletter_interval"`
	DeadLetterRetryDelay int `mapstructure:"deadletter_retry_delay"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return err
	}

	return nil
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("SYSTEM_CONCURRENCY_LIMIT", "100")
	viper.SetDefault("DEFAULT_USER_CONCURRENCY_LIMIT", "2")
	viper.SetDefault("SCHEDULER_POLL_INTERVAL", "15")
	viper.SetDefault("SCHEDULER_LEASE_TTL", "60")
	viper.SetDefault("SCHEDULER_LEASE_RESOURCE", "campaign-queue-scheduler")
	viper.SetDefault("SCHEDULER_DISPATCH_TIMEOUT", "30")
	viper.SetDefault("MAX_DISPATCH_ATTEMPTS", "3")
	viper.SetDefault("ORPHAN_REAP_THRESHOLD", "120")
	viper.SetDefault("ORPHAN_REAP_INTERVAL", "5")
	viper.SetDefault("DISPATCHER_TIMEOUT", "30")
	viper.SetDefault("DISPATCHER_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("DISPATCHER_RETRY_MIN_BACKOFF", "1")
	viper.SetDefault("DISPATCHER_RETRY_MAX_BACKOFF", "10")
	viper.SetDefault("DISPATCHER_INTERVAL_CB", "30")
	viper.SetDefault("DISPATCHER_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("WEBHOOK_PORT", "8080")
	viper.SetDefault("WEBHOOK_TIMEOUT", "10")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FILE_PATH", "./access.log")
	viper.SetDefault("POOL_SIZE", "10")
	viper.SetDefault("SIDE_EFFECT_POOL_SIZE", "10")
	viper.SetDefault("DEAD_LETTER_POOL_SIZE", "3")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN_SECONDS", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX_SECONDS", "10")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("LLM_TIMEOUT", "60")
	viper.SetDefault("LLM_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("LLM_RETRY_MIN_BACKOFF", "1")
	viper.SetDefault("LLM_RETRY_MAX_BACKOFF", "10")
	viper.SetDefault("LLM_INTERVAL_CB", "30")
	viper.SetDefault("LLM_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("DEADLETTER_MAX_RETRIES", "10")
	viper.SetDefault("DEADLETTER_LIMIT", "100")
	viper.SetDefault("DEADLETTER_INTERVAL", "1")
	viper.SetDefault("DEADLETTER_RETRY_DELAY", "1")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("DB_INTERVAL_CB", "30")
	viper.SetDefault("DB_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
