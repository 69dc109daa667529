package test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/analysis"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/dispatcher"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/scheduler"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/webhook"
	"github.com/goccy/go-json"
	"github.com/ory/dockertest/v3"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type dispatcherMock struct {
	failPlace     atomic.Bool
	delayPlace    atomic.Int64
	nextExecution atomic.Int64

	mu      sync.Mutex
	placed  []map[string]any
	hangups []string
}

func (m *dispatcherMock) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/place-call", func(w http.ResponseWriter, r *http.Request) {
		if delay := m.delayPlace.Load(); delay > 0 {
			select {
			case <-time.After(time.Duration(delay) * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}

		if m.failPlace.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"error"}`))

			return
		}

		var request map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		m.mu.Lock()
		m.placed = append(m.placed, request)
		m.mu.Unlock()

		executionID := fmt.Sprintf("exec-%d", m.nextExecution.Add(1))

		body, err := json.Marshal(map[string]string{"execution_id": executionID})
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.HandleFunc("/hangup", func(w http.ResponseWriter, r *http.Request) {
		var request map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		m.mu.Lock()
		m.hangups = append(m.hangups, request["execution_id"])
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

func (m *dispatcherMock) placedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.placed)
}

func (m *dispatcherMock) hungUp(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.hangups {
		if id == executionID {
			return true
		}
	}

	return false
}

type fakeTranscriptStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func newFakeTranscriptStore() *fakeTranscriptStore {
	return &fakeTranscriptStore{uploads: map[string][]byte{}}
}

func (s *fakeTranscriptStore) Upload(
	ctx context.Context,
	buffer *bytes.Buffer,
	objectKey string,
) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	s.mu.Lock()
	s.uploads[objectKey] = buffer.Bytes()
	s.mu.Unlock()

	return "http://fake-store/" + objectKey, nil
}

func (s *fakeTranscriptStore) uploaded(objectKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.uploads[objectKey]

	return ok
}

type fakeAnalysisEnqueuer struct {
	jobs chan *analysis.Job
}

func newFakeAnalysisEnqueuer() *fakeAnalysisEnqueuer {
	return &fakeAnalysisEnqueuer{jobs: make(chan *analysis.Job, 10)}
}

func (e *fakeAnalysisEnqueuer) EnqueueCallAnalysis(ctx context.Context, job *analysis.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.jobs <- job:
		return nil
	}
}

type dockertestResources struct {
	pool             *dockertest.Pool
	dispatcherServer *httptest.Server
	breakEvents      chan string
	mu               sync.Mutex
	activeResource   []*dockertest.Resource
}

func newResources(t *testing.T) *dockertestResources {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	pool.MaxWait = 3 * time.Minute

	return &dockertestResources{
		pool:        pool,
		breakEvents: make(chan string, 5),
	}
}

func (r *dockertestResources) startDispatcherServer(t *testing.T, mock *dispatcherMock) {
	t.Helper()

	r.dispatcherServer = httptest.NewServer(mock.handler(t))

	go func() {
		for service := range circuitbreak.CircuitBreakChan {
			r.breakEvents <- service
		}
	}()
}

func (r *dockertestResources) startPostgres(t *testing.T) string {
	t.Helper()

	resource, err := r.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_USER=fennec",
			"POSTGRES_DB=fennec",
		},
		ExposedPorts: []string{"5432/tcp"},
	})
	require.NoError(t, err)

	r.track(resource)

	hostPort := resource.GetHostPort("5432/tcp")
	host := "localhost"

	port := hostPort
	if strings.Contains(hostPort, ":") {
		parsedHost, parsedPort, err := net.SplitHostPort(hostPort)
		if err == nil {
			if parsedHost != "" && parsedHost != "0.0.0.0" {
				host = parsedHost
			}

			port = parsedPort
		} else {
			parts := strings.Split(hostPort, ":")
			port = parts[len(parts)-1]
		}
	}

	dsn := fmt.Sprintf("host=%s user=fennec password=secret dbname=fennec port=%s sslmode=disable", host, port)

	require.NoError(t, r.pool.Retry(func() error {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return err
		}

		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		return sqlDB.Ping()
	}))

	return dsn
}

func (r *dockertestResources) cleanup(t *testing.T) {
	t.Helper()

	for _, res := range r.activeResource {
		_ = r.pool.Purge(res)
	}

	if r.dispatcherServer != nil {
		r.dispatcherServer.Close()
	}

	close(r.breakEvents)
}

func (r *dockertestResources) track(res *dockertest.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeResource = append(r.activeResource, res)
}

type dbSchema struct{}

func (dbSchema) apply(t *testing.T, db *gorm.DB) {
	t.Helper()

	createStatements := []string{
		`CREATE TABLE IF NOT EXISTS active_slots (
			call_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			call_type VARCHAR(16) NOT NULL,
			started_at TIMESTAMP DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id VARCHAR(64) PRIMARY KEY,
			max_concurrent_calls INT NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP NULL
		);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			name VARCHAR(255),
			status VARCHAR(20) NOT NULL,
			first_call_time VARCHAR(5),
			last_call_time VARCHAR(5),
			start_date TIMESTAMP NULL,
			end_date TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id VARCHAR(64) PRIMARY KEY,
			campaign_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			agent_id VARCHAR(64) NOT NULL,
			contact_id VARCHAR(64) NULL,
			phone_number VARCHAR(32) NOT NULL,
			scheduled_for TIMESTAMP NOT NULL,
			status VARCHAR(20) DEFAULT 'queued' NOT NULL,
			priority INT DEFAULT 0 NOT NULL,
			position BIGSERIAL UNIQUE,
			call_id VARCHAR(64) NULL,
			attempts INT DEFAULT 0 NOT NULL,
			last_attempt_at TIMESTAMP NULL,
			failure_reason TEXT NULL,
			created_at TIMESTAMP DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS calls (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(128) UNIQUE,
			user_id VARCHAR(64),
			agent_id VARCHAR(64),
			phone_number VARCHAR(32),
			call_type VARCHAR(16),
			lifecycle_status VARCHAR(24) NOT NULL,
			initiated_at TIMESTAMP NULL,
			ringing_at TIMESTAMP NULL,
			answered_at TIMESTAMP NULL,
			disconnected_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			duration_seconds INT DEFAULT 0,
			transcript_ref TEXT NULL,
			recording_url TEXT NULL,
			hangup_by VARCHAR(32) NULL,
			hangup_reason VARCHAR(64) NULL,
			metadata JSONB NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS scheduler_leases (
			resource VARCHAR(64) PRIMARY KEY,
			token VARCHAR(64) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT NOW()
		);`,
	}

	for _, stmt := range createStatements {
		require.NoError(t, db.Exec(stmt).Error)
	}
}

func configureConfigForTest(t *testing.T, dsn, dispatcherURL string) {
	t.Helper()

	host, port := parsePostgresDSN(dsn)
	if host == "" {
		host = "localhost"
	}

	if port == "" {
		port = "5432"
	}

	config.Conf.PostgresHost = host
	config.Conf.PostgresPort = port
	config.Conf.PostgresUsername = "fennec"
	config.Conf.PostgresPassword = "secret"
	config.Conf.PostgresDatabase = "fennec"
	config.Conf.DBIntervalCB = 1
	config.Conf.DBConsecutiveFailuresCB = 10

	config.Conf.SystemConcurrencyLimit = 50
	config.Conf.DefaultUserConcurrencyLimit = 2

	config.Conf.SchedulerPollInterval = 1
	config.Conf.SchedulerLeaseTTL = 30
	config.Conf.SchedulerLeaseResource = "campaign-queue-scheduler"
	config.Conf.SchedulerDispatchTimeout = 5
	config.Conf.MaxDispatchAttempts = 3

	config.Conf.OrphanReapThreshold = 120
	config.Conf.OrphanReapInterval = 5

	config.Conf.DispatcherBaseUrl = dispatcherURL
	config.Conf.DispatcherAPIKey = "test-key"
	config.Conf.DispatcherPlaceCallUrl = "/place-call"
	config.Conf.DispatcherHangupUrl = "/hangup"
	config.Conf.DispatcherTimeout = 5
	config.Conf.DispatcherRetryMaxAttempts = 2
	config.Conf.DispatcherRetryMinBackoff = 1
	config.Conf.DispatcherRetryMaxBackoff = 1
	config.Conf.DispatcherIntervalCB = 1
	config.Conf.DispatcherConsecutiveFailuresCB = 2

	config.Conf.WebhookPort = "0"
	config.Conf.WebhookTimeout = 10

	config.Conf.PoolSize = 4
	config.Conf.SideEffectPoolSize = 4
	config.Conf.DeadLetterPoolSize = 2

	config.Conf.HealthCheckerMonitorInterval = 1

	config.Conf.LogFilePath = filepath.Join(os.TempDir(), "fennec-test.log")
	config.Conf.LogLevel = "INFO"
}

func parsePostgresDSN(dsn string) (string, string) {
	fields := strings.Fields(dsn)
	keyValues := map[string]string{}

	for _, field := range fields {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) == 2 {
			keyValues[parts[0]] = parts[1]
		}
	}

	return keyValues["host"], keyValues["port"]
}

type fennecWorkflowTestContext struct {
	t                 *testing.T
	resources         *dockertestResources
	appCancel         context.CancelFunc
	db                *gorm.DB
	dispatcherStub    *dispatcherMock
	transcripts       *fakeTranscriptStore
	analysisJobs      *fakeAnalysisEnqueuer
	ledgerService     *ledger.LedgerService
	lifecycleService  *call.LifecycleService
	queueRepository   *queue.QueueRepository
	schedulerWorker   *scheduler.SchedulerWorker
	directCallService *webhook.DirectCallService
	webhookServer     *webhook.Server
}

func (tc *fennecWorkflowTestContext) cleanup() {
	tc.appCancel()
	tc.resources.cleanup(tc.t)
}

func setupFennecWorkflow(t *testing.T, configureMock func(*dispatcherMock)) *fennecWorkflowTestContext {
	t.Helper()

	resources := newResources(t)

	circuitbreak.Init()

	dispatcherStub := &dispatcherMock{}
	configureMock(dispatcherStub)
	resources.startDispatcherServer(t, dispatcherStub)

	dsn := resources.startPostgres(t)

	configureConfigForTest(t, dsn, resources.dispatcherServer.URL)

	db, err := database.NewDatabase()
	require.NoError(t, err)

	dbSchema{}.apply(t, db)

	sideEffectPool, err := ants.NewPool(config.Conf.SideEffectPoolSize, ants.WithPreAlloc(true))
	require.NoError(t, err)

	transcripts := newFakeTranscriptStore()
	analysisJobs := newFakeAnalysisEnqueuer()

	lifecycleService := call.NewLifecycleService(db, transcripts, analysisJobs, sideEffectPool)
	ledgerService := ledger.NewService(db)
	queueRepository := queue.NewQueueRepository(db)
	dispatcherClient := dispatcher.NewClient()
	schedulerWorker := scheduler.NewWorker(db, ledgerService, dispatcherClient)
	directCallService := webhook.NewDirectCallService(db, ledgerService, dispatcherClient, sideEffectPool)
	webhookServer := webhook.NewServer(lifecycleService, directCallService, ledgerService, queueRepository)

	ctx, cancel := context.WithCancel(context.Background())

	go schedulerWorker.Run(ctx)

	return &fennecWorkflowTestContext{
		t:                 t,
		resources:         resources,
		appCancel:         cancel,
		db:                db,
		dispatcherStub:    dispatcherStub,
		transcripts:       transcripts,
		analysisJobs:      analysisJobs,
		ledgerService:     ledgerService,
		lifecycleService:  lifecycleService,
		queueRepository:   queueRepository,
		schedulerWorker:   schedulerWorker,
		directCallService: directCallService,
		webhookServer:     webhookServer,
	}
}

func seedUserLimit(t *testing.T, db *gorm.DB, userID string, limit int) {
	require.NoError(t, db.Table("user_settings").Create(map[string]any{
		"user_id":              userID,
		"max_concurrent_calls": limit,
	}).Error)
}

func seedCampaign(t *testing.T, db *gorm.DB, campaignID, userID string) {
	require.NoError(t, db.Table("campaigns").Create(map[string]any{
		"id":      campaignID,
		"user_id": userID,
		"name":    "integration",
		"status":  "active",
	}).Error)
}

// seedScheduledCampaign seeds an active campaign with its daily calling
// window and date range populated.
func seedScheduledCampaign(
	t *testing.T,
	db *gorm.DB,
	campaignID, userID string,
	firstCallTime, lastCallTime string,
	startDate, endDate *time.Time,
) {
	require.NoError(t, db.Table("campaigns").Create(map[string]any{
		"id":              campaignID,
		"user_id":         userID,
		"name":            "integration",
		"status":          "active",
		"first_call_time": firstCallTime,
		"last_call_time":  lastCallTime,
		"start_date":      startDate,
		"end_date":        endDate,
	}).Error)
}

func seedQueueItem(t *testing.T, db *gorm.DB, itemID, campaignID, userID string) {
	require.NoError(t, db.Table("queue_items").Create(map[string]any{
		"id":            itemID,
		"campaign_id":   campaignID,
		"user_id":       userID,
		"agent_id":      "agent-1",
		"phone_number":  "+15550000001",
		"scheduled_for": time.Now().Add(-time.Minute),
	}).Error)
}

// seedProcessingItem inserts the item already claimed by callID so the
// running scheduler never competes for it.
func seedProcessingItem(t *testing.T, db *gorm.DB, itemID, campaignID, userID, callID string) {
	require.NoError(t, db.Table("queue_items").Create(map[string]any{
		"id":            itemID,
		"campaign_id":   campaignID,
		"user_id":       userID,
		"agent_id":      "agent-1",
		"phone_number":  "+15550000001",
		"scheduled_for": time.Now().Add(-time.Minute),
		"status":        queue.StatusProcessing,
		"call_id":       callID,
	}).Error)
}

func seedActiveSlot(t *testing.T, db *gorm.DB, callID, userID, callType string) {
	require.NoError(t, db.Table("active_slots").Create(map[string]any{
		"call_id":    callID,
		"user_id":    userID,
		"call_type":  callType,
		"started_at": time.Now(),
	}).Error)
}

func getQueueItem(t *testing.T, db *gorm.DB, itemID string) *queue.QueueItem {
	var item queue.QueueItem

	require.NoError(t, db.Where("id = ?", itemID).First(&item).Error)

	return &item
}

func countSlots(t *testing.T, db *gorm.DB) int {
	var count int64

	require.NoError(t, db.Table("active_slots").Count(&count).Error)

	return int(count)
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(200 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", message)
}
