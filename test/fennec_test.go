package test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/webhook"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestCampaignDispatchWorkflow(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedUserLimit(t, tc.db, "user-1", 2)
	seedCampaign(t, tc.db, "camp-1", "user-1")
	seedQueueItem(t, tc.db, "item-1", "camp-1", "user-1")

	waitFor(t, 30*time.Second, func() bool {
		return tc.dispatcherStub.placedCount() >= 1
	}, "queue item dispatch")

	var placed call.Call

	waitFor(t, 10*time.Second, func() bool {
		return tc.db.Where("execution_id = ?", "exec-1").First(&placed).Error == nil
	}, "dispatched call record")

	item := getQueueItem(t, tc.db, "item-1")
	require.Equal(t, queue.StatusProcessing, item.Status)
	require.NotNil(t, item.CallID)
	require.Equal(t, 1, item.Attempts)
	require.Equal(t, 1, countSlots(t, tc.db))

	require.Equal(t, call.StatusPending, placed.LifecycleStatus)
	require.Equal(t, ledger.CallTypeCampaign, placed.CallType)
	require.Equal(t, *item.CallID, placed.ID)

	ctx := context.Background()

	outcome, err := tc.lifecycleService.HandleNotification(ctx, &call.Notification{
		ExecutionID: "exec-1",
		Status:      call.StatusInProgress,
	})
	require.NoError(t, err)
	require.Equal(t, call.OutcomeAdvanced, outcome)

	outcome, err = tc.lifecycleService.HandleNotification(ctx, &call.Notification{
		ExecutionID:     "exec-1",
		Status:          call.StatusCallDisconnected,
		DurationSeconds: 42,
		HangupBy:        "callee",
		Transcript:      json.RawMessage(`[{"speaker":"agent","text":"hello"}]`),
	})
	require.NoError(t, err)
	require.Equal(t, call.OutcomeAdvanced, outcome)

	require.Equal(t, 0, countSlots(t, tc.db))

	item = getQueueItem(t, tc.db, "item-1")
	require.Equal(t, queue.StatusCompleted, item.Status)

	waitFor(t, 10*time.Second, func() bool {
		return tc.transcripts.uploaded("transcripts/exec-1.json")
	}, "transcript upload")

	outcome, err = tc.lifecycleService.HandleNotification(ctx, &call.Notification{
		ExecutionID:  "exec-1",
		Status:       call.StatusCompleted,
		RecordingURL: "https://records/exec-1.wav",
	})
	require.NoError(t, err)
	require.Equal(t, call.OutcomeAdvanced, outcome)

	select {
	case job := <-tc.analysisJobs.jobs:
		require.Equal(t, "exec-1", job.ExecutionID)
		require.Equal(t, placed.ID, job.CallID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for analysis job")
	}
}

func TestAdmissionUnderContention(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedUserLimit(t, tc.db, "user-adm", 1)

	ctx := context.Background()
	callIDs := []string{"adm-call-1", "adm-call-2", "adm-call-3"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)

	for _, callID := range callIDs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			reservation, err := tc.ledgerService.Reserve(ctx, "user-adm", callID, ledger.CallTypeCampaign)
			require.NoError(t, err)

			if reservation.Decision.Granted {
				mu.Lock()
				granted = append(granted, callID)
				mu.Unlock()
			} else {
				require.Equal(t, ledger.DeniedUserLimit, reservation.Decision.DeniedReason)
			}
		}()
	}

	wg.Wait()

	require.Len(t, granted, 1)
	require.Equal(t, 1, countSlots(t, tc.db))

	require.NoError(t, tc.ledgerService.Release(ctx, granted[0]))
	require.Equal(t, 0, countSlots(t, tc.db))

	require.NoError(t, tc.ledgerService.Release(ctx, granted[0]))
}

func TestDirectCallPreemptsOldestCampaign(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedUserLimit(t, tc.db, "user-pre", 1)
	seedCampaign(t, tc.db, "camp-pre", "user-pre")
	seedProcessingItem(t, tc.db, "item-pre", "camp-pre", "user-pre", "camp-call-1")

	ctx := context.Background()

	reservation, err := tc.ledgerService.Reserve(ctx, "user-pre", "camp-call-1", ledger.CallTypeCampaign)
	require.NoError(t, err)
	require.True(t, reservation.Decision.Granted)

	require.NoError(t, tc.db.Table("calls").Create(map[string]any{
		"id":               "camp-call-1",
		"execution_id":     "exec-camp-1",
		"user_id":          "user-pre",
		"call_type":        ledger.CallTypeCampaign,
		"lifecycle_status": call.StatusInProgress,
	}).Error)

	response, err := tc.directCallService.PlaceDirectCall(ctx, &webhook.PlaceDirectCallRequest{
		UserID:      "user-pre",
		AgentID:     "agent-2",
		PhoneNumber: "+15550000002",
	})
	require.NoError(t, err)
	require.Equal(t, "camp-call-1", response.PreemptedCallID)
	require.NotEmpty(t, response.ExecutionID)

	require.Equal(t, 1, countSlots(t, tc.db))

	var slot ledger.ActiveSlot
	require.NoError(t, tc.db.First(&slot).Error)
	require.Equal(t, ledger.CallTypeDirect, slot.CallType)

	var victim call.Call
	require.NoError(t, tc.db.Where("id = ?", "camp-call-1").First(&victim).Error)
	require.Equal(t, call.StatusFailed, victim.LifecycleStatus)
	require.NotNil(t, victim.HangupReason)
	require.Equal(t, "preempted", *victim.HangupReason)

	item := getQueueItem(t, tc.db, "item-pre")
	require.Equal(t, queue.StatusQueued, item.Status)
	require.Nil(t, item.CallID)
	require.Equal(t, 1, item.Attempts)

	waitFor(t, 10*time.Second, func() bool {
		return tc.dispatcherStub.hungUp("exec-camp-1")
	}, "preempted call hangup")
}

func TestQueuePriorityOrdering(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedUserLimit(t, tc.db, "user-prio", 1)
	seedCampaign(t, tc.db, "camp-prio", "user-prio")

	require.NoError(t, tc.db.Table("queue_items").Create(map[string]any{
		"id":            "item-high",
		"campaign_id":   "camp-prio",
		"user_id":       "user-prio",
		"agent_id":      "agent-1",
		"phone_number":  "+15550000004",
		"scheduled_for": time.Now().Add(-time.Minute),
		"priority":      queue.PriorityNamedContact,
	}).Error)

	seedQueueItem(t, tc.db, "item-low", "camp-prio", "user-prio")

	waitFor(t, 30*time.Second, func() bool {
		return getQueueItem(t, tc.db, "item-high").Status == queue.StatusProcessing
	}, "priority item dispatch")

	require.Equal(t, queue.StatusQueued, getQueueItem(t, tc.db, "item-low").Status)
	require.Equal(t, 0, getQueueItem(t, tc.db, "item-low").Attempts)
	require.Equal(t, 1, countSlots(t, tc.db))
}

func TestDispatchFailureExhaustsAttempts(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {
		mock.failPlace.Store(true)
	})
	defer tc.cleanup()

	seedCampaign(t, tc.db, "camp-fail", "user-fail")
	seedQueueItem(t, tc.db, "item-fail", "camp-fail", "user-fail")

	waitFor(t, 60*time.Second, func() bool {
		return getQueueItem(t, tc.db, "item-fail").Status == queue.StatusFailed
	}, "dispatch attempts to be exhausted")

	item := getQueueItem(t, tc.db, "item-fail")
	require.Equal(t, 3, item.Attempts)
	require.NotNil(t, item.FailureReason)
	require.Equal(t, 0, countSlots(t, tc.db))
}

func TestDispatcherCircuitBreak(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {
		mock.failPlace.Store(true)
	})
	defer tc.cleanup()

	seedCampaign(t, tc.db, "camp-cb", "user-cb")
	seedQueueItem(t, tc.db, "item-cb", "camp-cb", "user-cb")

	select {
	case event := <-tc.resources.breakEvents:
		require.Equal(t, circuitbreak.DispatcherService, event)
	case <-time.After(30 * time.Second):
		t.Fatal("expected circuit break event")
	}
}

func TestOrphanReaping(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedCampaign(t, tc.db, "camp-orphan", "user-orphan")
	seedProcessingItem(t, tc.db, "item-orphan", "camp-orphan", "user-orphan", "orphan-call-1")

	require.NoError(t, tc.db.Table("active_slots").Create(map[string]any{
		"call_id":    "orphan-call-1",
		"user_id":    "user-orphan",
		"call_type":  ledger.CallTypeCampaign,
		"started_at": time.Now().Add(-time.Hour),
	}).Error)

	require.NoError(t, tc.db.Table("calls").Create(map[string]any{
		"id":               "orphan-call-1",
		"execution_id":     "exec-orphan-1",
		"user_id":          "user-orphan",
		"lifecycle_status": call.StatusPending,
	}).Error)

	ctx := context.Background()

	reaped, err := tc.ledgerService.ReapOrphans(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)
	require.Equal(t, 0, countSlots(t, tc.db))

	var orphan call.Call
	require.NoError(t, tc.db.Where("id = ?", "orphan-call-1").First(&orphan).Error)
	require.Equal(t, call.StatusFailed, orphan.LifecycleStatus)
	require.NotNil(t, orphan.HangupReason)
	require.Equal(t, "orphan_reaped", *orphan.HangupReason)

	item := getQueueItem(t, tc.db, "item-orphan")
	require.Equal(t, queue.StatusFailed, item.Status)
}

func TestCompletedWithoutDisconnectReleasesSlot(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	seedCampaign(t, tc.db, "camp-skip", "user-skip")
	seedProcessingItem(t, tc.db, "item-skip", "camp-skip", "user-skip", "skip-call-1")
	seedActiveSlot(t, tc.db, "skip-call-1", "user-skip", ledger.CallTypeCampaign)

	require.NoError(t, tc.db.Table("calls").Create(map[string]any{
		"id":               "skip-call-1",
		"execution_id":     "exec-skip-1",
		"user_id":          "user-skip",
		"call_type":        ledger.CallTypeCampaign,
		"lifecycle_status": call.StatusInProgress,
	}).Error)

	outcome, err := tc.lifecycleService.HandleNotification(context.Background(), &call.Notification{
		ExecutionID: "exec-skip-1",
		Status:      call.StatusCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, call.OutcomeAdvanced, outcome)

	require.Equal(t, 0, countSlots(t, tc.db))
	require.Equal(t, queue.StatusCompleted, getQueueItem(t, tc.db, "item-skip").Status)

	select {
	case job := <-tc.analysisJobs.jobs:
		require.Equal(t, "exec-skip-1", job.ExecutionID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for analysis job")
	}
}

func TestDispatchAbortsWhenSlotPreempted(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	// Paused so the running scheduler never picks the item back up after
	// the rollback below.
	require.NoError(t, tc.db.Table("campaigns").Create(map[string]any{
		"id":      "camp-steal",
		"user_id": "user-steal",
		"name":    "integration",
		"status":  "paused",
	}).Error)

	seedProcessingItem(t, tc.db, "item-steal", "camp-steal", "user-steal", "steal-call-1")

	item := getQueueItem(t, tc.db, "item-steal")

	// No slot row backs steal-call-1, as if a direct call evicted it
	// between reservation and dispatch.
	tc.schedulerWorker.Dispatch(context.Background(), item, "steal-call-1")

	require.Equal(t, 0, tc.dispatcherStub.placedCount())

	item = getQueueItem(t, tc.db, "item-steal")
	require.Equal(t, queue.StatusQueued, item.Status)
	require.Nil(t, item.CallID)
	require.NotNil(t, item.FailureReason)
	require.Equal(t, queue.FailureReasonPreempted, *item.FailureReason)
}

func TestCampaignWindowGating(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	now := time.Now()
	windowOpen := now.Add(2 * time.Hour).Format("15:04")
	windowClose := now.Add(3 * time.Hour).Format("15:04")

	seedScheduledCampaign(t, tc.db, "camp-window", "user-gate", windowOpen, windowClose, nil, nil)
	seedQueueItem(t, tc.db, "item-window", "camp-window", "user-gate")

	expired := now.Add(-48 * time.Hour)

	seedScheduledCampaign(t, tc.db, "camp-expired", "user-gate", "", "", nil, &expired)
	seedQueueItem(t, tc.db, "item-expired", "camp-expired", "user-gate")

	time.Sleep(4 * time.Second)

	require.Equal(t, 0, tc.dispatcherStub.placedCount())
	require.Equal(t, 0, countSlots(t, tc.db))

	for _, itemID := range []string{"item-window", "item-expired"} {
		item := getQueueItem(t, tc.db, itemID)
		require.Equal(t, queue.StatusQueued, item.Status, itemID)
		require.Equal(t, 0, item.Attempts, itemID)
	}
}

func TestDispatchCleanupSurvivesCancellation(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {
		mock.delayPlace.Store(2000)
	})
	defer tc.cleanup()

	require.NoError(t, tc.db.Table("campaigns").Create(map[string]any{
		"id":      "camp-cxl",
		"user_id": "user-cxl",
		"name":    "integration",
		"status":  "paused",
	}).Error)

	seedProcessingItem(t, tc.db, "item-cxl", "camp-cxl", "user-cxl", "cxl-call-1")
	seedActiveSlot(t, tc.db, "cxl-call-1", "user-cxl", ledger.CallTypeCampaign)

	item := getQueueItem(t, tc.db, "item-cxl")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)

		tc.schedulerWorker.Dispatch(ctx, item, "cxl-call-1")
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}

	require.Equal(t, 0, countSlots(t, tc.db))

	item = getQueueItem(t, tc.db, "item-cxl")
	require.Equal(t, queue.StatusQueued, item.Status)
	require.Nil(t, item.CallID)
	require.NotNil(t, item.FailureReason)
}

func TestWebhookEndpoints(t *testing.T) {
	tc := setupFennecWorkflow(t, func(mock *dispatcherMock) {})
	defer tc.cleanup()

	status, body := postJSON(t, tc.webhookServer, "/webhooks/call-status", map[string]any{
		"execution_id": "exec-web-1",
		"status":       call.StatusRinging,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "created", body["status"])

	status, body = postJSON(t, tc.webhookServer, "/webhooks/call-status", map[string]any{
		"execution_id": "exec-web-1",
		"status":       call.StatusRinging,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ignored", body["status"])

	status, _ = postJSON(t, tc.webhookServer, "/webhooks/call-status", map[string]any{
		"status": call.StatusRinging,
	})
	require.Equal(t, http.StatusBadRequest, status)

	seedCampaign(t, tc.db, "camp-web", "user-web")

	require.NoError(t, tc.db.Table("queue_items").Create(map[string]any{
		"id":            "item-web",
		"campaign_id":   "camp-web",
		"user_id":       "user-web",
		"agent_id":      "agent-1",
		"phone_number":  "+15550000003",
		"scheduled_for": time.Now().Add(time.Hour),
	}).Error)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodDelete, "/queue/items/item-web", nil)
	tc.webhookServer.Engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, queue.StatusFailed, getQueueItem(t, tc.db, "item-web").Status)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodDelete, "/queue/items/item-web", nil)
	tc.webhookServer.Engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusConflict, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/users/user-web/stats", nil)
	tc.webhookServer.Engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stats))
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 2, stats.Limit)
}

func postJSON(t *testing.T, server *webhook.Server, path string, payload map[string]any) (int, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	request.Header.Set("Content-Type", "application/json")
	server.Engine.ServeHTTP(recorder, request)

	var body map[string]any
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	}

	return recorder.Code, body
}
