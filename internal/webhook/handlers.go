package webhook

import (
	"errors"
	"net/http"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	prometheusFennec "git.mci.dev/mse/sre/phoenix/golang/fennec/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func (server *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCallStatus acknowledges lifecycle notifications. A 2xx tells the
// provider to stop redelivering, so only critical side-effect failures may
// produce a 5xx here.
func (server *Server) handleCallStatus(c *gin.Context) {
	var notification call.Notification

	err := c.ShouldBindJSON(&notification)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification payload"})
		return
	}

	timer := prometheus.NewTimer(
		prometheusFennec.WebhookHandlingDuration.WithLabelValues(notification.Status),
	)
	defer timer.ObserveDuration()

	outcome, err := server.LifecycleService.HandleNotification(c.Request.Context(), &notification)
	if err != nil {
		if errors.Is(err, call.ErrMissingExecutionID) || errors.Is(err, call.ErrUnknownStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		logging.Logger.Error("lifecycle notification handling failed",
			zap.String("execution_id", notification.ExecutionID),
			zap.String("status", notification.Status),
			zap.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification processing failed"})

		return
	}

	if outcome == call.OutcomeStale {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

func (server *Server) handlePlaceDirectCall(c *gin.Context) {
	var request PlaceDirectCallRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call request"})
		return
	}

	response, err := server.DirectCallService.PlaceDirectCall(c.Request.Context(), &request)
	if err != nil {
		var denied *ErrAdmissionDenied
		if errors.As(err, &denied) {
			c.JSON(http.StatusTooManyRequests, gin.H{"denied": denied.Reason})
			return
		}

		if errors.Is(err, ErrDispatchFailed) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "call placement failed"})
			return
		}

		logging.Logger.Error("direct call placement failed",
			zap.String("user_id", request.UserID),
			zap.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call placement failed"})

		return
	}

	c.JSON(http.StatusCreated, response)
}

func (server *Server) handleCancelQueueItem(c *gin.Context) {
	itemID := c.Param("id")

	err := server.QueueRepository.Cancel(c.Request.Context(), itemID)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotQueued) {
			c.JSON(http.StatusConflict, gin.H{"error": "item is not queued"})
			return
		}

		logging.Logger.Error("queue item cancellation failed",
			zap.String("queue_item_id", itemID),
			zap.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancellation failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (server *Server) handleUserStats(c *gin.Context) {
	userID := c.Param("id")

	stats, err := server.LedgerService.UserStats(c.Request.Context(), userID)
	if err != nil {
		logging.Logger.Error("failed to read user stats",
			zap.String("user_id", userID),
			zap.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})

		return
	}

	c.JSON(http.StatusOK, stats)
}

func (server *Server) handleSystemStats(c *gin.Context) {
	stats, err := server.LedgerService.SystemStats(c.Request.Context())
	if err != nil {
		logging.Logger.Error("failed to read system stats", zap.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})

		return
	}

	c.JSON(http.StatusOK, stats)
}
