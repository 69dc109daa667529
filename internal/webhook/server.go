package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/queue"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the lifecycle webhook the provider posts to, plus a small
// ops surface over the ledger and the campaign queue.
type Server struct {
	Engine            *gin.Engine
	HTTPServer        *http.Server
	LifecycleService  *call.LifecycleService
	DirectCallService *DirectCallService
	LedgerService     *ledger.LedgerService
	QueueRepository   *queue.QueueRepository
}

func NewServer(
	lifecycleService *call.LifecycleService,
	directCallService *DirectCallService,
	ledgerService *ledger.LedgerService,
	queueRepository *queue.QueueRepository,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	server := &Server{
		Engine:            engine,
		LifecycleService:  lifecycleService,
		DirectCallService: directCallService,
		LedgerService:     ledgerService,
		QueueRepository:   queueRepository,
	}

	server.registerRoutes()

	timeout := time.Duration(config.Conf.WebhookTimeout) * time.Second

	server.HTTPServer = &http.Server{
		Addr:              ":" + config.Conf.WebhookPort,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       60 * time.Second,
	}

	return server
}

func (server *Server) registerRoutes() {
	server.Engine.GET("/healthz", server.handleHealthz)
	server.Engine.POST("/webhooks/call-status", server.handleCallStatus)
	server.Engine.POST("/calls", server.handlePlaceDirectCall)
	server.Engine.DELETE("/queue/items/:id", server.handleCancelQueueItem)
	server.Engine.GET("/users/:id/stats", server.handleUserStats)
	server.Engine.GET("/stats", server.handleSystemStats)
}

// Run serves until the context is canceled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		logging.Logger.Info("webhook server listening", zap.String("addr", server.HTTPServer.Addr))

		err := server.HTTPServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := server.HTTPServer.Shutdown(shutdownCtx)
	if err != nil {
		logging.Logger.Error("webhook server shutdown failed", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("webhook server stopped")

	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logging.Logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
