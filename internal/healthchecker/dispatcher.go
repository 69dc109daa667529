package healthchecker

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/dispatcher"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"go.uber.org/zap"
)

var monitorExecutionID = "healthcheck"

// CheckDispatcher probes the provider with a hangup for a nonexistent
// execution. A client error proves the API is reachable and responding;
// only server errors and transport failures count as unhealthy.
func CheckDispatcher() error {
	dispatcherClient := dispatcher.NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := dispatcherClient.Hangup(ctx, monitorExecutionID)
	if err != nil && !errors.Is(err, dispatcher.ErrDispatcherClientError) {
		logging.Logger.Info("dispatcher hangup api status", zap.Error(err))
		return err
	}

	return nil
}
