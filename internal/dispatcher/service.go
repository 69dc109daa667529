package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrPlaceCallRequest      = errors.New("dispatcher place call request failed")
	ErrHangupRequest         = errors.New("dispatcher hangup request failed")
	ErrMissingExecutionID    = errors.New("dispatcher response has no execution_id")
	ErrDispatcherServerError = errors.New("dispatcher server error")
	ErrDispatcherClientError = errors.New("dispatcher rejected the request")
)

// PlaceCallRequest is the outbound contract with the call placement
// provider. Context carries opaque campaign/contact data the voice agent
// needs; the provider echoes nothing back except the execution id.
type PlaceCallRequest struct {
	AgentID     string          `json:"agent_id"`
	PhoneNumber string          `json:"phone_number"`
	Context     json.RawMessage `json:"context,omitempty"`
}

type placeCallResponse struct {
	ExecutionID string `json:"execution_id"`
}

// CallPlacer places outbound calls. The synchronous result only confirms
// acceptance; the outcome arrives later through lifecycle notifications.
type CallPlacer interface {
	PlaceCall(ctx context.Context, request *PlaceCallRequest) (string, error)
	Hangup(ctx context.Context, executionID string) error
}

type DispatcherClient struct {
	CircuitBreaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient() *DispatcherClient {
	cbSettings := gobreaker.Settings{
		Name:     "Dispatcher",
		Interval: time.Duration(config.Conf.DispatcherIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.DispatcherConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Info("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.DispatcherService)
			}
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrDispatcherServerError)
		},
	}

	return &DispatcherClient{
		CircuitBreaker: gobreaker.NewCircuitBreaker[[]byte](cbSettings),
	}
}

// PlaceCall asks the provider to start an outbound call and returns the
// execution id correlating all later notifications for it.
func (dispatcherClient *DispatcherClient) PlaceCall(
	ctx context.Context,
	request *PlaceCallRequest,
) (string, error) {
	apiUrl, err := url.JoinPath(config.Conf.DispatcherBaseUrl, config.Conf.DispatcherPlaceCallUrl)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	body, statusCode, err := dispatcherClient.doRequestWithRetry(ctx, apiUrl, reqBody)
	if err != nil {
		return "", err
	}

	logging.Logger.Info("Place call response",
		zap.String("agent_id", request.AgentID),
		zap.Int("status_code", statusCode),
	)

	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return "", ErrPlaceCallRequest
	}

	var response placeCallResponse

	err = json.Unmarshal(body, &response)
	if err != nil {
		return "", err
	}

	if response.ExecutionID == "" {
		return "", ErrMissingExecutionID
	}

	return response.ExecutionID, nil
}

// Hangup asks the provider to end an in-flight call. Used best-effort when
// a campaign call is preempted.
func (dispatcherClient *DispatcherClient) Hangup(ctx context.Context, executionID string) error {
	apiUrl, err := url.JoinPath(config.Conf.DispatcherBaseUrl, config.Conf.DispatcherHangupUrl)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(map[string]string{"execution_id": executionID})
	if err != nil {
		return err
	}

	_, statusCode, err := dispatcherClient.doRequestWithRetry(ctx, apiUrl, reqBody)
	if err != nil {
		return err
	}

	if statusCode != http.StatusOK {
		return ErrHangupRequest
	}

	return nil
}

func (dispatcherClient *DispatcherClient) doRequestWithRetry(
	ctx context.Context,
	apiUrl string,
	reqBody []byte,
) ([]byte, int, error) {
	var (
		body       []byte
		statusCode int
	)

	body, err := dispatcherClient.CircuitBreaker.Execute(func() ([]byte, error) {
		err := retry.Do(
			func() error {
				var err error

				body, statusCode, err = dispatcherClient.doRequest(ctx, apiUrl, reqBody)
				if err != nil {
					return err
				}

				// 4xx responses are permanent; retrying them only burns
				// the attempt budget.
				if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError {
					return retry.Unrecoverable(ErrDispatcherClientError)
				}

				if statusCode >= http.StatusInternalServerError {
					return ErrDispatcherServerError
				}

				return nil
			},
			retry.Attempts(config.Conf.DispatcherRetryMaxAttempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(time.Duration(config.Conf.DispatcherRetryMinBackoff)*time.Second),
			retry.MaxDelay(time.Duration(config.Conf.DispatcherRetryMaxBackoff)*time.Second),
		)

		if statusCode >= http.StatusInternalServerError {
			return nil, ErrDispatcherServerError
		}

		if err != nil {
			return nil, err
		}

		return body, nil
	})
	if err != nil {
		return body, statusCode, err
	}

	return body, statusCode, nil
}

func (dispatcherClient *DispatcherClient) doRequest(
	ctx context.Context,
	apiUrl string,
	reqBody []byte,
) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiUrl, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", "Bearer "+config.Conf.DispatcherAPIKey)
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	client := &http.Client{
		Timeout: time.Duration(config.Conf.DispatcherTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}
