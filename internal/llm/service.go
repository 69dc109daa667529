package llm

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrEmptyCompletion = errors.New("llm returned an empty completion")

const analysisSystemPrompt = `You analyze transcripts of outbound phone calls.
Respond with a JSON object containing exactly these fields:
"summary" (a short paragraph), "outcome" (one of: interested, not_interested,
callback_requested, wrong_number, voicemail, other) and "sentiment"
(one of: positive, neutral, negative). Respond with the JSON object only.`

type CallAnalysisResult struct {
	Summary   string `json:"summary"`
	Outcome   string `json:"outcome"`
	Sentiment string `json:"sentiment"`
}

type TranscriptAnalyzer interface {
	AnalyzeTranscript(ctx context.Context, transcript []byte, executionID string) (*CallAnalysisResult, error)
}

type LLMClient struct {
	Client         *openai.Client
	CircuitBreaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient() *LLMClient {
	opts := []option.RequestOption{
		option.WithBaseURL(config.Conf.LLMBaseUrl),
		option.WithAPIKey(config.Conf.LLMAPIKey),
		option.WithRequestTimeout(time.Duration(config.Conf.LLMTimeout) * time.Second),
	}

	client := openai.NewClient(opts...)

	return &LLMClient{
		Client:         &client,
		CircuitBreaker: newLLMCircuitBreaker(),
	}
}

func newLLMCircuitBreaker() *gobreaker.CircuitBreaker[[]byte] {
	settings := gobreaker.Settings{
		Name:     "LLMClient",
		Interval: time.Duration(config.Conf.LLMIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.LLMConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Info("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.LLMService)
			}
		},
	}

	return gobreaker.NewCircuitBreaker[[]byte](settings)
}

// AnalyzeTranscript summarizes a call transcript and classifies its outcome
func (llmClient *LLMClient) AnalyzeTranscript(
	ctx context.Context,
	transcript []byte,
	executionID string,
) (*CallAnalysisResult, error) {
	logging.Logger.Info("Starting transcript analysis",
		zap.String("execution_id", executionID),
		zap.Int("transcript_size", len(transcript)),
	)

	result, err := llmClient.CircuitBreaker.Execute(func() ([]byte, error) {
		return llmClient.doCompletionRequest(ctx, transcript, executionID)
	})
	if err != nil {
		return nil, err
	}

	var analysis CallAnalysisResult

	err = json.Unmarshal(result, &analysis)
	if err != nil {
		return nil, err
	}

	return &analysis, nil
}

func (llmClient *LLMClient) doCompletionRequest(
	ctx context.Context,
	transcript []byte,
	executionID string,
) ([]byte, error) {
	var resultBytes []byte

	// Check context before starting retries
	if ctx.Err() != nil {
		logging.Logger.Warn("[doCompletionRequest] Context already canceled before starting request",
			zap.String("execution_id", executionID),
			zap.Error(ctx.Err()),
		)

		return nil, ctx.Err()
	}

	err := retry.Do(
		func() error {
			// Check context before each retry
			if ctx.Err() != nil {
				logging.Logger.Warn("[doCompletionRequest] Context canceled during retry",
					zap.String("execution_id", executionID),
					zap.Error(ctx.Err()),
				)

				return ctx.Err()
			}

			logging.Logger.Debug("[doCompletionRequest] Making LLM API call",
				zap.String("execution_id", executionID),
			)

			resp, err := llmClient.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: config.Conf.LLMModel,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(analysisSystemPrompt),
					openai.UserMessage(string(transcript)),
				},
			}, option.WithHeader("x-request-id", executionID))
			if err != nil {
				logging.Logger.Error("Completion request failed",
					zap.String("execution_id", executionID),
					zap.String("error", err.Error()),
				)

				return err
			}

			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}

			resultBytes = []byte(resp.Choices[0].Message.Content)
			logging.Logger.Info("Transcript analysis completed successfully",
				zap.String("execution_id", executionID),
				zap.Int("content_length", len(resultBytes)),
			)

			return nil
		},
		retry.Attempts(config.Conf.LLMRetryMaxAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Duration(config.Conf.LLMRetryMinBackoff)*time.Second),
		retry.MaxDelay(time.Duration(config.Conf.LLMRetryMaxBackoff)*time.Second),
	)
	if err != nil {
		logging.Logger.Error("Transcript analysis failed after all retry attempts",
			zap.String("execution_id", executionID),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	return resultBytes, nil
}
