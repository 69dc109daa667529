package healthchecker

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/llm"
)

func CheckLLM() error {
	llmClient := llm.NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := llmClient.AnalyzeTranscript(ctx, readTestFile().Bytes(), monitorExecutionID)

	return err
}
