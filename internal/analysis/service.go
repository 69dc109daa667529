package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/llm"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/utils"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrMissingExecutionID = errors.New("analysis job has no execution id")
	ErrTranscriptNotReady = errors.New("call has no transcript reference yet")
)

type TranscriptDownloader interface {
	Download(ctx context.Context, objectKey string) (*bytes.Buffer, error)
}

type AnalysisService struct {
	AnalysisRepository *AnalysisRepository
	TranscriptStore    TranscriptDownloader
	Analyzer           llm.TranscriptAnalyzer
}

func NewService(
	dbConn *gorm.DB,
	transcriptStore TranscriptDownloader,
	analyzer llm.TranscriptAnalyzer,
) *AnalysisService {
	return &AnalysisService{
		AnalysisRepository: NewRepository(dbConn),
		TranscriptStore:    transcriptStore,
		Analyzer:           analyzer,
	}
}

// ProcessAnalysisMessage handles one analysis job message end to end:
// locate the transcript, run it through the LLM and persist the result.
func (analysisService *AnalysisService) ProcessAnalysisMessage(
	ctx context.Context,
	msgValue []byte,
) (*CallAnalysis, error) {
	var job Job

	err := json.Unmarshal(msgValue, &job)
	if err != nil {
		return nil, err
	}

	if job.ExecutionID == "" {
		return nil, ErrMissingExecutionID
	}

	enqueuedAt, err := utils.ParseFlexibleTime(job.CreatedAt)
	if err != nil {
		logging.Logger.Warn("analysis job carries unparsable created_at",
			zap.String("execution_id", job.ExecutionID),
			zap.String("created_at", job.CreatedAt),
		)
	} else if enqueuedAt != nil {
		logging.Logger.Debug("processing analysis job",
			zap.String("execution_id", job.ExecutionID),
			zap.Duration("queue_latency", time.Since(*enqueuedAt)),
		)
	}

	transcriptRef, err := analysisService.AnalysisRepository.GetTranscriptRef(ctx, job.ExecutionID)
	if err != nil {
		return nil, err
	}

	if transcriptRef == "" {
		return nil, ErrTranscriptNotReady
	}

	buffer, err := analysisService.TranscriptStore.Download(ctx, TranscriptObjectKey(job.ExecutionID))
	if err != nil {
		return nil, err
	}

	result, err := analysisService.Analyzer.AnalyzeTranscript(ctx, buffer.Bytes(), job.ExecutionID)
	if err != nil {
		return nil, err
	}

	callAnalysis := &CallAnalysis{
		ExecutionID: job.ExecutionID,
		CallID:      job.CallID,
		Summary:     result.Summary,
		Outcome:     result.Outcome,
		Sentiment:   result.Sentiment,
		Model:       config.Conf.LLMModel,
	}

	saved, err := analysisService.AnalysisRepository.SaveAnalysis(ctx, callAnalysis)
	if err != nil {
		return nil, err
	}

	logging.Logger.Info("call analysis stored",
		zap.String("execution_id", saved.ExecutionID),
		zap.String("outcome", saved.Outcome),
	)

	return saved, nil
}

// TranscriptObjectKey is the object storage key the lifecycle service uploads
// transcripts under.
func TranscriptObjectKey(executionID string) string {
	return fmt.Sprintf("transcripts/%s.json", executionID)
}
