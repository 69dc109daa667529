package analysis

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCallAnalysisResult  = errors.New("invalid result type, it should be pointer to CallAnalysis")
	ErrInvalidTranscriptRefResult = errors.New("invalid result type, it should be string")
	ErrCallNotFound               = errors.New("no call exists for the given execution id")
)

type AnalysisRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewRepository(dbConn *gorm.DB) *AnalysisRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &AnalysisRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// SaveAnalysis upserts the analysis row so redelivered jobs overwrite instead of failing.
func (analysisRepository *AnalysisRepository) SaveAnalysis(
	ctx context.Context,
	callAnalysis *CallAnalysis,
) (*CallAnalysis, error) {
	result, err := analysisRepository.CircuitBreaker.Execute(func() (any, error) {
		err := analysisRepository.DBConn.WithContext(ctx).
			Where("execution_id = ?", callAnalysis.ExecutionID).
			Assign(map[string]interface{}{
				"call_id":   callAnalysis.CallID,
				"summary":   callAnalysis.Summary,
				"outcome":   callAnalysis.Outcome,
				"sentiment": callAnalysis.Sentiment,
				"model":     callAnalysis.Model,
			}).
			FirstOrCreate(callAnalysis).Error
		if err != nil {
			logging.Logger.Error("[SaveAnalysis] Failed to save call analysis",
				zap.String("execution_id", callAnalysis.ExecutionID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return callAnalysis, nil
	})
	if err != nil {
		return nil, err
	}

	saved, ok := result.(*CallAnalysis)
	if !ok {
		return nil, ErrInvalidCallAnalysisResult
	}

	return saved, nil
}

// GetTranscriptRef reads the transcript reference straight off the calls table.
// Returns an empty string when the call exists but has no transcript yet.
func (analysisRepository *AnalysisRepository) GetTranscriptRef(
	ctx context.Context,
	executionID string,
) (string, error) {
	result, err := analysisRepository.CircuitBreaker.Execute(func() (any, error) {
		var refs []*string

		err := analysisRepository.DBConn.WithContext(ctx).
			Table("calls").
			Where("execution_id = ?", executionID).
			Limit(1).
			Pluck("transcript_ref", &refs).Error
		if err != nil {
			logging.Logger.Error("[GetTranscriptRef] Failed to query call",
				zap.String("execution_id", executionID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		if len(refs) == 0 {
			return nil, ErrCallNotFound
		}

		if refs[0] == nil {
			return "", nil
		}

		return *refs[0], nil
	})
	if err != nil {
		return "", err
	}

	ref, ok := result.(string)
	if !ok {
		return "", ErrInvalidTranscriptRefResult
	}

	return ref, nil
}
