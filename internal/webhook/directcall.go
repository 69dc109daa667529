package webhook

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/dispatcher"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/ledger"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAdmissionDenied carries the ledger's denial reason to the API layer.
type ErrAdmissionDenied struct {
	Reason string
}

func (e *ErrAdmissionDenied) Error() string {
	return "admission denied: " + e.Reason
}

var ErrDispatchFailed = errors.New("call placement provider rejected the call")

type PlaceDirectCallRequest struct {
	UserID      string          `json:"user_id"      binding:"required"`
	AgentID     string          `json:"agent_id"     binding:"required"`
	PhoneNumber string          `json:"phone_number" binding:"required"`
	Metadata    json.RawMessage `json:"metadata"`
}

type PlaceDirectCallResponse struct {
	CallID          string `json:"call_id"`
	ExecutionID     string `json:"execution_id"`
	PreemptedCallID string `json:"preempted_call_id,omitempty"`
}

// DirectCallService places user-initiated calls. Direct calls outrank
// campaign calls: at the user limit the oldest campaign slot is evicted
// and its in-flight call hung up best-effort.
type DirectCallService struct {
	LedgerService  *ledger.LedgerService
	CallRepository *call.CallRepository
	CallPlacer     dispatcher.CallPlacer
	SideEffectPool *ants.Pool
}

func NewDirectCallService(
	dbConn *gorm.DB,
	ledgerService *ledger.LedgerService,
	callPlacer dispatcher.CallPlacer,
	sideEffectPool *ants.Pool,
) *DirectCallService {
	return &DirectCallService{
		LedgerService:  ledgerService,
		CallRepository: call.NewCallRepository(dbConn),
		CallPlacer:     callPlacer,
		SideEffectPool: sideEffectPool,
	}
}

func (directCallService *DirectCallService) PlaceDirectCall(
	ctx context.Context,
	request *PlaceDirectCallRequest,
) (*PlaceDirectCallResponse, error) {
	callID := uuid.NewString()

	reservation, err := directCallService.LedgerService.Reserve(
		ctx,
		request.UserID,
		callID,
		ledger.CallTypeDirect,
	)
	if err != nil {
		return nil, err
	}

	if !reservation.Decision.Granted {
		return nil, &ErrAdmissionDenied{Reason: reservation.Decision.DeniedReason}
	}

	if reservation.PreemptedCallID != "" {
		directCallService.hangupPreempted(ctx, reservation.PreemptedCallID)
	}

	executionID, err := directCallService.CallPlacer.PlaceCall(ctx, &dispatcher.PlaceCallRequest{
		AgentID:     request.AgentID,
		PhoneNumber: request.PhoneNumber,
		Context:     request.Metadata,
	})
	if err != nil {
		releaseErr := directCallService.LedgerService.Release(ctx, callID)
		if releaseErr != nil {
			logging.Logger.Error("failed to release slot after direct dispatch failure",
				zap.String("call_id", callID),
				zap.String("error", releaseErr.Error()),
			)
		}

		logging.Logger.Error("direct call placement failed",
			zap.String("user_id", request.UserID),
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)

		return nil, ErrDispatchFailed
	}

	newCall := &call.Call{
		ID:          callID,
		ExecutionID: executionID,
		UserID:      request.UserID,
		AgentID:     request.AgentID,
		PhoneNumber: request.PhoneNumber,
		CallType:    ledger.CallTypeDirect,
		Metadata:    datatypes.JSON(request.Metadata),
	}

	err = directCallService.CallRepository.CreateDispatched(ctx, newCall)
	if err != nil {
		logging.Logger.Warn("failed to record direct call",
			zap.String("call_id", callID),
			zap.String("execution_id", executionID),
			zap.String("error", err.Error()),
		)
	}

	logging.Logger.Info("direct call dispatched",
		zap.String("user_id", request.UserID),
		zap.String("call_id", callID),
		zap.String("execution_id", executionID),
	)

	return &PlaceDirectCallResponse{
		CallID:          callID,
		ExecutionID:     executionID,
		PreemptedCallID: reservation.PreemptedCallID,
	}, nil
}

// hangupPreempted tells the provider to end the evicted campaign call. The
// slot and queue bookkeeping already happened inside the admission
// transaction; failing to hang up only wastes the provider's time.
func (directCallService *DirectCallService) hangupPreempted(ctx context.Context, preemptedCallID string) {
	victim, err := directCallService.CallRepository.GetCallByID(ctx, preemptedCallID)
	if err != nil {
		logging.Logger.Warn("preempted call record not found, skipping hangup",
			zap.String("call_id", preemptedCallID),
			zap.String("error", err.Error()),
		)

		return
	}

	executionID := victim.ExecutionID
	if executionID == "" {
		return
	}

	err = directCallService.SideEffectPool.Submit(func() {
		hangupCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(config.Conf.DispatcherTimeout)*time.Second,
		)
		defer cancel()

		hangupErr := directCallService.CallPlacer.Hangup(hangupCtx, executionID)
		if hangupErr != nil {
			logging.Logger.Warn("failed to hang up preempted call",
				zap.String("call_id", preemptedCallID),
				zap.String("execution_id", executionID),
				zap.String("error", hangupErr.Error()),
			)
		}
	})
	if err != nil {
		logging.Logger.Error("failed to submit preemption hangup job",
			zap.String("call_id", preemptedCallID),
			zap.String("error", err.Error()),
		)
	}
}
