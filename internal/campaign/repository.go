package campaign

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"github.com/sony/gobreaker/v2"
	"gorm.io/gorm"
)

var ErrInvalidCampaignResult = errors.New("invalid result type, it should be pointer to Campaign struct")

type CampaignRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewCampaignRepository(dbConn *gorm.DB) *CampaignRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &CampaignRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// GetCampaignByID retrieves a Campaign by its id.
func (campaignRepository *CampaignRepository) GetCampaignByID(
	ctx context.Context,
	campaignID string,
) (*Campaign, error) {
	result, err := campaignRepository.CircuitBreaker.Execute(func() (any, error) {
		var campaign Campaign

		err := campaignRepository.DBConn.WithContext(ctx).
			Where("id = ?", campaignID).
			First(&campaign).Error
		if err != nil {
			return nil, err
		}

		return &campaign, nil
	})
	if err != nil {
		return nil, err
	}

	campaign, ok := result.(*Campaign)
	if !ok {
		return nil, ErrInvalidCampaignResult
	}

	return campaign, nil
}
