package usersettings

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"github.com/sony/gobreaker/v2"
	"gorm.io/gorm"
)

var ErrInvalidLimitResult = errors.New("invalid result type, it should be int")

type SettingsRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewSettingsRepository(dbConn *gorm.DB) *SettingsRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &SettingsRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// GetConcurrencyLimit returns the user's configured slot limit, falling back
// to the deployment default when the user has no settings row.
func (settingsRepository *SettingsRepository) GetConcurrencyLimit(
	ctx context.Context,
	userID string,
) (int, error) {
	result, err := settingsRepository.CircuitBreaker.Execute(func() (any, error) {
		var settings UserSettings

		err := settingsRepository.DBConn.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&settings).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return config.Conf.DefaultUserConcurrencyLimit, nil
		}

		if err != nil {
			return nil, err
		}

		if settings.MaxConcurrentCalls <= 0 {
			return config.Conf.DefaultUserConcurrencyLimit, nil
		}

		return settings.MaxConcurrentCalls, nil
	})
	if err != nil {
		return 0, err
	}

	limit, ok := result.(int)
	if !ok {
		return 0, ErrInvalidLimitResult
	}

	return limit, nil
}
