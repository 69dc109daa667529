package scheduler

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidLeaseResult = errors.New("invalid result type, it should be bool")

// SchedulerLease serializes scheduling passes across instances. Whoever
// holds the row for the resource with an unexpired token runs the pass.
type SchedulerLease struct {
	Resource  string    `gorm:"column:resource;type:varchar(64);primaryKey"`
	Token     string    `gorm:"column:token;type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SchedulerLease) TableName() string {
	return "scheduler_leases"
}

type LeaseRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewLeaseRepository(dbConn *gorm.DB) *LeaseRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &LeaseRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// Acquire takes or renews the lease. The conditional update only succeeds
// when the lease is expired or already ours, so exactly one holder exists
// at any moment.
func (leaseRepository *LeaseRepository) Acquire(
	ctx context.Context,
	resource, token string,
	ttl time.Duration,
) (bool, error) {
	result, err := leaseRepository.CircuitBreaker.Execute(func() (any, error) {
		now := time.Now()
		expiresAt := now.Add(ttl)

		update := leaseRepository.DBConn.WithContext(ctx).
			Model(&SchedulerLease{}).
			Where("resource = ? AND (expires_at <= ? OR token = ?)", resource, now, token).
			Updates(map[string]any{
				"token":      token,
				"expires_at": expiresAt,
			})
		if update.Error != nil {
			logging.Logger.Error("[Acquire] Failed to update scheduler lease",
				zap.String("resource", resource),
				zap.String("error", update.Error.Error()),
			)

			return false, update.Error
		}

		if update.RowsAffected > 0 {
			return true, nil
		}

		lease := SchedulerLease{
			Resource:  resource,
			Token:     token,
			ExpiresAt: expiresAt,
		}

		insert := leaseRepository.DBConn.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&lease)
		if insert.Error != nil {
			logging.Logger.Error("[Acquire] Failed to insert scheduler lease",
				zap.String("resource", resource),
				zap.String("error", insert.Error.Error()),
			)

			return false, insert.Error
		}

		return insert.RowsAffected > 0, nil
	})
	if err != nil {
		return false, err
	}

	acquired, ok := result.(bool)
	if !ok {
		return false, ErrInvalidLeaseResult
	}

	return acquired, nil
}

// Release drops the lease if we still hold it. Losing the race here is
// harmless; an expired lease is equivalent to a released one.
func (leaseRepository *LeaseRepository) Release(ctx context.Context, resource, token string) error {
	_, err := leaseRepository.CircuitBreaker.Execute(func() (any, error) {
		err := leaseRepository.DBConn.WithContext(ctx).
			Where("resource = ? AND token = ?", resource, token).
			Delete(&SchedulerLease{}).Error

		return nil, err
	})

	return err
}
