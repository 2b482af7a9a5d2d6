package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"launchpad/internal/business"
	"launchpad/internal/models"
)

// ErrSupplyExceeded means the guarded supply update matched no row
var ErrSupplyExceeded = errors.New("settlement would exceed max supply")

// Store persists launches, purchase records, fee payments and settlement
// failures in postgres.
type Store struct {
	db *gorm.DB
}

var _ business.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return business.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", business.ErrDuplicate, err)
	}
	return err
}

func (s *Store) GetLaunch(ctx context.Context, id string) (*models.Launch, error) {
	var launch models.Launch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&launch).Error; err != nil {
		return nil, translate(err)
	}
	return &launch, nil
}

func (s *Store) NameOrSymbolTaken(ctx context.Context, name, symbol string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Launch{}).
		Where("name = ? OR symbol = ?", name, symbol).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) CreateLaunch(ctx context.Context, launch *models.Launch) error {
	return translate(s.db.WithContext(ctx).Create(launch).Error)
}

func (s *Store) ListLaunchesByStatus(ctx context.Context, statuses ...models.LaunchStatus) ([]models.Launch, error) {
	var launches []models.Launch
	err := s.db.WithContext(ctx).
		Where("status IN ?", statusStrings(statuses)).
		Order("start_date ASC").
		Find(&launches).Error
	return launches, err
}

func (s *Store) MintExists(ctx context.Context, txidIn string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Mint{}).Where("txid_in = ?", txidIn).Count(&count).Error
	return count > 0, err
}

func (s *Store) FeePaymentExists(ctx context.Context, txid string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.FeePayment{}).Where("txid = ?", txid).Count(&count).Error
	return count > 0, err
}

func (s *Store) RecordFeePayment(ctx context.Context, fee *models.FeePayment) error {
	return translate(s.db.WithContext(ctx).Create(fee).Error)
}

// Settle inserts mint and credits its amount in one transaction. The supply
// update is guarded in SQL so current_supply can never pass max_supply, and
// status becomes finished in the same statement that fills the supply.
func (s *Store) Settle(ctx context.Context, mint *models.Mint) (*models.Launch, error) {
	var launch models.Launch

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mint).Error; err != nil {
			return fmt.Errorf("insert mint: %w", translate(err))
		}

		res := tx.Model(&models.Launch{}).
			Where("id = ? AND current_supply + ? <= max_supply", mint.LaunchID, mint.Amount).
			Updates(map[string]interface{}{
				"current_supply": gorm.Expr("current_supply + ?", mint.Amount),
				"status": gorm.Expr("CASE WHEN current_supply + ? >= max_supply THEN ? ELSE ? END",
					mint.Amount, string(models.LaunchStatusFinished), string(models.LaunchStatusLive)),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("update supply: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSupplyExceeded
		}

		return tx.Where("id = ?", mint.LaunchID).First(&launch).Error
	})
	if err != nil {
		return nil, err
	}
	return &launch, nil
}

func (s *Store) SyncStatus(ctx context.Context, launchID string, status models.LaunchStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Launch{}).
		Where("id = ?", launchID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return business.ErrNotFound
	}
	return nil
}

// RecordSettlementFailure stores a reconciliation entry. Redelivered events
// for the same payment are ignored.
func (s *Store) RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error {
	err := translate(s.db.WithContext(ctx).Create(failure).Error)
	if errors.Is(err, business.ErrDuplicate) {
		return nil
	}
	return err
}

func statusStrings(statuses []models.LaunchStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
