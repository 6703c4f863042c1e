package repositories

import (
	"errors"
	"time"

	"deadfeed/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PremiumRepository interface {
	// Find returns the stored status, or (nil, nil) when no row
	// exists. Absence must stay distinguishable from disabled.
	Find(serverKey string) (*models.PremiumStatus, error)
	Set(serverKey string, enabled bool, expiresAt *time.Time) error
}

type premiumRepo struct {
	db *gorm.DB
}

func NewPremiumRepository(db *gorm.DB) PremiumRepository {
	return &premiumRepo{db: db}
}

func (r *premiumRepo) Find(serverKey string) (*models.PremiumStatus, error) {
	var status models.PremiumStatus
	err := r.db.Where("server_key = ?", serverKey).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *premiumRepo) Set(serverKey string, enabled bool, expiresAt *time.Time) error {
	status := &models.PremiumStatus{
		ServerKey: serverKey,
		Enabled:   enabled,
		ExpiresAt: expiresAt,
		UpdatedAt: time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "expires_at", "updated_at"}),
	}).Create(status).Error
}
