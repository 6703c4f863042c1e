package repositories

import (
	"errors"
	"time"

	"deadfeed/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointRepository is the durable cursor store, keyed per
// (serverKey, fileKind). Commit must only be called after every event
// covered by the new offset has been emitted; a crash before Commit
// re-delivers at most the last batch.
type CheckpointRepository interface {
	Get(serverKey, fileKind string) (*models.ParseCheckpoint, bool, error)
	Commit(cp *models.ParseCheckpoint) error
	Clear(serverKey, fileKind string) error
}

type checkpointRepo struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepo{db: db}
}

func (r *checkpointRepo) Get(serverKey, fileKind string) (*models.ParseCheckpoint, bool, error) {
	var cp models.ParseCheckpoint
	err := r.db.Where("server_key = ? AND file_kind = ?", serverKey, fileKind).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &cp, true, nil
}

func (r *checkpointRepo) Commit(cp *models.ParseCheckpoint) error {
	cp.UpdatedAt = time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "server_key"}, {Name: "file_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_name", "file_size", "file_modified", "byte_offset", "updated_at",
		}),
	}).Create(cp).Error
}

func (r *checkpointRepo) Clear(serverKey, fileKind string) error {
	return r.db.Where("server_key = ? AND file_kind = ?", serverKey, fileKind).
		Delete(&models.ParseCheckpoint{}).Error
}
