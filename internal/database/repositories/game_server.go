package repositories

import (
	"errors"
	"time"

	"deadfeed/internal/database/models"

	"gorm.io/gorm"
)

type GameServerRepository interface {
	// Register creates the server, or reactivates and updates an
	// existing (guild, server) record. Servers are never deleted.
	Register(server *models.GameServer) error
	Deactivate(guildID int64, serverID string) error
	FindActive() ([]*models.GameServer, error)
	FindByKey(guildID int64, serverID string) (*models.GameServer, error)
}

type gameServerRepo struct {
	db *gorm.DB
}

func NewGameServerRepository(db *gorm.DB) GameServerRepository {
	return &gameServerRepo{db: db}
}

func (r *gameServerRepo) Register(server *models.GameServer) error {
	var existing models.GameServer
	err := r.db.Where("guild_id = ? AND server_id = ?", server.GuildID, server.ServerID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		server.IsActive = true
		return r.db.Create(server).Error
	}
	if err != nil {
		return err
	}

	existing.Host = server.Host
	existing.Port = server.Port
	existing.Username = server.Username
	existing.Password = server.Password
	existing.Mode = server.Mode
	existing.IsActive = true
	if err := r.db.Save(&existing).Error; err != nil {
		return err
	}
	*server = existing
	return nil
}

func (r *gameServerRepo) Deactivate(guildID int64, serverID string) error {
	return r.db.Exec(
		"UPDATE game_servers SET is_active = ?, updated_at = ? WHERE guild_id = ? AND server_id = ?",
		false, time.Now(), guildID, serverID,
	).Error
}

func (r *gameServerRepo) FindActive() ([]*models.GameServer, error) {
	var servers []*models.GameServer
	err := r.db.Where("is_active = ?", true).Order("guild_id, server_id").Find(&servers).Error
	return servers, err
}

func (r *gameServerRepo) FindByKey(guildID int64, serverID string) (*models.GameServer, error) {
	var server models.GameServer
	err := r.db.Where("guild_id = ? AND server_id = ?", guildID, serverID).First(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &server, nil
}
