package models

import (
	"fmt"
	"time"
)

// Game-server operating modes. Offline servers read from a local
// fallback directory instead of SFTP.
const (
	ModeLive    = "live"
	ModeOffline = "offline"
)

type GameServer struct {
	ID       uint   `gorm:"primaryKey"`
	GuildID  int64  `gorm:"not null;uniqueIndex:idx_guild_server"`
	ServerID string `gorm:"not null;uniqueIndex:idx_guild_server"`

	Host     string
	Port     int `gorm:"default:22"`
	Username string
	Password string

	Mode     string `gorm:"not null;default:live"`
	IsActive bool   `gorm:"not null;default:true;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GameServer) TableName() string {
	return "game_servers"
}

// Key returns the stable "{guildID}:{serverID}" identifier used for
// checkpoints, locks, entitlements and event attribution.
func (s *GameServer) Key() string {
	return fmt.Sprintf("%d:%s", s.GuildID, s.ServerID)
}

// RemoteRoot returns the per-server directory on the remote host,
// mirroring the provider layout ./{host}_{serverID}/.
func (s *GameServer) RemoteRoot() string {
	return fmt.Sprintf("./%s_%s", s.Host, s.ServerID)
}
