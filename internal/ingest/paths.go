package ingest

import (
	"fmt"

	"deadfeed/internal/config"
	"deadfeed/internal/database/models"
	"deadfeed/internal/remote"

	"github.com/pterm/pterm"
)

// ClientFactory yields a single-cycle file client for a server: SFTP
// in live mode, the local fallback directory in offline mode.
type ClientFactory func(server *models.GameServer) (remote.FileClient, error)

// NewClientFactory builds the production factory from global remote
// settings plus each server's registry credentials.
func NewClientFactory(cfg *config.Config, logger *pterm.Logger) ClientFactory {
	return func(server *models.GameServer) (remote.FileClient, error) {
		switch server.Mode {
		case models.ModeOffline:
			return remote.NewLocalClient(cfg.Offline.DataDir, logger), nil
		case models.ModeLive:
			return remote.NewSFTPClient(remote.SFTPConfig{
				Host:        server.Host,
				Port:        server.Port,
				Username:    server.Username,
				Password:    server.Password,
				DialTimeout: cfg.Remote.DialTimeout,
				MaxRetries:  cfg.Remote.MaxRetries,
			}, logger), nil
		default:
			return nil, fmt.Errorf("server %s has unknown mode %q", server.Key(), server.Mode)
		}
	}
}

// CSVPattern returns the kill-log glob for a server. Remote layout is
// ./{host}_{serverID}/actual1/deathlogs/*/*.csv; offline mode mirrors
// it under csv/ in the local data directory.
func CSVPattern(server *models.GameServer) string {
	if server.Mode == models.ModeOffline {
		return "csv/*.csv"
	}
	return server.RemoteRoot() + "/actual1/deathlogs/*/*.csv"
}

// LogPath returns the growing server-log path for a server.
func LogPath(server *models.GameServer) string {
	if server.Mode == models.ModeOffline {
		return "logs/Deadside.log"
	}
	return server.RemoteRoot() + "/Logs/Deadside.log"
}
