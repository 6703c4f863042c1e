package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/events"
	"deadfeed/internal/ingest"
	"deadfeed/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// Coordinator is the slice of the ingestion coordinator the API
// needs; keeping it an interface keeps handlers testable.
type Coordinator interface {
	RegisterServer(server *models.GameServer) error
	DeactivateServer(guildID int64, serverID string) error
	TriggerBackfill(guildID int64, serverID string) error
	Status() []scheduler.EntryStatus
}

// BackfillReader answers progress queries.
type BackfillReader interface {
	Latest(serverKey string) (events.BackfillProgress, bool)
}

// StatusHandler handles server-registry and ingestion-status requests
type StatusHandler struct {
	coord    Coordinator
	servers  repositories.GameServerRepository
	backfill BackfillReader
	logger   *pterm.Logger
}

func NewStatusHandler(
	coord Coordinator,
	servers repositories.GameServerRepository,
	backfill BackfillReader,
	logger *pterm.Logger,
) *StatusHandler {
	return &StatusHandler{
		coord:    coord,
		servers:  servers,
		backfill: backfill,
		logger:   logger,
	}
}

// GetStatus returns the scheduler entries with per-schedule counters
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedules": h.coord.Status()})
}

// ListServers returns the active server registry
func (h *StatusHandler) ListServers(c *gin.Context) {
	servers, err := h.servers.FindActive()
	if err != nil {
		h.logger.Error("Failed to list servers", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list servers"})
		return
	}

	type serverView struct {
		GuildID  int64  `json:"guild_id"`
		ServerID string `json:"server_id"`
		Host     string `json:"host,omitempty"`
		Mode     string `json:"mode"`
	}

	out := make([]serverView, 0, len(servers))
	for _, s := range servers {
		out = append(out, serverView{
			GuildID:  s.GuildID,
			ServerID: s.ServerID,
			Host:     s.Host,
			Mode:     s.Mode,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": out})
}

type registerRequest struct {
	GuildID  int64  `json:"guild_id" binding:"required"`
	ServerID string `json:"server_id" binding:"required"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

// RegisterServer adds or reactivates a server and schedules it
func (h *StatusHandler) RegisterServer(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ModeLive
	}
	if mode != models.ModeLive && mode != models.ModeOffline {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be live or offline"})
		return
	}
	if mode == models.ModeLive && req.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "live servers require a host"})
		return
	}

	server := &models.GameServer{
		GuildID:  req.GuildID,
		ServerID: req.ServerID,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Mode:     mode,
	}
	if err := h.coord.RegisterServer(server); err != nil {
		h.logger.Error("Failed to register server",
			h.logger.Args("server", server.Key(), "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register server"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"server": server.Key(), "mode": mode})
}

// DeactivateServer removes a server from ingestion
func (h *StatusHandler) DeactivateServer(c *gin.Context) {
	guildID, serverID, ok := h.pathIdentity(c)
	if !ok {
		return
	}

	if err := h.coord.DeactivateServer(guildID, serverID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate server"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// TriggerBackfill starts a historical backfill; a second request
// while one is running is rejected with 409
func (h *StatusHandler) TriggerBackfill(c *gin.Context) {
	guildID, serverID, ok := h.pathIdentity(c)
	if !ok {
		return
	}

	err := h.coord.TriggerBackfill(guildID, serverID)
	if errors.Is(err, ingest.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"backfill": "started"})
}

// GetBackfillProgress returns the latest progress report
func (h *StatusHandler) GetBackfillProgress(c *gin.Context) {
	guildID, serverID, ok := h.pathIdentity(c)
	if !ok {
		return
	}

	key := strconv.FormatInt(guildID, 10) + ":" + serverID
	progress, found := h.backfill.Latest(key)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no backfill recorded for this server"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server":          progress.ServerKey,
		"files_total":     progress.FilesTotal,
		"files_done":      progress.FilesDone,
		"lines_total":     progress.LinesTotal,
		"lines_done":      progress.LinesDone,
		"events_emitted":  progress.EventsEmitted,
		"lines_malformed": progress.LinesMalformed,
		"percent":         progress.Percent(),
		"started_at":      progress.StartedAt,
		"finished":        progress.Finished,
	})
}

func (h *StatusHandler) pathIdentity(c *gin.Context) (int64, string, bool) {
	guildID, err := strconv.ParseInt(c.Param("guild"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild must be an integer"})
		return 0, "", false
	}
	serverID := c.Param("server")
	if serverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server is required"})
		return 0, "", false
	}
	return guildID, serverID, true
}
