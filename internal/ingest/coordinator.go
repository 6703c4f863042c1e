package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deadfeed/internal/config"
	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/scheduler"

	"github.com/pterm/pterm"
)

// Scheduler task kinds, one schedule per (server, kind).
const (
	KindKillfeed = "killfeed"
	KindLog      = "log"
)

// Coordinator binds the server registry to the scheduler: every
// active server gets one killfeed schedule and one server-log
// schedule, and registry changes are reconciled into the scheduler
// both eagerly (on register/deactivate) and periodically.
type Coordinator struct {
	cfg      *config.Config
	servers  repositories.GameServerRepository
	killfeed *KillfeedIngestor
	logs     *LogIngestor
	backfill *BackfillEngine
	sched    *scheduler.Scheduler
	logger   *pterm.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	backfillTimers map[string]*time.Timer
}

func NewCoordinator(
	cfg *config.Config,
	servers repositories.GameServerRepository,
	killfeed *KillfeedIngestor,
	logs *LogIngestor,
	backfill *BackfillEngine,
	sched *scheduler.Scheduler,
	logger *pterm.Logger,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:            cfg,
		servers:        servers,
		killfeed:       killfeed,
		logs:           logs,
		backfill:       backfill,
		sched:          sched,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		backfillTimers: make(map[string]*time.Timer),
	}
}

// Start schedules every active server from the registry and begins
// the periodic reconciliation loop.
func (c *Coordinator) Start() error {
	servers, err := c.servers.FindActive()
	if err != nil {
		return fmt.Errorf("load active servers: %w", err)
	}

	for _, server := range servers {
		c.schedule(server)
	}
	c.logger.Info("Ingestion coordinator started", c.logger.Args("servers", len(servers)))

	c.wg.Add(1)
	go c.syncLoop()
	return nil
}

// Stop cancels the reconciliation loop and pending auto-backfills.
// The scheduler is stopped separately by its owner.
func (c *Coordinator) Stop() {
	c.cancel()

	c.mu.Lock()
	for key, timer := range c.backfillTimers {
		timer.Stop()
		delete(c.backfillTimers, key)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// RegisterServer persists the server, schedules its cycles and arms
// the delayed automatic backfill that seeds its history.
func (c *Coordinator) RegisterServer(server *models.GameServer) error {
	if err := c.servers.Register(server); err != nil {
		return fmt.Errorf("register server: %w", err)
	}

	key := server.Key()
	c.schedule(server)
	c.logger.Info("Server registered", c.logger.Args("server", key, "mode", server.Mode))

	guildID, serverID := server.GuildID, server.ServerID
	timer := time.AfterFunc(c.cfg.Ingest.BackfillDelay, func() {
		c.mu.Lock()
		delete(c.backfillTimers, key)
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		fresh, err := c.servers.FindByKey(guildID, serverID)
		if err != nil || fresh == nil || !fresh.IsActive {
			return
		}
		if err := c.backfill.Start(c.ctx, fresh); err != nil {
			c.logger.Warn("Automatic backfill not started",
				c.logger.Args("server", key, "error", err))
		}
	})

	c.mu.Lock()
	if previous, armed := c.backfillTimers[key]; armed {
		previous.Stop()
	}
	c.backfillTimers[key] = timer
	c.mu.Unlock()
	return nil
}

// DeactivateServer marks the server inactive and removes its
// schedules. An in-flight cycle finishes; no new tick fires.
func (c *Coordinator) DeactivateServer(guildID int64, serverID string) error {
	if err := c.servers.Deactivate(guildID, serverID); err != nil {
		return fmt.Errorf("deactivate server: %w", err)
	}

	key := fmt.Sprintf("%d:%s", guildID, serverID)
	c.sched.RemoveServer(key)

	c.mu.Lock()
	if timer, armed := c.backfillTimers[key]; armed {
		timer.Stop()
		delete(c.backfillTimers, key)
	}
	c.mu.Unlock()

	c.logger.Info("Server deactivated", c.logger.Args("server", key))
	return nil
}

// TriggerBackfill starts a manual backfill for a registered server.
func (c *Coordinator) TriggerBackfill(guildID int64, serverID string) error {
	server, err := c.servers.FindByKey(guildID, serverID)
	if err != nil {
		return err
	}
	if server == nil || !server.IsActive {
		return fmt.Errorf("server %d:%s is not registered", guildID, serverID)
	}
	return c.backfill.Start(c.ctx, server)
}

// NudgeOffline asks the scheduler to run the given server's cycles
// ahead of their next tick. Used by the offline-mode file watcher.
func (c *Coordinator) NudgeOffline(serverKey string) {
	c.sched.NudgeServer(serverKey)
}

// Status reports the scheduler entries for operational endpoints.
func (c *Coordinator) Status() []scheduler.EntryStatus {
	return c.sched.Status()
}

// schedule installs both cycle kinds for a server. Cycle closures
// re-read the server row each tick so credential or mode edits take
// effect without rescheduling.
func (c *Coordinator) schedule(server *models.GameServer) {
	key := server.Key()
	guildID, serverID := server.GuildID, server.ServerID

	c.sched.Add(scheduler.Key{ServerKey: key, Kind: KindKillfeed}, c.cfg.Ingest.KillfeedInterval,
		func(ctx context.Context) error {
			fresh, err := c.fresh(guildID, serverID)
			if err != nil || fresh == nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, c.cfg.Ingest.CycleTimeout)
			defer cancel()
			return c.killfeed.RunCycle(ctx, fresh)
		})

	c.sched.Add(scheduler.Key{ServerKey: key, Kind: KindLog}, c.cfg.Ingest.LogInterval,
		func(ctx context.Context) error {
			fresh, err := c.fresh(guildID, serverID)
			if err != nil || fresh == nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, c.cfg.Ingest.CycleTimeout)
			defer cancel()
			return c.logs.RunCycle(ctx, fresh)
		})
}

func (c *Coordinator) fresh(guildID int64, serverID string) (*models.GameServer, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, nil
	}
	server, err := c.servers.FindByKey(guildID, serverID)
	if err != nil {
		return nil, fmt.Errorf("load server %d:%s: %w", guildID, serverID, err)
	}
	if server == nil || !server.IsActive {
		return nil, nil
	}
	return server, nil
}

// syncLoop reconciles registry and scheduler on a fixed period, so a
// row edited out-of-band (another process, manual SQL) converges.
func (c *Coordinator) syncLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Ingest.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.sync(); err != nil {
				c.logger.Warn("Registry reconciliation failed", c.logger.Args("error", err))
			}
		}
	}
}

func (c *Coordinator) sync() error {
	servers, err := c.servers.FindActive()
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(servers))
	for _, server := range servers {
		active[server.Key()] = true
		if !c.sched.Has(scheduler.Key{ServerKey: server.Key(), Kind: KindKillfeed}) {
			c.logger.Info("Scheduling server found in registry",
				c.logger.Args("server", server.Key()))
			c.schedule(server)
		}
	}

	for _, key := range c.sched.Keys() {
		if !active[key.ServerKey] {
			c.logger.Info("Unscheduling server no longer active",
				c.logger.Args("server", key.ServerKey, "kind", key.Kind))
			c.sched.Remove(key)
		}
	}
	return nil
}
