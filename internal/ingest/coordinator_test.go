package ingest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"deadfeed/internal/config"
	"deadfeed/internal/database/models"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/deadside"
	"deadfeed/internal/parser/killfeed"
	"deadfeed/internal/scheduler"
	"deadfeed/internal/sink"
)

// memServers is an in-memory GameServerRepository.
type memServers struct {
	mu      sync.Mutex
	servers map[string]*models.GameServer
}

func newMemServers() *memServers {
	return &memServers{servers: make(map[string]*models.GameServer)}
}

func (m *memServers) key(guildID int64, serverID string) string {
	return fmt.Sprintf("%d:%s", guildID, serverID)
}

func (m *memServers) Register(server *models.GameServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *server
	copied.IsActive = true
	m.servers[m.key(server.GuildID, server.ServerID)] = &copied
	server.IsActive = true
	return nil
}

func (m *memServers) Deactivate(guildID int64, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[m.key(guildID, serverID)]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memServers) FindActive() ([]*models.GameServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GameServer
	for _, s := range m.servers {
		if s.IsActive {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memServers) FindByKey(guildID int64, serverID string) (*models.GameServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[m.key(guildID, serverID)]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func testCoordinatorConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			KillfeedInterval: time.Hour,
			LogInterval:      time.Hour,
			CycleTimeout:     time.Minute,
			BackfillDelay:    time.Hour, // never fires within a test
			ProgressInterval: time.Hour,
			FailureThreshold: 3,
			SyncInterval:     time.Hour,
		},
		Offline: config.OfflineConfig{DataDir: "dev_data"},
	}
}

func newTestCoordinator(t *testing.T, servers *memServers) (*Coordinator, *scheduler.Scheduler, *captureSink) {
	t.Helper()

	logger := testLogger()
	m := metrics.New()
	client := newFakeClient()
	checkpoints := newMemCheckpoints()
	capture := newCaptureSink()
	locks := NewServerLocks()
	health := NewConnHealth(3, m, logger)

	killfeedIngestor := NewKillfeedIngestor(
		factoryFor(client), checkpoints, killfeed.NewParser(logger),
		capture, locks, health, m, logger)
	logIngestor := NewLogIngestor(
		factoryFor(client), checkpoints, deadside.NewRegistry(logger),
		fixedEntitlements{entitlement: sink.EntitlementAbsent},
		capture, health, m, logger)
	backfillEngine := NewBackfillEngine(
		factoryFor(client), checkpoints, killfeed.NewParser(logger),
		capture, capture, capture, locks, m, logger, time.Hour)

	sched := scheduler.New(logger, m)
	coord := NewCoordinator(testCoordinatorConfig(), servers, killfeedIngestor, logIngestor, backfillEngine, sched, logger)

	t.Cleanup(func() {
		coord.Stop()
		sched.Stop()
	})
	return coord, sched, capture
}

func TestCoordinator_StartSchedulesActiveServers(t *testing.T) {
	servers := newMemServers()
	servers.Register(&models.GameServer{GuildID: 1, ServerID: "alpha", Mode: models.ModeOffline})
	servers.Register(&models.GameServer{GuildID: 2, ServerID: "beta", Mode: models.ModeOffline})

	coord, sched, _ := newTestCoordinator(t, servers)
	if err := coord.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(sched.Keys()) != 4 {
		t.Errorf("Scheduled %d pairs, want 4 (two kinds per server)", len(sched.Keys()))
	}
	if !sched.Has(scheduler.Key{ServerKey: "1:alpha", Kind: KindKillfeed}) ||
		!sched.Has(scheduler.Key{ServerKey: "1:alpha", Kind: KindLog}) {
		t.Error("Both kinds should be scheduled for 1:alpha")
	}
}

func TestCoordinator_RegisterSchedulesImmediately(t *testing.T) {
	servers := newMemServers()
	coord, sched, _ := newTestCoordinator(t, servers)
	coord.Start()

	err := coord.RegisterServer(&models.GameServer{GuildID: 3, ServerID: "gamma", Mode: models.ModeOffline})
	if err != nil {
		t.Fatalf("RegisterServer failed: %v", err)
	}

	if !sched.Has(scheduler.Key{ServerKey: "3:gamma", Kind: KindKillfeed}) {
		t.Error("Registered server should be scheduled without waiting for a sync")
	}
	if found, _ := servers.FindByKey(3, "gamma"); found == nil {
		t.Error("Registered server should be persisted")
	}
}

func TestCoordinator_DeactivateUnschedules(t *testing.T) {
	servers := newMemServers()
	servers.Register(&models.GameServer{GuildID: 1, ServerID: "alpha", Mode: models.ModeOffline})

	coord, sched, _ := newTestCoordinator(t, servers)
	coord.Start()

	if err := coord.DeactivateServer(1, "alpha"); err != nil {
		t.Fatalf("DeactivateServer failed: %v", err)
	}

	if len(sched.Keys()) != 0 {
		t.Errorf("Scheduler still has %d pairs after deactivation", len(sched.Keys()))
	}
	found, _ := servers.FindByKey(1, "alpha")
	if found == nil || found.IsActive {
		t.Error("Server row should remain, flagged inactive")
	}
}

func TestCoordinator_TriggerBackfillUnknownServer(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newMemServers())
	coord.Start()

	if err := coord.TriggerBackfill(9, "missing"); err == nil {
		t.Error("Backfill for an unregistered server should fail")
	}
}

func TestCoordinator_SyncReconcilesScheduler(t *testing.T) {
	servers := newMemServers()
	coord, sched, _ := newTestCoordinator(t, servers)
	coord.Start()

	// A server appears in the registry out-of-band; sync picks it up.
	servers.Register(&models.GameServer{GuildID: 5, ServerID: "late", Mode: models.ModeOffline})
	if err := coord.sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !sched.Has(scheduler.Key{ServerKey: "5:late", Kind: KindKillfeed}) {
		t.Error("Sync should schedule the new server")
	}

	// It disappears again; sync tears it down.
	servers.Deactivate(5, "late")
	if err := coord.sync(); err != nil {
		t.Fatal(err)
	}
	if sched.Has(scheduler.Key{ServerKey: "5:late", Kind: KindKillfeed}) {
		t.Error("Sync should unschedule the deactivated server")
	}
}
