package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/events"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/deadside"
	"deadfeed/internal/remote"
	"deadfeed/internal/sink"

	"github.com/pterm/pterm"
)

// LogIngestor tails the growing Deadside.log for premium servers and
// turns recognized lines into structured LogEvents. Non-premium
// servers are skipped quietly each tick; no error, no backoff.
type LogIngestor struct {
	clients     ClientFactory
	checkpoints repositories.CheckpointRepository
	matchers    *deadside.Registry
	entitle     sink.EntitlementSource
	sink        sink.LogEventSink
	health      *ConnHealth
	metrics     *metrics.Ingestion
	logger      *pterm.Logger

	mu        sync.Mutex
	lastQueue map[string]int // serverKey -> last emitted queue size
}

func NewLogIngestor(
	clients ClientFactory,
	checkpoints repositories.CheckpointRepository,
	matchers *deadside.Registry,
	entitle sink.EntitlementSource,
	logSink sink.LogEventSink,
	health *ConnHealth,
	m *metrics.Ingestion,
	logger *pterm.Logger,
) *LogIngestor {
	return &LogIngestor{
		clients:     clients,
		checkpoints: checkpoints,
		matchers:    matchers,
		entitle:     entitle,
		sink:        logSink,
		health:      health,
		metrics:     m,
		logger:      logger,
		lastQueue:   make(map[string]int),
	}
}

// RunCycle executes one server-log cycle. Entitlement is re-checked
// on every tick so an expired subscription stops ingestion at the
// next cycle without a restart.
func (li *LogIngestor) RunCycle(ctx context.Context, server *models.GameServer) error {
	key := server.Key()

	entitlement, err := li.entitle.PremiumStatus(ctx, key)
	if err != nil {
		li.metrics.CyclesTotal.WithLabelValues(models.FileKindLog, key, "error").Inc()
		return fmt.Errorf("premium lookup for %s: %w", key, err)
	}
	if entitlement != sink.EntitlementEnabled {
		li.logger.Trace("Server-log ingestion skipped, premium not enabled",
			li.logger.Args("server", key, "entitlement", entitlement.String()))
		li.metrics.CyclesTotal.WithLabelValues(models.FileKindLog, key, "skipped").Inc()
		return nil
	}

	err = li.cycle(ctx, server, key)
	switch {
	case err == nil:
		li.health.Success(key)
		li.metrics.CyclesTotal.WithLabelValues(models.FileKindLog, key, "ok").Inc()
	case remote.IsTransient(err):
		li.health.Failure(key)
		li.metrics.CyclesTotal.WithLabelValues(models.FileKindLog, key, "error").Inc()
		li.logger.Warn("Server-log cycle hit transient remote failure, will retry next tick",
			li.logger.Args("server", key, "error", err))
	default:
		li.metrics.CyclesTotal.WithLabelValues(models.FileKindLog, key, "error").Inc()
	}
	return err
}

func (li *LogIngestor) cycle(ctx context.Context, server *models.GameServer, key string) error {
	client, err := li.clients(server)
	if err != nil {
		return err
	}
	defer client.Close()

	path := LogPath(server)
	info, err := client.Stat(ctx, path)
	if errors.Is(err, remote.ErrNotFound) {
		li.logger.Trace("Server log not present, nothing to do", li.logger.Args("server", key))
		return nil
	}
	if err != nil {
		return err
	}

	cp, found, err := li.checkpoints.Get(key, models.FileKindLog)
	if err != nil {
		return err
	}

	offset := int64(0)
	if found {
		switch {
		case info.Size < cp.ByteOffset:
			// Server restart rewrites the log from scratch. Derived
			// per-server state (queue trend) resets with it.
			li.logger.Info("Server log rotated, reparsing from start",
				li.logger.Args("server", key, "size", info.Size, "offset", cp.ByteOffset))
			li.metrics.Rotations.WithLabelValues(models.FileKindLog, key).Inc()
			li.resetDerivedState(key)
		case info.Size == cp.ByteOffset:
			li.logger.Trace("Server log unchanged", li.logger.Args("server", key))
			return nil
		default:
			offset = cp.ByteOffset
		}
	}

	reader, err := client.Open(ctx, path, offset)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	defer reader.Close()

	emitted, commitOffset, readErr := li.drain(ctx, key, newLineScanner(reader, offset, false))

	if commitOffset != offset || !found {
		commit := &models.ParseCheckpoint{
			ServerKey:    key,
			FileKind:     models.FileKindLog,
			FileName:     info.Name,
			FileSize:     info.Size,
			FileModified: info.ModTime,
			ByteOffset:   commitOffset,
		}
		if err := li.checkpoints.Commit(commit); err != nil {
			return fmt.Errorf("commit checkpoint for %s: %w", key, err)
		}
	}

	if emitted > 0 {
		li.logger.Debug("Server-log cycle emitted events",
			li.logger.Args("server", key, "events", emitted, "offset", commitOffset))
	}
	if readErr != nil {
		return readErr
	}
	return nil
}

func (li *LogIngestor) drain(ctx context.Context, key string, scanner *lineScanner) (emitted int, commitOffset int64, err error) {
	commitOffset = scanner.Offset()

	for {
		line, ok, readErr := scanner.Next()
		if readErr != nil {
			return emitted, commitOffset, &remote.ConnError{Op: "read server log", Err: readErr}
		}
		if !ok {
			return emitted, commitOffset, nil
		}

		if strings.TrimSpace(line) == "" {
			commitOffset = scanner.Offset()
			continue
		}

		event, matched := li.matchers.Classify(key, line)
		if !matched {
			// Most log lines carry nothing of interest; consume them
			// without comment.
			commitOffset = scanner.Offset()
			continue
		}
		li.metrics.LinesParsed.WithLabelValues(models.FileKindLog, key).Inc()

		if !li.shouldEmit(key, event) {
			commitOffset = scanner.Offset()
			continue
		}

		if emitErr := li.sink.EmitLogEvent(ctx, event); emitErr != nil {
			return emitted, scanner.LineStart(), fmt.Errorf("emit log event: %w", emitErr)
		}

		emitted++
		li.metrics.EventsEmitted.WithLabelValues(models.FileKindLog, key).Inc()
		commitOffset = scanner.Offset()
	}
}

// shouldEmit suppresses queue-size repeats: an unchanged queue size
// within one file generation is noise, not signal.
func (li *LogIngestor) shouldEmit(key string, event events.LogEvent) bool {
	if event.Kind != events.LogQueueSize {
		return true
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	if last, seen := li.lastQueue[key]; seen && last == event.QueueSize {
		return false
	}
	li.lastQueue[key] = event.QueueSize
	return true
}

func (li *LogIngestor) resetDerivedState(key string) {
	li.mu.Lock()
	delete(li.lastQueue, key)
	li.mu.Unlock()
}
