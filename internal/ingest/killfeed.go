package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/killfeed"
	"deadfeed/internal/remote"
	"deadfeed/internal/sink"

	"github.com/pterm/pterm"
)

// KillfeedIngestor is the free-tier periodic cycle: it parses only
// the newest kill-log file for each server and emits one KillEvent
// per newly read line, in file order. Older files are intentionally
// never parsed outside a historical backfill.
type KillfeedIngestor struct {
	clients     ClientFactory
	checkpoints repositories.CheckpointRepository
	parser      *killfeed.Parser
	sink        sink.EventSink
	locks       *ServerLocks
	health      *ConnHealth
	metrics     *metrics.Ingestion
	logger      *pterm.Logger
}

func NewKillfeedIngestor(
	clients ClientFactory,
	checkpoints repositories.CheckpointRepository,
	parser *killfeed.Parser,
	eventSink sink.EventSink,
	locks *ServerLocks,
	health *ConnHealth,
	m *metrics.Ingestion,
	logger *pterm.Logger,
) *KillfeedIngestor {
	return &KillfeedIngestor{
		clients:     clients,
		checkpoints: checkpoints,
		parser:      parser,
		sink:        eventSink,
		locks:       locks,
		health:      health,
		metrics:     m,
		logger:      logger,
	}
}

// RunCycle executes one killfeed cycle for one server. It is safe to
// call concurrently for different servers; for the same server it is
// mutually exclusive with a historical backfill.
func (ki *KillfeedIngestor) RunCycle(ctx context.Context, server *models.GameServer) error {
	key := server.Key()

	if err := ki.locks.TryAcquire(key, holderKillfeed); err != nil {
		ki.metrics.CyclesTotal.WithLabelValues(models.FileKindCSV, key, "locked").Inc()
		return err
	}
	defer ki.locks.Release(key)

	err := ki.cycle(ctx, server, key)
	switch {
	case err == nil:
		ki.health.Success(key)
		ki.metrics.CyclesTotal.WithLabelValues(models.FileKindCSV, key, "ok").Inc()
	case remote.IsTransient(err):
		ki.health.Failure(key)
		ki.metrics.CyclesTotal.WithLabelValues(models.FileKindCSV, key, "error").Inc()
		ki.logger.Warn("Killfeed cycle hit transient remote failure, will retry next tick",
			ki.logger.Args("server", key, "error", err))
	default:
		ki.metrics.CyclesTotal.WithLabelValues(models.FileKindCSV, key, "error").Inc()
	}
	return err
}

func (ki *KillfeedIngestor) cycle(ctx context.Context, server *models.GameServer, key string) error {
	client, err := ki.clients(server)
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := client.List(ctx, CSVPattern(server))
	if errors.Is(err, remote.ErrNotFound) {
		ki.logger.Trace("No kill-log files present, nothing to do", ki.logger.Args("server", key))
		return nil
	}
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	// Explicit selection policy: only the most recently modified file
	// is parsed in a live cycle.
	newest := remote.NewestFile(files)

	cp, found, err := ki.checkpoints.Get(key, models.FileKindCSV)
	if err != nil {
		return err
	}

	offset := int64(0)
	if found {
		switch {
		case !cp.SameIdentity(newest.Name):
			ki.logger.Info("Kill-log rotation detected: new file",
				ki.logger.Args("server", key, "old", cp.FileName, "new", newest.Name))
			ki.metrics.Rotations.WithLabelValues(models.FileKindCSV, key).Inc()
		case newest.Size < cp.ByteOffset:
			ki.logger.Info("Kill-log truncation detected, reparsing from start",
				ki.logger.Args("server", key, "size", newest.Size, "offset", cp.ByteOffset))
			ki.metrics.Rotations.WithLabelValues(models.FileKindCSV, key).Inc()
		case newest.Size == cp.ByteOffset:
			ki.logger.Trace("Kill-log unchanged", ki.logger.Args("server", key, "file", newest.Name))
			return nil
		default:
			offset = cp.ByteOffset
		}
	}

	reader, err := client.Open(ctx, newest.Path, offset)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil // removed between list and open
		}
		return err
	}
	defer reader.Close()

	emitted, malformed, commitOffset, readErr := ki.drain(ctx, key, newLineScanner(reader, offset, false))

	if malformed > 0 {
		ki.logger.Warn("Kill-log lines skipped as malformed",
			ki.logger.Args("server", key, "file", newest.Name, "count", malformed))
	}

	if commitOffset != offset || !found || !cp.SameIdentity(newest.Name) {
		commit := &models.ParseCheckpoint{
			ServerKey:    key,
			FileKind:     models.FileKindCSV,
			FileName:     newest.Name,
			FileSize:     newest.Size,
			FileModified: newest.ModTime,
			ByteOffset:   commitOffset,
		}
		if err := ki.checkpoints.Commit(commit); err != nil {
			return fmt.Errorf("commit checkpoint for %s: %w", key, err)
		}
	}

	if emitted > 0 {
		ki.logger.Debug("Killfeed cycle emitted events",
			ki.logger.Args("server", key, "file", newest.Name, "events", emitted, "offset", commitOffset))
	}
	if readErr != nil {
		return readErr
	}
	return nil
}

// drain reads, parses and emits until end of input or failure. The
// returned offset covers exactly the lines whose events were fully
// emitted (plus consumed malformed lines, which are counted and never
// re-delivered); a failed emit rolls back to the start of its line.
func (ki *KillfeedIngestor) drain(ctx context.Context, key string, scanner *lineScanner) (emitted, malformed int, commitOffset int64, err error) {
	commitOffset = scanner.Offset()

	for {
		line, ok, readErr := scanner.Next()
		if readErr != nil {
			return emitted, malformed, commitOffset, &remote.ConnError{Op: "read kill-log", Err: readErr}
		}
		if !ok {
			return emitted, malformed, commitOffset, nil
		}

		if strings.TrimSpace(line) == "" {
			commitOffset = scanner.Offset()
			continue
		}

		event, parseErr := ki.parser.Parse(key, line)
		if parseErr != nil {
			malformed++
			ki.metrics.LinesMalformed.WithLabelValues(models.FileKindCSV, key).Inc()
			ki.logger.Trace("Skipping malformed kill-log line",
				ki.logger.Args("server", key, "error", parseErr))
			commitOffset = scanner.Offset()
			continue
		}

		if emitErr := ki.sink.EmitKillEvent(ctx, event); emitErr != nil {
			// Do not advance past an unemitted event; the line is
			// re-delivered next cycle.
			return emitted, malformed, scanner.LineStart(), fmt.Errorf("emit kill event: %w", emitErr)
		}

		emitted++
		ki.metrics.LinesParsed.WithLabelValues(models.FileKindCSV, key).Inc()
		ki.metrics.EventsEmitted.WithLabelValues(models.FileKindCSV, key).Inc()
		commitOffset = scanner.Offset()
	}
}
