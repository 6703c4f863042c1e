package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/events"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/killfeed"
	"deadfeed/internal/remote"
	"deadfeed/internal/sink"

	"github.com/pterm/pterm"
)

// BackfillEngine rebuilds a server's historical state from every
// kill-log file, oldest first. A backfill wipes the server's derived
// data and checkpoints before the first event goes out, so partial
// history never mixes with stale aggregates.
type BackfillEngine struct {
	clients          ClientFactory
	checkpoints      repositories.CheckpointRepository
	parser           *killfeed.Parser
	sink             sink.EventSink
	stats            sink.StatsStore
	progress         sink.ProgressSink
	locks            *ServerLocks
	metrics          *metrics.Ingestion
	logger           *pterm.Logger
	progressInterval time.Duration

	mu     sync.Mutex
	latest map[string]events.BackfillProgress // serverKey -> most recent report
}

func NewBackfillEngine(
	clients ClientFactory,
	checkpoints repositories.CheckpointRepository,
	parser *killfeed.Parser,
	backfillSink sink.EventSink,
	stats sink.StatsStore,
	progress sink.ProgressSink,
	locks *ServerLocks,
	m *metrics.Ingestion,
	logger *pterm.Logger,
	progressInterval time.Duration,
) *BackfillEngine {
	if progressInterval <= 0 {
		progressInterval = 30 * time.Second
	}
	return &BackfillEngine{
		clients:          clients,
		checkpoints:      checkpoints,
		parser:           parser,
		sink:             backfillSink,
		stats:            stats,
		progress:         progress,
		locks:            locks,
		metrics:          m,
		logger:           logger,
		progressInterval: progressInterval,
		latest:           make(map[string]events.BackfillProgress),
	}
}

// Start launches a backfill in the background. The lock is taken
// before returning, so a concurrent request observes
// ErrAlreadyRunning immediately rather than racing the goroutine.
func (be *BackfillEngine) Start(ctx context.Context, server *models.GameServer) error {
	key := server.Key()
	if err := be.locks.TryAcquire(key, holderBackfill); err != nil {
		return err
	}

	go func() {
		defer be.locks.Release(key)
		if err := be.run(ctx, server, key); err != nil && !errors.Is(err, context.Canceled) {
			be.logger.Error("Historical backfill failed",
				be.logger.Args("server", key, "error", err))
		}
	}()
	return nil
}

// Run executes a backfill synchronously.
func (be *BackfillEngine) Run(ctx context.Context, server *models.GameServer) error {
	key := server.Key()
	if err := be.locks.TryAcquire(key, holderBackfill); err != nil {
		return err
	}
	defer be.locks.Release(key)

	return be.run(ctx, server, key)
}

// Latest returns the most recent progress report for a server.
func (be *BackfillEngine) Latest(serverKey string) (events.BackfillProgress, bool) {
	be.mu.Lock()
	defer be.mu.Unlock()
	progress, ok := be.latest[serverKey]
	return progress, ok
}

func (be *BackfillEngine) run(ctx context.Context, server *models.GameServer, key string) error {
	be.metrics.BackfillRunning.Inc()
	defer be.metrics.BackfillRunning.Dec()

	started := time.Now()
	be.logger.Info("Historical backfill starting", be.logger.Args("server", key))

	// Old aggregates and checkpoints go first. If the wipe fails the
	// backfill aborts with nothing emitted; existing data stays
	// untouched only when we never got this far.
	if err := be.stats.ClearServerData(ctx, key); err != nil {
		return fmt.Errorf("clear server data for %s: %w", key, err)
	}
	if err := be.checkpoints.Clear(key, models.FileKindCSV); err != nil {
		return fmt.Errorf("clear checkpoint for %s: %w", key, err)
	}

	client, err := be.clients(server)
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := client.List(ctx, CSVPattern(server))
	if errors.Is(err, remote.ErrNotFound) {
		be.report(ctx, be.finished(key, started, 0, 0, 0))
		be.logger.Info("Historical backfill found no files", be.logger.Args("server", key))
		return nil
	}
	if err != nil {
		return err
	}
	remote.SortChronological(files)

	// First pass: count lines so progress is a real fraction, not a
	// file count. Backfill reads everything anyway; the extra pass is
	// sequential reads of the same files.
	total, err := be.countLines(ctx, client, files)
	if err != nil {
		return err
	}

	progress := events.BackfillProgress{
		ServerKey:  key,
		FilesTotal: len(files),
		LinesTotal: total,
		StartedAt:  started,
	}
	be.report(ctx, progress)

	lastReport := time.Now()
	for _, file := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		parsed, malformed, err := be.parseFile(ctx, client, key, file, &progress, &lastReport)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", file.Name, err)
		}

		progress.FilesDone++
		progress.EventsEmitted += parsed
		progress.LinesMalformed += malformed
	}

	final := be.finished(key, started, len(files), total, progress.EventsEmitted)
	final.LinesMalformed = progress.LinesMalformed
	be.report(ctx, final)

	be.logger.Info("Historical backfill complete",
		be.logger.Args("server", key,
			"files", len(files),
			"events", progress.EventsEmitted,
			"malformed", progress.LinesMalformed,
			"elapsed", time.Since(started).Round(time.Second).String()))
	return nil
}

func (be *BackfillEngine) parseFile(
	ctx context.Context,
	client remote.FileClient,
	key string,
	file remote.FileInfo,
	progress *events.BackfillProgress,
	lastReport *time.Time,
) (parsed, malformed int64, err error) {
	reader, err := client.Open(ctx, file.Path, 0)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	scanner := newLineScanner(reader, 0, true)
	for {
		line, ok, readErr := scanner.Next()
		if readErr != nil {
			return parsed, malformed, &remote.ConnError{Op: "read kill-log", Err: readErr}
		}
		if !ok {
			return parsed, malformed, nil
		}
		progress.LinesDone++

		if strings.TrimSpace(line) == "" {
			continue
		}

		event, parseErr := be.parser.Parse(key, line)
		if parseErr != nil {
			malformed++
			be.metrics.LinesMalformed.WithLabelValues("backfill", key).Inc()
			continue
		}

		if emitErr := be.sink.EmitKillEvent(ctx, event); emitErr != nil {
			return parsed, malformed, fmt.Errorf("emit kill event: %w", emitErr)
		}
		parsed++
		be.metrics.EventsEmitted.WithLabelValues("backfill", key).Inc()

		if time.Since(*lastReport) >= be.progressInterval {
			snapshot := *progress
			snapshot.EventsEmitted += parsed
			snapshot.LinesMalformed += malformed
			be.report(ctx, snapshot)
			*lastReport = time.Now()
		}
	}
}

// countLines reads every file once to size the job.
func (be *BackfillEngine) countLines(ctx context.Context, client remote.FileClient, files []remote.FileInfo) (int64, error) {
	var total int64
	for _, file := range files {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		reader, err := client.Open(ctx, file.Path, 0)
		if err != nil {
			return 0, err
		}

		scanner := newLineScanner(reader, 0, true)
		for {
			_, ok, readErr := scanner.Next()
			if readErr != nil {
				reader.Close()
				return 0, &remote.ConnError{Op: "count kill-log", Err: readErr}
			}
			if !ok {
				break
			}
			total++
		}
		reader.Close()
	}
	return total, nil
}

func (be *BackfillEngine) finished(key string, started time.Time, files int, lines, emitted int64) events.BackfillProgress {
	return events.BackfillProgress{
		ServerKey:     key,
		FilesTotal:    files,
		FilesDone:     files,
		LinesTotal:    lines,
		LinesDone:     lines,
		EventsEmitted: emitted,
		StartedAt:     started,
		Finished:      true,
	}
}

// report delivers a progress snapshot and retains it for status
// queries. A failed delivery is logged, never fatal: progress is
// best-effort, the backfill itself is not.
func (be *BackfillEngine) report(ctx context.Context, progress events.BackfillProgress) {
	be.mu.Lock()
	be.latest[progress.ServerKey] = progress
	be.mu.Unlock()

	if err := be.progress.ReportBackfillProgress(ctx, progress); err != nil {
		be.logger.Warn("Backfill progress report failed",
			be.logger.Args("server", progress.ServerKey, "error", err))
	}
}
