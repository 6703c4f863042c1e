package sink

import (
	"context"

	"deadfeed/internal/events"

	"github.com/pterm/pterm"
)

// LogSink writes every event to the structured log. It is the default
// wiring when no downstream consumer is attached, and doubles as a
// reference implementation of the sink interfaces.
type LogSink struct {
	logger *pterm.Logger
}

func NewLogSink(logger *pterm.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) EmitKillEvent(ctx context.Context, event events.KillEvent) error {
	s.logger.Info("Kill event",
		s.logger.Args(
			"server", event.ServerKey,
			"killer", event.Killer,
			"victim", event.Victim,
			"weapon", event.Weapon,
			"distance_m", event.DistanceMeters,
			"suicide", event.IsSuicide,
		))
	return nil
}

func (s *LogSink) EmitLogEvent(ctx context.Context, event events.LogEvent) error {
	s.logger.Info("Server log event",
		s.logger.Args(
			"server", event.ServerKey,
			"kind", string(event.Kind),
			"player", event.Player,
		))
	return nil
}

func (s *LogSink) ReportBackfillProgress(ctx context.Context, progress events.BackfillProgress) error {
	s.logger.Info("Backfill progress",
		s.logger.Args(
			"server", progress.ServerKey,
			"files", pterm.Sprintf("%d/%d", progress.FilesDone, progress.FilesTotal),
			"lines", pterm.Sprintf("%d/%d", progress.LinesDone, progress.LinesTotal),
			"percent", pterm.Sprintf("%.1f", progress.Percent()),
			"finished", progress.Finished,
		))
	return nil
}

func (s *LogSink) ClearServerData(ctx context.Context, serverKey string) error {
	s.logger.Info("Clearing downstream aggregate data", s.logger.Args("server", serverKey))
	return nil
}
