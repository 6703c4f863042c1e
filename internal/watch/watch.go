// Package watch nudges the scheduler when offline-mode data files
// change, so local development sees new lines within a debounce
// window instead of waiting out the full cycle interval.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

const debounce = 2 * time.Second

// Nudger is the scheduler-facing hook; the coordinator implements it.
type Nudger interface {
	NudgeOffline(serverKey string)
}

// Watcher observes the offline data directory and, after a quiet
// period, nudges every offline server's schedules. Offline servers
// all share the one directory, so the nudge is broadcast.
type Watcher struct {
	dataDir string
	nudger  Nudger
	keys    func() []string // offline server keys, re-read per nudge
	logger  *pterm.Logger

	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(dataDir string, nudger Nudger, offlineKeys func() []string, logger *pterm.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dataDir: dataDir,
		nudger:  nudger,
		keys:    offlineKeys,
		logger:  logger,
		fs:      fs,
	}, nil
}

// Start registers the data directory (and its csv/ and logs/
// subdirectories, created if absent) and begins watching.
func (w *Watcher) Start() error {
	for _, dir := range []string{w.dataDir, filepath.Join(w.dataDir, "csv"), filepath.Join(w.dataDir, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.fs.Add(dir); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("Offline data watcher started", w.logger.Args("dir", w.dataDir))
	return nil
}

func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fs.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Collapse bursts of writes into one nudge.
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			keys := w.keys()
			w.logger.Debug("Offline data changed, nudging schedules",
				w.logger.Args("servers", len(keys)))
			for _, key := range keys {
				w.nudger.NudgeOffline(key)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Offline data watcher error", w.logger.Args("error", err))
		}
	}
}
