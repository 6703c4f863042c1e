package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"
)

// FileInfo describes one remote (or local fallback) file.
type FileInfo struct {
	Path    string // full path usable with Open/Stat
	Name    string // base name
	Size    int64
	ModTime time.Time
}

// ErrNotFound means the expected path is absent. Callers treat it as
// "nothing to do this cycle", not as a failure.
var ErrNotFound = errors.New("remote: file not found")

// ConnError wraps a transient connectivity failure. The cycle that
// hits it gives up and lets the next scheduled tick retry; only a run
// of consecutive ConnErrors surfaces a degraded-connectivity signal.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient connectivity failure.
func IsTransient(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// FileClient abstracts listing, opening and stat-ing files on a game
// server host. Implementations are single-cycle: obtain one, use it,
// Close it. All operations honor ctx deadlines.
type FileClient interface {
	// List resolves a glob pattern and returns matching files sorted
	// by modification time ascending. A pattern that matches nothing
	// returns ErrNotFound.
	List(ctx context.Context, pattern string) ([]FileInfo, error)

	// Open returns a reader positioned at offset into the file.
	Open(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Stat returns the current size and modification time.
	Stat(ctx context.Context, path string) (FileInfo, error)

	Close() error
}

// NewestFile is the explicit file-selection policy for killfeed
// ingestion: maximum by modification time, ties broken by name. The
// listing must be non-empty.
func NewestFile(files []FileInfo) FileInfo {
	newest := files[0]
	for _, f := range files[1:] {
		if f.ModTime.After(newest.ModTime) ||
			(f.ModTime.Equal(newest.ModTime) && f.Name > newest.Name) {
			newest = f
		}
	}
	return newest
}

// Kill-log files carry their creation stamp in the name, e.g.
// 2024.05.12-00.00.00.csv. Backfill orders by that stamp when present.
var fileStampPattern = regexp.MustCompile(`(\d{4})\.(\d{2})\.(\d{2})-(\d{2})\.(\d{2})\.(\d{2})`)

// EmbeddedStamp extracts the timestamp embedded in a file name.
func EmbeddedStamp(name string) (time.Time, bool) {
	m := fileStampPattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	stamp, err := time.Parse("2006.01.02-15.04.05", m[0])
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}

// SortChronological orders files for a historical backfill: by the
// timestamp embedded in the name when present, else by modification
// time, ties broken by name.
func SortChronological(files []FileInfo) {
	sort.SliceStable(files, func(i, j int) bool {
		ti, iok := EmbeddedStamp(files[i].Name)
		tj, jok := EmbeddedStamp(files[j].Name)
		if !iok {
			ti = files[i].ModTime
		}
		if !jok {
			tj = files[j].ModTime
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return files[i].Name < files[j].Name
	})
}

func sortByModTime(files []FileInfo) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
}
