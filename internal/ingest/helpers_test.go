package ingest

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"deadfeed/internal/database/models"
	"deadfeed/internal/events"
	"deadfeed/internal/remote"
	"deadfeed/internal/sink"

	"github.com/pterm/pterm"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelFatal)
}

func testServer() *models.GameServer {
	return &models.GameServer{
		GuildID:  1,
		ServerID: "alpha",
		Mode:     models.ModeOffline,
		IsActive: true,
	}
}

// fakeFile is one in-memory remote file.
type fakeFile struct {
	content string
	modTime time.Time
}

// fakeClient implements remote.FileClient over a map of paths.
type fakeClient struct {
	mu    sync.Mutex
	files map[string]fakeFile

	listErr error
	openErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: make(map[string]fakeFile)}
}

func (c *fakeClient) put(p, content string, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[p] = fakeFile{content: content, modTime: modTime}
}

func (c *fakeClient) List(ctx context.Context, pattern string) ([]remote.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listErr != nil {
		return nil, c.listErr
	}

	var files []remote.FileInfo
	for p, f := range c.files {
		if ok, _ := path.Match(pattern, p); !ok {
			continue
		}
		files = append(files, remote.FileInfo{
			Path:    p,
			Name:    path.Base(p),
			Size:    int64(len(f.content)),
			ModTime: f.modTime,
		})
	}
	if len(files) == 0 {
		return nil, remote.ErrNotFound
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (c *fakeClient) Open(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErr != nil {
		return nil, c.openErr
	}
	f, ok := c.files[p]
	if !ok {
		return nil, remote.ErrNotFound
	}
	if offset > int64(len(f.content)) {
		offset = int64(len(f.content))
	}
	return io.NopCloser(bytes.NewReader([]byte(f.content[offset:]))), nil
}

func (c *fakeClient) Stat(ctx context.Context, p string) (remote.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[p]
	if !ok {
		return remote.FileInfo{}, remote.ErrNotFound
	}
	return remote.FileInfo{
		Path:    p,
		Name:    path.Base(p),
		Size:    int64(len(f.content)),
		ModTime: f.modTime,
	}, nil
}

func (c *fakeClient) Close() error { return nil }

func factoryFor(c *fakeClient) ClientFactory {
	return func(*models.GameServer) (remote.FileClient, error) {
		return c, nil
	}
}

// memCheckpoints is an in-memory CheckpointRepository.
type memCheckpoints struct {
	mu    sync.Mutex
	store map[string]models.ParseCheckpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{store: make(map[string]models.ParseCheckpoint)}
}

func (m *memCheckpoints) key(serverKey, fileKind string) string {
	return serverKey + "|" + fileKind
}

func (m *memCheckpoints) Get(serverKey, fileKind string) (*models.ParseCheckpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.store[m.key(serverKey, fileKind)]
	if !ok {
		return nil, false, nil
	}
	out := cp
	return &out, true, nil
}

func (m *memCheckpoints) Commit(cp *models.ParseCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[m.key(cp.ServerKey, cp.FileKind)] = *cp
	return nil
}

func (m *memCheckpoints) Clear(serverKey, fileKind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, m.key(serverKey, fileKind))
	return nil
}

// captureSink records everything emitted and can be told to fail.
type captureSink struct {
	mu        sync.Mutex
	kills     []events.KillEvent
	logEvents []events.LogEvent
	progress  []events.BackfillProgress
	cleared   []string
	failEmits bool
	firstEmit time.Time
	clearedAt time.Time
}

func newCaptureSink() *captureSink {
	return &captureSink{}
}

func (s *captureSink) EmitKillEvent(ctx context.Context, event events.KillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEmits {
		return errTestEmit
	}
	if s.firstEmit.IsZero() {
		s.firstEmit = time.Now()
	}
	s.kills = append(s.kills, event)
	return nil
}

func (s *captureSink) EmitLogEvent(ctx context.Context, event events.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEmits {
		return errTestEmit
	}
	s.logEvents = append(s.logEvents, event)
	return nil
}

func (s *captureSink) ReportBackfillProgress(ctx context.Context, progress events.BackfillProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progress)
	return nil
}

func (s *captureSink) ClearServerData(ctx context.Context, serverKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, serverKey)
	s.clearedAt = time.Now()
	return nil
}

func (s *captureSink) killCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kills)
}

func (s *captureSink) victims() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.kills))
	for i, k := range s.kills {
		out[i] = k.Victim
	}
	return out
}

var errTestEmit = &emitError{}

type emitError struct{}

func (*emitError) Error() string { return "sink unavailable" }

// fixedEntitlements returns one answer for every server.
type fixedEntitlements struct {
	entitlement sink.Entitlement
}

func (f fixedEntitlements) PremiumStatus(ctx context.Context, serverKey string) (sink.Entitlement, error) {
	return f.entitlement, nil
}

func textLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
