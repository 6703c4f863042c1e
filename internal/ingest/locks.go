package ingest

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRunning signals that a killfeed cycle or historical
// backfill is already holding the server's ingestion lock. Callers
// surface it explicitly; a contended request is never queued or
// silently dropped.
var ErrAlreadyRunning = errors.New("ingest: operation already running for this server")

// Lock holder names, reported back on contention.
const (
	holderKillfeed = "killfeed"
	holderBackfill = "backfill"
)

// ServerLocks is the advisory per-server mutual exclusion between
// historical backfill and killfeed ingestion. Log ingestion reads a
// separate file and checkpoint namespace and does not take this lock.
type ServerLocks struct {
	mu   sync.Mutex
	held map[string]string // serverKey -> holder
}

func NewServerLocks() *ServerLocks {
	return &ServerLocks{held: make(map[string]string)}
}

// TryAcquire takes the server's lock or fails immediately with
// ErrAlreadyRunning wrapped with the current holder's name.
func (l *ServerLocks) TryAcquire(serverKey, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, held := l.held[serverKey]; held {
		return fmt.Errorf("%w (held by %s)", ErrAlreadyRunning, current)
	}
	l.held[serverKey] = holder
	return nil
}

func (l *ServerLocks) Release(serverKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, serverKey)
}

// Holder reports the current holder, if any.
func (l *ServerLocks) Holder(serverKey string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, held := l.held[serverKey]
	return holder, held
}
