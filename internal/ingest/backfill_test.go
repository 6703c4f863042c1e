package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"deadfeed/internal/database/models"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/killfeed"
)

func newTestBackfill(client *fakeClient, checkpoints *memCheckpoints, capture *captureSink, locks *ServerLocks) *BackfillEngine {
	logger := testLogger()
	return NewBackfillEngine(
		factoryFor(client),
		checkpoints,
		killfeed.NewParser(logger),
		capture,
		capture,
		capture,
		locks,
		metrics.New(),
		logger,
		time.Hour, // suppress mid-run progress noise in tests
	)
}

func TestBackfillEngine_ParsesAllFilesOldestFirst(t *testing.T) {
	now := time.Now()
	client := newFakeClient()
	// Modification times contradict the name stamps; the stamps win.
	client.put("csv/2024.05.11-00.00.00.csv", textLines(
		"2024-05-11 09:00:00,A,OldVictim,AK-SU,100",
	), now)
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,B,NewVictim,MP5,50",
	), now.Add(-time.Hour))

	capture := newCaptureSink()
	engine := newTestBackfill(client, newMemCheckpoints(), capture, NewServerLocks())

	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	victims := capture.victims()
	if len(victims) != 2 {
		t.Fatalf("Emitted %d events, want 2", len(victims))
	}
	if victims[0] != "OldVictim" || victims[1] != "NewVictim" {
		t.Errorf("Order = %v, want oldest file first", victims)
	}
}

func TestBackfillEngine_ClearsBeforeFirstEmit(t *testing.T) {
	client := newFakeClient()
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,A,B,AK-SU,100",
	), time.Now())

	capture := newCaptureSink()
	engine := newTestBackfill(client, newMemCheckpoints(), capture, NewServerLocks())

	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatal(err)
	}

	if len(capture.cleared) != 1 || capture.cleared[0] != "1:alpha" {
		t.Fatalf("ClearServerData calls = %v, want exactly one for 1:alpha", capture.cleared)
	}
	if capture.firstEmit.Before(capture.clearedAt) {
		t.Error("First event must not be emitted before the data wipe")
	}
}

func TestBackfillEngine_ClearsCheckpoint(t *testing.T) {
	client := newFakeClient()
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,A,B,AK-SU,100",
	), time.Now())

	checkpoints := newMemCheckpoints()
	checkpoints.Commit(&models.ParseCheckpoint{
		ServerKey:  "1:alpha",
		FileKind:   models.FileKindCSV,
		FileName:   "stale.csv",
		ByteOffset: 9999,
	})

	engine := newTestBackfill(client, checkpoints, newCaptureSink(), NewServerLocks())
	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatal(err)
	}

	if _, found, _ := checkpoints.Get("1:alpha", models.FileKindCSV); found {
		t.Error("Stale checkpoint should be cleared so live ingestion restarts cleanly")
	}
}

func TestBackfillEngine_RejectsConcurrentRun(t *testing.T) {
	client := newFakeClient()
	locks := NewServerLocks()
	engine := newTestBackfill(client, newMemCheckpoints(), newCaptureSink(), locks)

	locks.TryAcquire("1:alpha", holderKillfeed)

	if err := engine.Run(context.Background(), testServer()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Run under killfeed lock = %v, want ErrAlreadyRunning", err)
	}
	if err := engine.Start(context.Background(), testServer()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start under killfeed lock = %v, want ErrAlreadyRunning", err)
	}
}

func TestBackfillEngine_ReportsFinalProgress(t *testing.T) {
	client := newFakeClient()
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,A,B,AK-SU,100",
		"2024-05-12 09:01:00,C,D,MP5,50",
	), time.Now())

	capture := newCaptureSink()
	engine := newTestBackfill(client, newMemCheckpoints(), capture, NewServerLocks())

	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatal(err)
	}

	if len(capture.progress) == 0 {
		t.Fatal("Expected at least one progress report")
	}
	final := capture.progress[len(capture.progress)-1]
	if !final.Finished {
		t.Error("Last report should be marked finished")
	}
	if final.EventsEmitted != 2 {
		t.Errorf("Final EventsEmitted = %d, want 2", final.EventsEmitted)
	}
	if final.Percent() != 100 {
		t.Errorf("Final Percent = %v, want 100", final.Percent())
	}

	latest, ok := engine.Latest("1:alpha")
	if !ok || !latest.Finished {
		t.Error("Latest should return the final report")
	}
}

func TestBackfillEngine_CountsMalformedLines(t *testing.T) {
	client := newFakeClient()
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,A,B,AK-SU,100",
		"not a record",
	), time.Now())

	capture := newCaptureSink()
	engine := newTestBackfill(client, newMemCheckpoints(), capture, NewServerLocks())

	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatal(err)
	}

	final := capture.progress[len(capture.progress)-1]
	if final.LinesMalformed != 1 {
		t.Errorf("LinesMalformed = %d, want 1", final.LinesMalformed)
	}
	if final.EventsEmitted != 1 {
		t.Errorf("EventsEmitted = %d, want 1", final.EventsEmitted)
	}
}

func TestBackfillEngine_NoFilesFinishesCleanly(t *testing.T) {
	capture := newCaptureSink()
	engine := newTestBackfill(newFakeClient(), newMemCheckpoints(), capture, NewServerLocks())

	if err := engine.Run(context.Background(), testServer()); err != nil {
		t.Fatalf("Empty backfill should succeed, got %v", err)
	}

	final := capture.progress[len(capture.progress)-1]
	if !final.Finished || final.FilesTotal != 0 {
		t.Errorf("Final report = %+v, want finished with zero files", final)
	}
}

func TestBackfillEngine_StartReleasesLockWhenDone(t *testing.T) {
	client := newFakeClient()
	client.put("csv/2024.05.12-00.00.00.csv", textLines(
		"2024-05-12 09:00:00,A,B,AK-SU,100",
	), time.Now())

	locks := NewServerLocks()
	engine := newTestBackfill(client, newMemCheckpoints(), newCaptureSink(), locks)

	if err := engine.Start(context.Background(), testServer()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, held := locks.Holder("1:alpha"); !held {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Lock still held after backfill should have finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
