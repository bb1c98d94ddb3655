package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	js, err := Open(ctx, config.JournalConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })
	if err := js.Record(ctx, Entry{ID: "x", Route: "/"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := js.Recent(ctx, 10)
	if err != nil || entries != nil {
		t.Fatalf("ephemeral journal should be empty, got %v, %v", entries, err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	first := Entry{ID: "a", Route: "/", Status: 200, TextLength: 12, Params: `{"speaker_id":0}`, Bytes: 4410, Duration: 250 * time.Millisecond}
	second := Entry{ID: "b", Route: "/stream", Status: 500, TextLength: 3, Error: "synthesis exec: exit status 1"}
	for _, e := range []Entry{first, second} {
		if err := js.Record(context.Background(), e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := js.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "b" || entries[0].Error == "" || entries[0].Status != 500 {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
	if got := entries[1]; got.Params != first.Params || got.Duration != first.Duration || got.Bytes != first.Bytes {
		t.Fatalf("unexpected oldest entry %+v", got)
	}
}

func TestPruneByDaysAndEntries(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxEntries: 1}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	js.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := js.Record(context.Background(), Entry{ID: "old", Route: "/"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	js.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"new-1", "new-2"} {
		if err := js.Record(context.Background(), Entry{ID: id, Route: "/"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := js.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := js.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "new-2" {
		t.Fatalf("expected only new-2 to survive, got %+v", entries)
	}
}

func TestRunPrunerStopsWithContext(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent", MaxEntries: 1}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		js.RunPruner(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
