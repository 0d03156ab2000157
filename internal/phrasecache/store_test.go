package phrasecache

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/salinlabs/salin-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	s, err := Open(context.Background(), config.PhraseCacheConfig{Mode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Store(context.Background(), "hello", "en", "tl", "kamusta"); err != nil {
		t.Fatalf("ephemeral store must accept writes: %v", err)
	}
	_, ok, err := s.Lookup(context.Background(), "hello", "en", "tl")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("ephemeral cache must always miss")
	}
}

func TestStoreAndLookup(t *testing.T) {
	cfg := config.PhraseCacheConfig{Mode: "persistent", Path: filepath.Join(t.TempDir(), "phrases.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open phrase cache: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Store(context.Background(), "hello", "en", "tl", "kamusta"); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := s.Lookup(context.Background(), "hello", "en", "tl")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || got != "kamusta" {
		t.Fatalf("expected cached kamusta, got %q ok=%v", got, ok)
	}

	// Same phrase, different pair, must miss.
	if _, ok, _ := s.Lookup(context.Background(), "hello", "en", "ko"); ok {
		t.Fatal("different language pair must miss")
	}

	// Re-storing replaces the previous entry.
	if err := s.Store(context.Background(), "hello", "en", "tl", "kumusta"); err != nil {
		t.Fatalf("re-store: %v", err)
	}
	got, _, _ = s.Lookup(context.Background(), "hello", "en", "tl")
	if got != "kumusta" {
		t.Fatalf("expected replacement, got %q", got)
	}
}

func TestPruneByAgeAndCap(t *testing.T) {
	cfg := config.PhraseCacheConfig{
		Mode:          "persistent",
		Path:          filepath.Join(t.TempDir(), "phrases.db"),
		RetentionDays: 1,
		MaxEntries:    1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open phrase cache: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Store(context.Background(), "old", "en", "tl", "luma"); err != nil {
		t.Fatalf("store: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Store(context.Background(), "new", "en", "tl", "bago"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, ok, _ := s.Lookup(context.Background(), "old", "en", "tl"); ok {
		t.Fatal("stale entry must be pruned")
	}
	if _, ok, _ := s.Lookup(context.Background(), "new", "en", "tl"); !ok {
		t.Fatal("fresh entry must survive pruning")
	}
	n, err := s.Size(context.Background())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one entry after prune, got %d", n)
	}
}
