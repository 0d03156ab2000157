package capability

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newAnnouncer(cfg config.CapabilityConfig) *Announcer {
	return NewAnnouncer(cfg, nil, []string{"en", "tl", "ko"}, newLogger())
}

func TestProbeSucceedsAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	a := newAnnouncer(config.CapabilityConfig{
		ProbeAddresses: []string{ln.Addr().String()},
		ProbeTimeoutMS: 1000,
	})
	if !a.probe(context.Background()) {
		t.Fatal("probe against a live listener must report online")
	}
}

func TestProbeFailsWithNoListeners(t *testing.T) {
	a := newAnnouncer(config.CapabilityConfig{
		ProbeAddresses: []string{"127.0.0.1:1"},
		ProbeTimeoutMS: 200,
	})
	if a.probe(context.Background()) {
		t.Fatal("probe against a closed port must report offline")
	}
}

func TestPlatformOverrideWins(t *testing.T) {
	a := newAnnouncer(config.CapabilityConfig{PlatformOverride: protocol.PlatformKiosk})
	if a.Platform() != protocol.PlatformKiosk {
		t.Fatalf("expected kiosk, got %s", a.Platform())
	}
}

func TestPlatformFromModelFile(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model")
	if err := os.WriteFile(model, []byte("Raspberry Pi 4 Model B Rev 1.4\x00"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}

	a := newAnnouncer(config.CapabilityConfig{ModelFile: model})
	if a.Platform() != protocol.PlatformKiosk {
		t.Fatalf("raspberry pi model file must detect kiosk, got %s", a.Platform())
	}

	other := newAnnouncer(config.CapabilityConfig{ModelFile: filepath.Join(dir, "missing")})
	if other.Platform() != protocol.PlatformGeneric {
		t.Fatalf("missing model file must detect generic, got %s", other.Platform())
	}
}
