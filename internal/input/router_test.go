package input

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/salinlabs/salin-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSession struct {
	calls []string
}

func (r *recordingSession) ToggleListening(context.Context) error {
	r.calls = append(r.calls, "toggle_listening")
	return nil
}
func (r *recordingSession) StopListening()           { r.calls = append(r.calls, "stop_listening") }
func (r *recordingSession) ProcessTranscript() error { r.calls = append(r.calls, "process"); return nil }
func (r *recordingSession) CycleInputLanguage()      { r.calls = append(r.calls, "cycle_input") }
func (r *recordingSession) CycleOutputLanguage()     { r.calls = append(r.calls, "cycle_output") }
func (r *recordingSession) ToggleMode()              { r.calls = append(r.calls, "toggle_mode") }
func (r *recordingSession) Speak()                   { r.calls = append(r.calls, "speak") }
func (r *recordingSession) Greet()                   { r.calls = append(r.calls, "greet") }

func newRouter(sess Orchestrator) *Router {
	return NewRouter(config.InputConfig{MotionCooldownMS: 10000}, nil, sess, newLogger())
}

func TestButtonAndKeyMappingsConverge(t *testing.T) {
	pairs := []struct {
		button string
		key    string
	}{
		{"microphone", "space"},
		{"input_language", "i"},
		{"output_language", "o"},
		{"mode", "m"},
		{"process", "p"},
	}
	for _, pair := range pairs {
		viaButton := &recordingSession{}
		if err := newRouter(viaButton).DispatchButton(context.Background(), pair.button); err != nil {
			t.Fatalf("button %s dispatch failed: %v", pair.button, err)
		}
		viaKey := &recordingSession{}
		if err := newRouter(viaKey).DispatchKey(context.Background(), pair.key); err != nil {
			t.Fatalf("key %s dispatch failed: %v", pair.key, err)
		}
		if len(viaButton.calls) == 0 || len(viaKey.calls) == 0 {
			t.Fatalf("no session calls for %s/%s", pair.button, pair.key)
		}
		if viaButton.calls[0] != viaKey.calls[0] {
			t.Errorf("button %s and key %s diverge: %v vs %v",
				pair.button, pair.key, viaButton.calls, viaKey.calls)
		}
	}
}

func TestSpeakShortcutHasNoButton(t *testing.T) {
	sess := &recordingSession{}
	if err := newRouter(sess).DispatchKey(context.Background(), "s"); err != nil {
		t.Fatalf("speak key dispatch failed: %v", err)
	}
	if len(sess.calls) != 1 || sess.calls[0] != "speak" {
		t.Fatalf("unexpected calls %v", sess.calls)
	}
}

func TestProcessCommandStopsThenProcesses(t *testing.T) {
	sess := &recordingSession{}
	if err := newRouter(sess).Dispatch(context.Background(), CmdProcess); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	want := []string{"stop_listening", "process"}
	if len(sess.calls) != len(want) {
		t.Fatalf("unexpected calls %v", sess.calls)
	}
	for i, c := range want {
		if sess.calls[i] != c {
			t.Fatalf("call %d = %s, want %s", i, sess.calls[i], c)
		}
	}
}

func TestUnknownInputsRejected(t *testing.T) {
	r := newRouter(&recordingSession{})
	if err := r.DispatchButton(context.Background(), "volume"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if err := r.DispatchKey(context.Background(), "q"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if err := r.Dispatch(context.Background(), Command("dance")); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestMotionGreetingCooldown(t *testing.T) {
	sess := &recordingSession{}
	r := NewRouter(config.InputConfig{MotionCooldownMS: 60000}, nil, sess, newLogger())

	r.HandleMotion()
	r.HandleMotion()
	if len(sess.calls) != 1 {
		t.Fatalf("expected one greeting inside the cooldown, got %d", len(sess.calls))
	}

	r.mu.Lock()
	r.lastMotion = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()
	r.HandleMotion()
	if len(sess.calls) != 2 {
		t.Fatalf("expected a second greeting after the cooldown, got %d", len(sess.calls))
	}
}
