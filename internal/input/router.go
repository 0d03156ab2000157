// Package input normalizes on-screen controls, keyboard shortcuts, and
// hardware button/motion events into one command vocabulary. The router
// holds no session state beyond its mapping tables, so every input
// modality reaches the identical transition path.
package input

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/salinlabs/salin-core/internal/bus"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
	"github.com/salinlabs/salin-core/internal/session"
)

// Command is one normalized session command.
type Command string

const (
	CmdStartOrStopListening Command = "start_or_stop_listening"
	CmdCycleInputLanguage   Command = "cycle_input_language"
	CmdCycleOutputLanguage  Command = "cycle_output_language"
	CmdToggleMode           Command = "toggle_mode"
	CmdProcess              Command = "process"
	CmdSpeak                Command = "speak"
)

// ErrUnknownCommand reports an input that maps to nothing.
var ErrUnknownCommand = errors.New("input: unknown command")

// buttonCommands maps GPIO button identifiers to commands.
var buttonCommands = map[string]Command{
	"microphone":      CmdStartOrStopListening,
	"input_language":  CmdCycleInputLanguage,
	"output_language": CmdCycleOutputLanguage,
	"mode":            CmdToggleMode,
	"process":         CmdProcess,
}

// keyCommands maps keyboard shortcuts to commands.
var keyCommands = map[string]Command{
	"space": CmdStartOrStopListening,
	"i":     CmdCycleInputLanguage,
	"o":     CmdCycleOutputLanguage,
	"m":     CmdToggleMode,
	"p":     CmdProcess,
	"s":     CmdSpeak,
}

// Orchestrator is the session surface the router dispatches into.
type Orchestrator interface {
	ToggleListening(ctx context.Context) error
	StopListening()
	ProcessTranscript() error
	CycleInputLanguage()
	CycleOutputLanguage()
	ToggleMode()
	Speak()
	Greet()
}

// Router dispatches normalized commands and consumes the hardware channel.
type Router struct {
	cfg     config.InputConfig
	bus     *bus.Client
	session Orchestrator
	log     *slog.Logger

	mu         sync.Mutex
	lastMotion time.Time
	subs       []*nats.Subscription
}

func NewRouter(cfg config.InputConfig, busClient *bus.Client, sess Orchestrator, log *slog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		bus:     busClient,
		session: sess,
		log:     log.With(slog.String("component", "input")),
	}
}

// Start subscribes to the hardware button and motion subjects.
func (r *Router) Start() error {
	if r.bus == nil {
		return nil
	}
	buttonSub, err := r.bus.Conn().Subscribe(protocol.SubjectButtonPress, r.handleButton)
	if err != nil {
		return fmt.Errorf("subscribe button presses: %w", err)
	}
	motionSub, err := r.bus.Conn().Subscribe(protocol.SubjectMotion, r.handleMotion)
	if err != nil {
		_ = buttonSub.Drain()
		return fmt.Errorf("subscribe motion events: %w", err)
	}
	r.subs = []*nats.Subscription{buttonSub, motionSub}
	return nil
}

func (r *Router) Close() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

// Dispatch routes one command into the session.
func (r *Router) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd {
	case CmdStartOrStopListening:
		return r.session.ToggleListening(ctx)
	case CmdCycleInputLanguage:
		r.session.CycleInputLanguage()
	case CmdCycleOutputLanguage:
		r.session.CycleOutputLanguage()
	case CmdToggleMode:
		r.session.ToggleMode()
	case CmdProcess:
		r.session.StopListening()
		if err := r.session.ProcessTranscript(); err != nil && !errors.Is(err, session.ErrEmptyTranscript) {
			return err
		}
	case CmdSpeak:
		r.session.Speak()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return nil
}

// DispatchNamed routes a command by its wire name.
func (r *Router) DispatchNamed(ctx context.Context, name string) error {
	return r.Dispatch(ctx, Command(name))
}

// DispatchKey routes a keyboard shortcut.
func (r *Router) DispatchKey(ctx context.Context, key string) error {
	cmd, ok := keyCommands[key]
	if !ok {
		return fmt.Errorf("%w: key %q", ErrUnknownCommand, key)
	}
	return r.Dispatch(ctx, cmd)
}

// DispatchButton routes a hardware button identifier.
func (r *Router) DispatchButton(ctx context.Context, button string) error {
	cmd, ok := buttonCommands[button]
	if !ok {
		return fmt.Errorf("%w: button %q", ErrUnknownCommand, button)
	}
	return r.Dispatch(ctx, cmd)
}

// HandleMotion triggers the one-shot greeting, rate limited by the
// configured cooldown. It runs independent of session state.
func (r *Router) HandleMotion() {
	cooldown := time.Duration(r.cfg.MotionCooldownMS) * time.Millisecond
	r.mu.Lock()
	if !r.lastMotion.IsZero() && time.Since(r.lastMotion) < cooldown {
		r.mu.Unlock()
		return
	}
	r.lastMotion = time.Now()
	r.mu.Unlock()

	r.log.Info("motion detected, greeting")
	r.session.Greet()
}

func (r *Router) handleButton(msg *nats.Msg) {
	var press protocol.ButtonPress
	if err := json.Unmarshal(msg.Data, &press); err != nil {
		r.log.Warn("failed to decode button press", slog.String("error", err.Error()))
		return
	}
	if err := r.DispatchButton(context.Background(), press.Button); err != nil {
		r.log.Warn("button dispatch failed",
			slog.String("button", press.Button),
			slog.String("error", err.Error()))
	}
}

func (r *Router) handleMotion(msg *nats.Msg) {
	var event protocol.MotionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		r.log.Warn("failed to decode motion event", slog.String("error", err.Error()))
		return
	}
	r.HandleMotion()
}
