// Package capture acquires the microphone, frames raw samples as 16-bit
// PCM, and streams them to the recognition transport for as long as a
// listening session is active.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/salinlabs/salin-core/internal/bus"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
)

// ErrCaptureActive is returned when Start is called while a capture
// session is already running. Exactly one capture session may exist.
var ErrCaptureActive = errors.New("capture: session already active")

// FrameTags carries the session flags stamped onto each outgoing frame.
// They are read per frame, so a language change mid-utterance affects
// only frames captured after the change.
type FrameTags struct {
	Language string
	Online   bool
	Mode     string
}

// TagFunc supplies the current frame tags at capture time.
type TagFunc func() FrameTags

// FramePublisher delivers frames to the recognition transport.
type FramePublisher interface {
	PublishFrame(frame protocol.AudioFrame) error
}

type busPublisher struct {
	bus *bus.Client
}

// NewBusPublisher publishes frames on the NATS audio subject.
func NewBusPublisher(client *bus.Client) FramePublisher {
	return busPublisher{bus: client}
}

func (b busPublisher) PublishFrame(frame protocol.AudioFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectAudioFramePrefix, frame.SessionID)
	return b.bus.Conn().Publish(subject, data)
}

// Pipeline is the single-flight capture session owner.
type Pipeline struct {
	cfg     config.CaptureConfig
	pub     FramePublisher
	factory SourceFactory
	log     *slog.Logger

	mu        sync.Mutex
	active    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	src       Source
	sessionID string
	seq       int
}

func New(cfg config.CaptureConfig, pub FramePublisher, factory SourceFactory, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		pub:     pub,
		factory: factory,
		log:     log.With(slog.String("component", "capture")),
	}
}

// Start acquires the microphone and begins streaming frames for sessionID.
// Device acquisition failures surface as ErrDeviceUnavailable without any
// state change; a second Start while active returns ErrCaptureActive.
func (p *Pipeline) Start(ctx context.Context, sessionID string, tags TagFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return ErrCaptureActive
	}

	src := p.factory()
	if err := src.Open(ctx, p.cfg.SampleRate, p.cfg.Channels); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.active = true
	p.src = src
	p.cancel = cancel
	p.sessionID = sessionID
	p.seq = 0

	p.wg.Add(1)
	go p.run(runCtx, src, sessionID, tags)

	p.log.Info("capture started", slog.String("session_id", sessionID))
	return nil
}

func (p *Pipeline) run(ctx context.Context, src Source, sessionID string, tags TagFunc) {
	defer p.wg.Done()

	frameSamples := p.cfg.SampleRate * p.cfg.FrameDurationMS / 1000 * p.cfg.Channels
	var buf []float32
	for {
		block, err := src.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				p.log.Warn("capture read failed", slog.String("error", err.Error()))
			}
			return
		}
		buf = append(buf, block...)
		for len(buf) >= frameSamples {
			t := tags()
			frame := protocol.AudioFrame{
				SessionID:  sessionID,
				Sequence:   p.nextSeq(),
				SampleRate: p.cfg.SampleRate,
				Channels:   p.cfg.Channels,
				PCM:        EncodePCM16(buf[:frameSamples]),
				Language:   t.Language,
				Online:     t.Online,
				Mode:       t.Mode,
			}
			buf = buf[frameSamples:]
			if err := p.pub.PublishFrame(frame); err != nil {
				p.log.Warn("failed to publish audio frame", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pipeline) nextSeq() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.seq
	p.seq++
	return seq
}

// Stop releases the device and tells the recognizer the utterance ended.
// It is idempotent; the device is released before Stop returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	p.mu.Lock()
	if !p.active {
		// A concurrent Stop finished the teardown.
		return
	}

	if err := p.src.Close(); err != nil {
		p.log.Warn("capture source close failed", slog.String("error", err.Error()))
	}
	final := protocol.AudioFrame{
		SessionID:  p.sessionID,
		Sequence:   p.seq,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
		Final:      true,
	}
	if err := p.pub.PublishFrame(final); err != nil {
		p.log.Warn("failed to publish final frame", slog.String("error", err.Error()))
	}

	p.active = false
	p.src = nil
	p.cancel = nil
	p.log.Info("capture stopped", slog.String("session_id", p.sessionID))
}

// Active reports whether a capture session is running.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
