// Package runtime assembles the voice pipeline: bus, capture, recognition,
// translation, playback, assistant, and the web gateway, wired in dependency
// order and torn down in reverse.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/salinlabs/salin-core/internal/assistant"
	"github.com/salinlabs/salin-core/internal/bus"
	"github.com/salinlabs/salin-core/internal/capability"
	"github.com/salinlabs/salin-core/internal/capture"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/gateway"
	"github.com/salinlabs/salin-core/internal/input"
	"github.com/salinlabs/salin-core/internal/natsserver"
	"github.com/salinlabs/salin-core/internal/phrasecache"
	"github.com/salinlabs/salin-core/internal/protocol"
	"github.com/salinlabs/salin-core/internal/session"
	"github.com/salinlabs/salin-core/internal/speaker"
	"github.com/salinlabs/salin-core/internal/stt"
	"github.com/salinlabs/salin-core/internal/translate"
	"github.com/salinlabs/salin-core/internal/tts"
)

// eventRelay decouples construction order: the session needs an event sink
// before the websocket hub exists, because the hub needs the command router
// and the router needs the session.
type eventRelay struct {
	mu   sync.Mutex
	sink session.EventSink
}

func (e *eventRelay) bind(sink session.EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

func (e *eventRelay) Emit(event string, payload any) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.Emit(event, payload)
	}
}

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the full pipeline up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	cache, err := phrasecache.Open(ctx, r.cfg.PhraseCache, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open phrase cache: %w", err)
	}
	defer cache.Close()

	translator, detector, err := r.buildTranslateBackends()
	if err != nil {
		return err
	}
	pipeline := translate.NewPipeline(translator, detector, cache,
		r.cfg.Session.FallbackLanguage,
		time.Duration(r.cfg.Translate.TimeoutMS)*time.Millisecond,
		r.logger)

	synth, sink, err := r.buildSpeechOutput()
	if err != nil {
		return err
	}
	spk := speaker.New(ctx, synth, sink, r.logger)
	defer spk.Close()

	sourceFactory, err := r.buildCaptureSource()
	if err != nil {
		return err
	}
	capt := capture.New(r.cfg.Capture, capture.NewBusPublisher(busClient), sourceFactory, r.logger)

	relay := &eventRelay{}

	responder, err := r.buildResponder()
	if err != nil {
		return err
	}
	asst := assistant.NewService(r.cfg.Assistant, responder, pipeline, spk, relay, r.logger)

	sess := session.New(r.cfg.Session, capt, spk, pipeline, asst, relay, r.logger)
	defer sess.Close()

	router := input.NewRouter(r.cfg.Input, busClient, sess, r.logger)
	if err := router.Start(); err != nil {
		return fmt.Errorf("failed to start input router: %w", err)
	}
	defer router.Close()

	hub := gateway.NewHub(router, r.logger)
	defer hub.Close()
	relay.bind(hub)

	subs, err := r.subscribeSession(busClient, sess)
	if err != nil {
		return err
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Drain()
		}
	}()

	recognizer, err := r.buildRecognizer()
	if err != nil {
		return err
	}
	sttService := stt.NewService(ctx, r.cfg.STT, busClient, recognizer)
	if err := sttService.Start(); err != nil {
		return fmt.Errorf("failed to start stt service: %w", err)
	}
	defer sttService.Close()

	announcer := capability.NewAnnouncer(r.cfg.Capability, busClient, r.cfg.Session.LanguageCodes(), r.logger)
	announcer.Start(ctx)
	defer announcer.Close()
	r.logger.Info("capability announcer started", slog.String("platform", announcer.Platform()))

	api := gateway.NewServer(sess, pipeline, detector, asst, spk, hub, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildTranslateBackends() (translate.Translator, translate.Detector, error) {
	var translator translate.Translator
	switch r.cfg.Translate.Mode {
	case "google":
		translator = translate.NewGoogleTranslator(r.cfg.Translate.Endpoint,
			time.Duration(r.cfg.Translate.TimeoutMS)*time.Millisecond)
	case "exec":
		translator = translate.NewExecTranslator(r.cfg.Translate.Command)
	case "mock":
		translator = translate.NewMockTranslator()
	default:
		return nil, nil, fmt.Errorf("unsupported translate mode %q", r.cfg.Translate.Mode)
	}

	var detector translate.Detector
	switch r.cfg.Detect.Mode {
	case "heuristic":
		detector = translate.NewHeuristicDetector(r.cfg.Session.FallbackLanguage)
	case "exec":
		detector = translate.NewExecDetector(r.cfg.Detect.Command,
			r.cfg.Session.LanguageCodes(), r.cfg.Session.FallbackLanguage)
	case "mock":
		detector = translate.NewMockDetector(r.cfg.Session.FallbackLanguage)
	default:
		return nil, nil, fmt.Errorf("unsupported detect mode %q", r.cfg.Detect.Mode)
	}
	return translator, detector, nil
}

func (r *Runtime) buildSpeechOutput() (tts.Synthesizer, speaker.Sink, error) {
	if !r.cfg.TTS.Enabled {
		return tts.NewMockSynth(r.cfg.TTS.SampleRate, r.cfg.TTS.Channels), speaker.NewDiscardSink(), nil
	}

	var synth tts.Synthesizer
	switch r.cfg.TTS.Mode {
	case "exec":
		s, err := tts.NewExecSynth(r.cfg.TTS.Command, r.cfg.TTS.Voices,
			r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build tts backend: %w", err)
		}
		synth = s
	case "mock":
		synth = tts.NewMockSynth(r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
	default:
		return nil, nil, fmt.Errorf("unsupported tts mode %q", r.cfg.TTS.Mode)
	}

	if r.cfg.TTS.Playback == "" {
		return synth, speaker.NewDiscardSink(), nil
	}
	sink, err := speaker.NewExecSink(r.cfg.TTS.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build playback sink: %w", err)
	}
	return synth, sink, nil
}

func (r *Runtime) buildCaptureSource() (capture.SourceFactory, error) {
	switch r.cfg.Capture.Mode {
	case "exec":
		return capture.NewExecSource(r.cfg.Capture.Command), nil
	case "mock":
		return capture.NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", r.cfg.Capture.Mode)
	}
}

func (r *Runtime) buildRecognizer() (stt.Recognizer, error) {
	if !r.cfg.STT.Enabled {
		return stt.NewMockRecognizer(), nil
	}
	switch r.cfg.STT.Mode {
	case "exec":
		return stt.NewExecRecognizer(r.cfg.STT)
	case "mock":
		return stt.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", r.cfg.STT.Mode)
	}
}

func (r *Runtime) buildResponder() (assistant.Responder, error) {
	if !r.cfg.Assistant.Enabled {
		return nil, nil
	}
	switch r.cfg.Assistant.Mode {
	case "ollama":
		return assistant.NewOllamaResponder(r.cfg.Assistant.Endpoint, r.cfg.Assistant.Model), nil
	case "exec":
		return assistant.NewExecResponder(r.cfg.Assistant.Command)
	case "stub":
		return assistant.NewStubResponder(), nil
	default:
		return nil, fmt.Errorf("unsupported assistant mode %q", r.cfg.Assistant.Mode)
	}
}

// subscribeSession routes recognizer output and capability announcements
// into the session.
func (r *Runtime) subscribeSession(busClient *bus.Client, sess *session.Session) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	cleanup := func() {
		for _, sub := range subs {
			_ = sub.Drain()
		}
	}

	onTranscript := func(msg *nats.Msg) {
		var t protocol.Transcript
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			r.logger.Warn("failed to decode transcript", slog.String("error", err.Error()))
			return
		}
		sess.HandleTranscript(t)
	}
	for _, subject := range []string{protocol.SubjectTranscriptPartial, protocol.SubjectTranscriptFinal} {
		sub, err := busClient.Conn().Subscribe(subject, onTranscript)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	errSub, err := busClient.Conn().Subscribe(protocol.SubjectRecognitionError, func(msg *nats.Msg) {
		var e protocol.RecognitionError
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			r.logger.Warn("failed to decode recognition error", slog.String("error", err.Error()))
			return
		}
		sess.HandleRecognitionError(e)
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectRecognitionError, err)
	}
	subs = append(subs, errSub)

	capSub, err := capability.Subscribe(busClient, sess.ApplyCapability)
	if err != nil {
		cleanup()
		return nil, err
	}
	subs = append(subs, capSub)

	return subs, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
