// Package session owns the authoritative interaction state: mode, language
// selection, the listening flag, and connectivity/platform capability flags.
// All mutation flows through the transition methods here; input sources and
// services never write fields directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salinlabs/salin-core/internal/capture"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
	"github.com/salinlabs/salin-core/internal/translate"
)

// Interaction modes.
const (
	ModeTranslation = "translation"
	ModeAssistant   = "assistant"
)

// Event names pushed to connected front ends.
const (
	EventListeningStatus     = "listening_status"
	EventTranscriptUpdate    = "transcript_update"
	EventTranslationResult   = "translation_result"
	EventLanguageChanged     = "language_changed"
	EventModeChanged         = "mode_changed"
	EventDisplayCleared      = "display_cleared"
	EventSystemMessage       = "system_message"
	EventSystemStatus        = "system_status"
	EventError               = "error"
	EventAssistantProcessing = "assistant_processing"
)

// ErrEmptyTranscript reports that processing was requested with a blank
// transcript; no detection or translation call is made.
var ErrEmptyTranscript = errors.New("session: no speech detected")

// Capture is the audio capture pipeline as the session drives it.
type Capture interface {
	Start(ctx context.Context, sessionID string, tags capture.TagFunc) error
	Stop()
	Active() bool
}

// Speaker is the playback queue as the session drives it.
type Speaker interface {
	Enqueue(text, language string)
	Stop()
}

// Translator invokes the detect-then-translate pipeline.
type Translator interface {
	Invoke(ctx context.Context, req translate.Request) (translate.Result, error)
}

// Assistant accepts a query for asynchronous reasoning. Responses and
// errors come back through the event sink, not the return path.
type Assistant interface {
	Submit(ctx context.Context, query, outputLang string, online, speak bool)
	Available() bool
}

// EventSink broadcasts session events to connected front ends.
type EventSink interface {
	Emit(event string, payload any)
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	Listening       bool              `json:"listening"`
	Mode            string            `json:"mode"`
	InputLanguage   string            `json:"input_language"`
	OutputLanguage  string            `json:"output_language"`
	Online          bool              `json:"online"`
	Kiosk           bool              `json:"kiosk"`
	Languages       []config.Language `json:"languages"`
	LastTranslation *translate.Result `json:"last_translation,omitempty"`
}

// Session is the single long-lived interaction state machine.
type Session struct {
	cfg       config.SessionConfig
	capture   Capture
	speaker   Speaker
	pipeline  Translator
	assistant Assistant
	events    EventSink
	log       *slog.Logger

	silence    *Supervisor
	inactivity *Supervisor

	mu          sync.Mutex
	listening   bool
	stopping    bool
	sessionID   string
	transcript  []string
	inputLang   string
	outputLang  string
	mode        string
	online      bool
	kiosk       bool
	platformSet bool
	last        *translate.Result
}

// New builds an idle Session with default selections: translation mode,
// auto input, the configured default output language, offline.
func New(cfg config.SessionConfig, capt Capture, spk Speaker, pipeline Translator, assistant Assistant, events EventSink, log *slog.Logger) *Session {
	s := &Session{
		cfg:        cfg,
		capture:    capt,
		speaker:    spk,
		pipeline:   pipeline,
		assistant:  assistant,
		events:     events,
		log:        log.With(slog.String("component", "session")),
		inputLang:  translate.AutoLanguage,
		outputLang: cfg.DefaultOutputLanguage,
		mode:       ModeTranslation,
	}
	s.silence = NewSupervisor(s.onSilence)
	s.inactivity = NewSupervisor(s.onInactivity)
	return s
}

func (s *Session) silenceTimeout() time.Duration {
	return time.Duration(s.cfg.SilenceTimeoutMS) * time.Millisecond
}

func (s *Session) inactivityTimeout() time.Duration {
	return time.Duration(s.cfg.InactivityTimeoutMS) * time.Millisecond
}

// touch marks user activity, pushing the inactivity reset deadline out.
func (s *Session) touch() {
	s.inactivity.Arm(s.inactivityTimeout())
}

// frameTags snapshots the selection flags stamped onto each audio frame.
func (s *Session) frameTags() capture.FrameTags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capture.FrameTags{Language: s.inputLang, Online: s.online, Mode: s.mode}
}

// StartListening clears the transcript, starts capture, and arms the
// silence deadline, all atomically with the listening flag. A no-op while
// already listening. A device failure leaves the session idle.
func (s *Session) StartListening(ctx context.Context) error {
	s.mu.Lock()
	if s.listening || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.transcript = nil
	id := uuid.NewString()
	if err := s.capture.Start(ctx, id, s.frameTags); err != nil {
		s.mu.Unlock()
		s.log.Warn("listening not started", slog.String("error", err.Error()))
		s.emit(EventError, map[string]any{"message": "microphone unavailable: " + err.Error()})
		return err
	}
	s.sessionID = id
	s.listening = true
	s.silence.Arm(s.silenceTimeout())
	lang := s.inputLang
	online := s.online
	s.mu.Unlock()

	s.touch()
	s.emit(EventListeningStatus, map[string]any{"status": "started"})
	s.emit(EventSystemMessage, map[string]any{
		"message": fmt.Sprintf("Started listening in %s, online mode: %t", s.displayName(lang), online),
	})
	return nil
}

// StopListening disarms the silence deadline and releases the capture
// device before the listening flag clears. Idempotent.
func (s *Session) StopListening() {
	s.mu.Lock()
	if !s.listening || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.silence.Disarm()
	s.mu.Unlock()

	// Blocks until the device is released and the final frame is sent.
	s.capture.Stop()

	s.mu.Lock()
	s.listening = false
	s.stopping = false
	s.mu.Unlock()

	s.touch()
	s.emit(EventListeningStatus, map[string]any{"status": "stopped"})
	s.emit(EventSystemMessage, map[string]any{"message": "Stopped listening"})
}

// ToggleListening starts listening when idle; when listening it stops and
// chains straight into transcript processing, like a silence expiry.
func (s *Session) ToggleListening(ctx context.Context) error {
	if s.Listening() {
		s.StopListening()
		if err := s.ProcessTranscript(); err != nil && !errors.Is(err, ErrEmptyTranscript) {
			return err
		}
		return nil
	}
	return s.StartListening(ctx)
}

// Listening reports whether a capture session is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening || s.stopping
}

// HandleTranscript ingests recognizer output. Final fragments append to
// the transcript buffer; any fragment resets the silence deadline to the
// full configured value.
func (s *Session) HandleTranscript(t protocol.Transcript) {
	s.mu.Lock()
	if !s.listening || t.SessionID != s.sessionID {
		s.mu.Unlock()
		return
	}
	if !t.Partial && strings.TrimSpace(t.Text) != "" {
		s.transcript = append(s.transcript, strings.TrimSpace(t.Text))
	}
	s.silence.Reset(s.silenceTimeout())
	s.mu.Unlock()

	s.touch()
	s.emit(EventTranscriptUpdate, map[string]any{"text": t.Text, "partial": t.Partial})
}

// HandleRecognitionError reports a recognizer stream failure and forces
// the session out of the listening state.
func (s *Session) HandleRecognitionError(e protocol.RecognitionError) {
	s.log.Warn("recognition stream error", slog.String("message", e.Message))
	s.emit(EventError, map[string]any{"message": "recognition error: " + e.Message})
	s.StopListening()
}

func (s *Session) onSilence() {
	s.log.Info("silence deadline elapsed")
	s.StopListening()
	// ProcessTranscript reports the empty case itself.
	_ = s.ProcessTranscript()
}

// ProcessTranscript consumes the accumulated transcript. Blank transcripts
// report ErrEmptyTranscript without any pipeline call. Otherwise the
// translation (or assistant) step runs asynchronously; this never blocks.
func (s *Session) ProcessTranscript() error {
	s.mu.Lock()
	text := strings.TrimSpace(strings.Join(s.transcript, " "))
	s.transcript = nil
	mode := s.mode
	inputLang := s.inputLang
	outputLang := s.outputLang
	online := s.online
	kiosk := s.kiosk
	s.mu.Unlock()

	s.touch()
	if text == "" {
		s.emit(EventError, map[string]any{"message": "no speech detected"})
		return ErrEmptyTranscript
	}

	if mode == ModeAssistant {
		if s.assistant == nil || !s.assistant.Available() {
			s.emit(EventError, map[string]any{"message": "assistant is not available"})
			return nil
		}
		s.emit(EventAssistantProcessing, map[string]any{"status": "processing"})
		go s.assistant.Submit(context.Background(), text, outputLang, online, kiosk)
		return nil
	}

	go s.runTranslation(text, inputLang, outputLang, online)
	return nil
}

func (s *Session) runTranslation(text, inputLang, outputLang string, online bool) {
	res, err := s.pipeline.Invoke(context.Background(), translate.Request{
		Text:       text,
		SourceLang: inputLang,
		TargetLang: outputLang,
		Online:     online,
	})
	// A resolved detection is authoritative even when the translation step
	// fails afterwards; the selection persists before the outcome is reported.
	s.mu.Lock()
	persisted := false
	if res.Detected && s.inputLang == translate.AutoLanguage {
		s.inputLang = res.SourceLang
		persisted = true
	}
	if err == nil {
		s.last = &res
	}
	kiosk := s.kiosk
	s.mu.Unlock()

	if persisted {
		s.emit(EventLanguageChanged, map[string]any{
			"type": "input",
			"code": res.SourceLang,
			"name": s.displayName(res.SourceLang),
		})
	}
	if err != nil {
		s.log.Warn("translation failed", slog.String("error", err.Error()))
		s.emit(EventError, map[string]any{"message": "translation failed: " + err.Error()})
		return
	}

	s.emit(EventTranslationResult, map[string]any{
		"source_text":     res.SourceText,
		"translated_text": res.TranslatedText,
		"source_lang":     res.SourceLang,
		"target_lang":     res.TargetLang,
		"from_cache":      res.FromCache,
	})
	if kiosk {
		s.speaker.Enqueue(res.TranslatedText, res.TargetLang)
	}
}

// CycleInputLanguage rotates auto -> lang1 -> ... -> langN -> auto.
func (s *Session) CycleInputLanguage() {
	codes := append([]string{translate.AutoLanguage}, s.cfg.LanguageCodes()...)
	s.mu.Lock()
	s.inputLang = nextCode(codes, s.inputLang)
	code := s.inputLang
	kiosk := s.kiosk
	s.mu.Unlock()
	s.announceLanguage("input", code, kiosk)
}

// CycleOutputLanguage rotates through the supported codes; auto is excluded.
func (s *Session) CycleOutputLanguage() {
	codes := s.cfg.LanguageCodes()
	s.mu.Lock()
	s.outputLang = nextCode(codes, s.outputLang)
	code := s.outputLang
	kiosk := s.kiosk
	s.mu.Unlock()
	s.announceLanguage("output", code, kiosk)
}

func nextCode(codes []string, current string) string {
	for i, c := range codes {
		if c == current {
			return codes[(i+1)%len(codes)]
		}
	}
	return codes[0]
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (s *Session) announceLanguage(kind, code string, kiosk bool) {
	name := s.displayName(code)
	s.touch()
	s.emit(EventLanguageChanged, map[string]any{"type": kind, "code": code, "name": name})
	s.emit(EventSystemMessage, map[string]any{
		"message": fmt.Sprintf("%s language changed to %s", title(kind), name),
	})
	if kiosk {
		s.speaker.Enqueue(fmt.Sprintf("%s language %s", title(kind), name), s.cfg.GreetingLanguage)
	}
}

func (s *Session) displayName(code string) string {
	if code == translate.AutoLanguage {
		return "Auto"
	}
	return s.cfg.LanguageName(code)
}

// SetMode switches between translation and assistant. The displayed result
// clears; an in-progress listening session keeps running.
func (s *Session) SetMode(mode string) error {
	if mode != ModeTranslation && mode != ModeAssistant {
		return fmt.Errorf("session: unknown mode %q", mode)
	}
	s.mu.Lock()
	s.mode = mode
	s.last = nil
	kiosk := s.kiosk
	s.mu.Unlock()

	s.touch()
	s.emit(EventDisplayCleared, map[string]any{})
	s.emit(EventModeChanged, map[string]any{"mode": mode})
	s.emit(EventSystemMessage, map[string]any{"message": fmt.Sprintf("Switched to %s mode", mode)})
	if kiosk {
		s.speaker.Enqueue(fmt.Sprintf("%s mode", title(mode)), s.cfg.GreetingLanguage)
	}
	return nil
}

// ToggleMode flips between the two modes.
func (s *Session) ToggleMode() {
	s.mu.Lock()
	mode := ModeAssistant
	if s.mode == ModeAssistant {
		mode = ModeTranslation
	}
	s.mu.Unlock()
	_ = s.SetMode(mode)
}

// Speak replays the last translation through the playback queue.
func (s *Session) Speak() {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	s.touch()
	if last == nil {
		s.emit(EventSystemMessage, map[string]any{"message": "Nothing to speak yet"})
		return
	}
	s.speaker.Enqueue(last.TranslatedText, last.TargetLang)
}

// Greet enqueues the configured greeting, independent of session state.
func (s *Session) Greet() {
	if s.cfg.Greeting == "" {
		return
	}
	s.emit(EventSystemMessage, map[string]any{"message": s.cfg.Greeting})
	s.speaker.Enqueue(s.cfg.Greeting, s.cfg.GreetingLanguage)
}

// ApplyCapability ingests a capability announcement. Connectivity follows
// every announcement; the platform flag latches on the first one.
func (s *Session) ApplyCapability(ann protocol.CapabilityAnnouncement) {
	s.mu.Lock()
	changed := s.online != ann.Online || !s.platformSet
	s.online = ann.Online
	if !s.platformSet {
		s.kiosk = ann.Platform == protocol.PlatformKiosk
		s.platformSet = true
	}
	s.mu.Unlock()

	if changed {
		s.emit(EventSystemStatus, s.Status())
	}
}

func (s *Session) onInactivity() {
	s.log.Info("inactivity deadline elapsed, resetting session")
	s.StopListening()
	// StopListening re-arms the inactivity deadline; a fully reset
	// session stays quiet until the next command.
	s.inactivity.Disarm()
	s.speaker.Stop()

	s.mu.Lock()
	s.inputLang = translate.AutoLanguage
	s.outputLang = s.cfg.DefaultOutputLanguage
	s.mode = ModeTranslation
	s.transcript = nil
	s.last = nil
	s.mu.Unlock()

	s.emit(EventSystemStatus, s.Status())
}

// Status snapshots the externally visible state.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Listening:       s.listening || s.stopping,
		Mode:            s.mode,
		InputLanguage:   s.inputLang,
		OutputLanguage:  s.outputLang,
		Online:          s.online,
		Kiosk:           s.kiosk,
		Languages:       s.cfg.Languages,
		LastTranslation: s.last,
	}
}

// Close releases the capture session and pending timers.
func (s *Session) Close() {
	s.silence.Disarm()
	s.inactivity.Disarm()
	s.StopListening()
	s.speaker.Stop()
}

func (s *Session) emit(event string, payload any) {
	if s.events != nil {
		s.events.Emit(event, payload)
	}
}
