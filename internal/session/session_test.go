package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/salinlabs/salin-core/internal/capture"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
	"github.com/salinlabs/salin-core/internal/translate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		Languages: []config.Language{
			{Code: "en", Name: "English"},
			{Code: "tl", Name: "Filipino"},
			{Code: "ko", Name: "Korean"},
		},
		DefaultOutputLanguage: "tl",
		FallbackLanguage:      "en",
		SilenceTimeoutMS:      80,
		InactivityTimeoutMS:   60000,
		Greeting:              "Welcome",
		GreetingLanguage:      "en",
	}
}

type fakeCapture struct {
	mu       sync.Mutex
	failOpen bool
	active   bool
	starts   int
	stops    int
}

func (f *fakeCapture) Start(_ context.Context, _ string, _ capture.TagFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return capture.ErrDeviceUnavailable
	}
	if f.active {
		return capture.ErrCaptureActive
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.active = false
		f.stops++
	}
}

func (f *fakeCapture) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type utterance struct {
	text     string
	language string
}

type fakeSpeaker struct {
	mu    sync.Mutex
	items []utterance
	stops int
}

func (f *fakeSpeaker) Enqueue(text, language string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, utterance{text: text, language: language})
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSpeaker) snapshot() []utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]utterance(nil), f.items...)
}

type fakePipeline struct {
	mu     sync.Mutex
	result translate.Result
	err    error
	calls  int
}

func (f *fakePipeline) Invoke(_ context.Context, req translate.Request) (translate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.result, f.err
	}
	res := f.result
	if res.SourceText == "" {
		res.SourceText = req.Text
	}
	return res, nil
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Emit(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func newSession(cfg config.SessionConfig, capt *fakeCapture, spk *fakeSpeaker, p *fakePipeline, rec *eventRecorder) *Session {
	return New(cfg, capt, spk, p, nil, rec, newLogger())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartListeningIsIdempotent(t *testing.T) {
	capt := &fakeCapture{}
	s := newSession(testConfig(), capt, &fakeSpeaker{}, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	if err := s.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.StartListening(context.Background()); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}
	starts, _ := capt.counts()
	if starts != 1 {
		t.Fatalf("expected one capture session, got %d", starts)
	}
	if !s.silence.Armed() {
		t.Fatal("silence deadline must be armed while listening")
	}
}

func TestDeviceUnavailableStaysIdle(t *testing.T) {
	capt := &fakeCapture{failOpen: true}
	rec := &eventRecorder{}
	s := newSession(testConfig(), capt, &fakeSpeaker{}, &fakePipeline{}, rec)
	defer s.Close()

	err := s.StartListening(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.Listening() {
		t.Fatal("session must stay idle after a device failure")
	}
	if s.silence.Armed() {
		t.Fatal("silence deadline must not be armed")
	}
	if rec.count(EventError) != 1 {
		t.Fatal("device failure must be reported")
	}
}

func TestStopListeningReleasesCapture(t *testing.T) {
	capt := &fakeCapture{}
	s := newSession(testConfig(), capt, &fakeSpeaker{}, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	if err := s.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	s.StopListening()
	s.StopListening()
	_, stops := capt.counts()
	if stops != 1 {
		t.Fatalf("expected one capture stop, got %d", stops)
	}
	if s.Listening() || s.silence.Armed() {
		t.Fatal("session must be idle with no armed deadline after stop")
	}
}

func TestSilenceExpiryProcessesOnce(t *testing.T) {
	capt := &fakeCapture{}
	pipeline := &fakePipeline{result: translate.Result{TranslatedText: "kamusta", SourceLang: "en", TargetLang: "tl"}}
	rec := &eventRecorder{}
	s := newSession(testConfig(), capt, &fakeSpeaker{}, pipeline, rec)
	defer s.Close()

	if err := s.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	id := s.sessionID

	// Fragments arriving inside the deadline keep the session listening.
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		s.HandleTranscript(protocol.Transcript{SessionID: id, Text: "hello"})
		if !s.Listening() {
			t.Fatal("transcript updates must reset the silence deadline")
		}
	}

	waitFor(t, func() bool { return !s.Listening() }, "silence expiry never stopped the session")
	waitFor(t, func() bool { return pipeline.callCount() == 1 }, "transcript was not processed")

	// No second firing.
	time.Sleep(200 * time.Millisecond)
	_, stops := capt.counts()
	if stops != 1 || pipeline.callCount() != 1 {
		t.Fatalf("expected exactly one stop/process, got stops=%d calls=%d", stops, pipeline.callCount())
	}
}

func TestProcessTranscriptEmptyReportsNoSpeech(t *testing.T) {
	pipeline := &fakePipeline{}
	rec := &eventRecorder{}
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, pipeline, rec)
	defer s.Close()

	s.transcript = []string{"   "}
	if err := s.ProcessTranscript(); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if pipeline.callCount() != 0 {
		t.Fatal("no pipeline call may be made for a blank transcript")
	}
	if rec.count(EventError) != 1 {
		t.Fatal("empty input must be reported")
	}
}

func TestTranslationPersistsDetectedLanguage(t *testing.T) {
	pipeline := &fakePipeline{result: translate.Result{
		SourceText:     "Hello",
		TranslatedText: "Kamusta",
		SourceLang:     "en",
		TargetLang:     "tl",
		Detected:       true,
	}}
	spk := &fakeSpeaker{}
	rec := &eventRecorder{}
	s := newSession(testConfig(), &fakeCapture{}, spk, pipeline, rec)
	defer s.Close()

	s.ApplyCapability(protocol.CapabilityAnnouncement{Online: true, Platform: protocol.PlatformKiosk})
	s.transcript = []string{"Hello"}
	if err := s.ProcessTranscript(); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	waitFor(t, func() bool { return s.Status().LastTranslation != nil }, "translation result never landed")
	st := s.Status()
	if st.InputLanguage != "en" {
		t.Fatalf("detected language must persist as the active selection, got %s", st.InputLanguage)
	}
	if st.LastTranslation.TranslatedText != "Kamusta" {
		t.Fatalf("unexpected last translation %+v", st.LastTranslation)
	}
	waitFor(t, func() bool { return len(spk.snapshot()) == 1 }, "kiosk platform must auto-speak the result")
	if got := spk.snapshot()[0]; got.text != "Kamusta" || got.language != "tl" {
		t.Fatalf("unexpected playback item %+v", got)
	}
}

func TestTranslationFailureLeavesLastUntouched(t *testing.T) {
	pipeline := &fakePipeline{err: translate.ErrTranslationFailed}
	rec := &eventRecorder{}
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, pipeline, rec)
	defer s.Close()

	s.last = &translate.Result{TranslatedText: "previous"}
	s.transcript = []string{"hello"}
	if err := s.ProcessTranscript(); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	waitFor(t, func() bool { return rec.count(EventError) == 1 }, "failure was never reported")
	if s.Status().LastTranslation.TranslatedText != "previous" {
		t.Fatal("failed translation must not mutate the last result")
	}
}

func TestTranslationFailurePersistsDetectedLanguage(t *testing.T) {
	pipeline := &fakePipeline{
		result: translate.Result{SourceText: "안녕하세요", SourceLang: "ko", TargetLang: "en", Detected: true},
		err:    translate.ErrTranslationFailed,
	}
	rec := &eventRecorder{}
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, pipeline, rec)
	defer s.Close()

	s.transcript = []string{"안녕하세요"}
	if err := s.ProcessTranscript(); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	waitFor(t, func() bool { return rec.count(EventError) == 1 }, "failure was never reported")
	st := s.Status()
	if st.InputLanguage != "ko" {
		t.Fatalf("resolved language must persist despite the failed translation, got %s", st.InputLanguage)
	}
	if rec.count(EventLanguageChanged) != 1 {
		t.Fatal("persisted detection must announce the language change")
	}
	if st.LastTranslation != nil {
		t.Fatalf("failed translation must not set a last result, got %+v", st.LastTranslation)
	}
}

func TestLanguageCycleClosure(t *testing.T) {
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	for i := 0; i < 4; i++ {
		s.CycleInputLanguage()
	}
	if got := s.Status().InputLanguage; got != translate.AutoLanguage {
		t.Fatalf("input cycle of 4 must close on auto, got %s", got)
	}

	start := s.Status().OutputLanguage
	for i := 0; i < 3; i++ {
		s.CycleOutputLanguage()
	}
	if got := s.Status().OutputLanguage; got != start {
		t.Fatalf("output cycle of 3 must close on %s, got %s", start, got)
	}
}

func TestSetModeKeepsListeningAndClearsResult(t *testing.T) {
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	if err := s.StartListening(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	s.last = &translate.Result{TranslatedText: "old"}
	if err := s.SetMode(ModeAssistant); err != nil {
		t.Fatalf("set mode failed: %v", err)
	}
	st := s.Status()
	if !st.Listening {
		t.Fatal("mode change must not stop an in-progress listening session")
	}
	if st.LastTranslation != nil {
		t.Fatal("mode change must clear the displayed result")
	}
	if err := s.SetMode("karaoke"); err == nil {
		t.Fatal("unknown mode must be rejected")
	}
}

func TestCapabilityPlatformLatches(t *testing.T) {
	s := newSession(testConfig(), &fakeCapture{}, &fakeSpeaker{}, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	s.ApplyCapability(protocol.CapabilityAnnouncement{Online: false, Platform: protocol.PlatformGeneric})
	s.ApplyCapability(protocol.CapabilityAnnouncement{Online: true, Platform: protocol.PlatformKiosk})

	st := s.Status()
	if !st.Online {
		t.Fatal("connectivity must follow every announcement")
	}
	if st.Kiosk {
		t.Fatal("platform must latch on the first announcement")
	}
}

func TestSpeakReplaysLastTranslation(t *testing.T) {
	spk := &fakeSpeaker{}
	s := newSession(testConfig(), &fakeCapture{}, spk, &fakePipeline{}, &eventRecorder{})
	defer s.Close()

	s.Speak()
	if len(spk.snapshot()) != 0 {
		t.Fatal("speak with no result must not enqueue")
	}

	s.last = &translate.Result{TranslatedText: "annyeong", TargetLang: "ko"}
	s.Speak()
	items := spk.snapshot()
	if len(items) != 1 || items[0].text != "annyeong" || items[0].language != "ko" {
		t.Fatalf("unexpected playback items %+v", items)
	}
}

func TestSupervisorResetOutrunsDeadline(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	sup := NewSupervisor(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	sup.Arm(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		sup.Reset(50 * time.Millisecond)
	}
	mu.Lock()
	early := fired
	mu.Unlock()
	if early != 0 {
		t.Fatalf("deadline fired %d times despite resets", early)
	}

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("expected exactly one firing, got %d", fired)
	}
}

func TestSupervisorDisarmPreventsFiring(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	sup := NewSupervisor(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	sup.Disarm() // safe with nothing pending
	sup.Arm(30 * time.Millisecond)
	sup.Disarm()
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Fatalf("disarmed supervisor fired %d times", fired)
	}
}
