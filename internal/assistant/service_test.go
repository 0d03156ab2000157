package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/translate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeResponder struct {
	err   error
	reply string
	ready bool
}

func (f *fakeResponder) Respond(_ context.Context, query string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "answer to " + query, nil
}

func (f *fakeResponder) Ready() bool { return f.ready }

type fakePipeline struct {
	err error
}

func (f *fakePipeline) Invoke(_ context.Context, req translate.Request) (translate.Result, error) {
	if f.err != nil {
		return translate.Result{}, f.err
	}
	source := req.SourceLang
	if source == translate.AutoLanguage {
		source = "tl"
	}
	return translate.Result{
		SourceText:     req.Text,
		TranslatedText: "[" + req.TargetLang + "] " + req.Text,
		SourceLang:     source,
		TargetLang:     req.TargetLang,
		Detected:       req.SourceLang == translate.AutoLanguage,
	}, nil
}

type sink struct {
	mu     sync.Mutex
	events map[string][]any
}

func newSink() *sink {
	return &sink{events: map[string][]any{}}
}

func (s *sink) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event] = append(s.events[event], payload)
}

func (s *sink) payloads(event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.events[event]...)
}

type utterance struct {
	text     string
	language string
}

type fakeSpeaker struct {
	mu    sync.Mutex
	items []utterance
}

func (f *fakeSpeaker) Enqueue(text, language string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, utterance{text: text, language: language})
}

func (f *fakeSpeaker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func newService(r Responder, p Translator, spk Speaker, events EventSink) *Service {
	return NewService(config.AssistantConfig{Enabled: true, Mode: "stub"}, r, p, spk, events, newLogger())
}

func TestSubmitLocalizesResponse(t *testing.T) {
	events := newSink()
	spk := &fakeSpeaker{}
	s := newService(&fakeResponder{ready: true}, &fakePipeline{}, spk, events)

	s.Submit(context.Background(), "kamusta", "ko", true, true)

	responses := events.payloads(EventResponse)
	if len(responses) != 1 {
		t.Fatalf("expected one response event, got %d", len(responses))
	}
	payload := responses[0].(map[string]any)
	if payload["target_language"] != "ko" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload["source_language"] != "tl" {
		t.Fatalf("detected query language must be reported, got %+v", payload)
	}
	if spk.count() != 1 {
		t.Fatal("speak flag must voice the response")
	}
	if s.Processing() {
		t.Fatal("processing flag must clear after completion")
	}
}

func TestSubmitResponderFailureEmitsFallback(t *testing.T) {
	events := newSink()
	s := newService(&fakeResponder{ready: true, err: errors.New("model crashed")}, &fakePipeline{}, &fakeSpeaker{}, events)

	s.Submit(context.Background(), "hello", "tl", true, false)

	failures := events.payloads(EventError)
	if len(failures) != 1 {
		t.Fatalf("expected one error event, got %d", len(failures))
	}
	msg := failures[0].(map[string]any)["message"].(string)
	if msg != FallbackResponse("tl") {
		t.Fatalf("expected localized fallback, got %q", msg)
	}
	if len(events.payloads(EventResponse)) != 0 {
		t.Fatal("no response event may follow a responder failure")
	}
}

func TestSubmitNormalizationFailureUsesRawQuery(t *testing.T) {
	events := newSink()
	s := newService(&fakeResponder{ready: true, reply: "fine"}, &fakePipeline{err: translate.ErrTranslationFailed}, &fakeSpeaker{}, events)

	s.Submit(context.Background(), "hello", "en", false, false)

	responses := events.payloads(EventResponse)
	if len(responses) != 1 {
		t.Fatalf("expected a response despite normalization failure, got %d", len(responses))
	}
	if responses[0].(map[string]any)["text"] != "fine" {
		t.Fatalf("unexpected response %+v", responses[0])
	}
}

func TestAvailableRequiresReadyResponder(t *testing.T) {
	s := newService(&fakeResponder{ready: false}, &fakePipeline{}, &fakeSpeaker{}, newSink())
	if s.Available() {
		t.Fatal("service must be unavailable with an unready responder")
	}
}

func TestNewExecResponderValidatesCommand(t *testing.T) {
	if _, err := NewExecResponder(""); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecResponder(`cat "unterminated`); err == nil {
		t.Fatal("expected error for unparsable command")
	}
	r, err := NewExecResponder("cat -")
	if err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}
	if !r.Ready() {
		t.Fatal("constructed responder must report ready")
	}
}
