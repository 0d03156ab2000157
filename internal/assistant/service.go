// Package assistant carries a query through language normalization, the
// reasoning backend, and response localization. The reasoning step itself
// is pluggable and may be a stub.
package assistant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/translate"
)

// Events pushed to front ends.
const (
	EventResponse = "assistant_response"
	EventError    = "assistant_error"
)

const submitTimeout = 60 * time.Second

// Translator normalizes queries and localizes responses.
type Translator interface {
	Invoke(ctx context.Context, req translate.Request) (translate.Result, error)
}

// Speaker voices responses on kiosk platforms.
type Speaker interface {
	Enqueue(text, language string)
}

// EventSink broadcasts assistant events.
type EventSink interface {
	Emit(event string, payload any)
}

// Service is the submit/response plumbing around a Responder.
type Service struct {
	cfg       config.AssistantConfig
	responder Responder
	pipeline  Translator
	speaker   Speaker
	events    EventSink
	log       *slog.Logger

	mu         sync.Mutex
	processing bool
}

func NewService(cfg config.AssistantConfig, responder Responder, pipeline Translator, spk Speaker, events EventSink, log *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		responder: responder,
		pipeline:  pipeline,
		speaker:   spk,
		events:    events,
		log:       log.With(slog.String("component", "assistant")),
	}
}

// Available reports whether queries can be submitted.
func (s *Service) Available() bool {
	return s.cfg.Enabled && s.responder != nil && s.responder.Ready()
}

// Processing reports whether a query is in flight.
func (s *Service) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Submit runs one query to completion. The response or error comes back
// through the event sink; callers do not block on the return.
func (s *Service) Submit(ctx context.Context, query, outputLang string, online, speak bool) {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		s.events.Emit(EventError, map[string]any{"message": "assistant is busy"})
		return
	}
	s.processing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	// Reason in English; localize the response afterwards.
	english := query
	sourceLang := "en"
	norm, err := s.pipeline.Invoke(ctx, translate.Request{
		Text:       query,
		SourceLang: translate.AutoLanguage,
		TargetLang: "en",
		Online:     online,
	})
	if err != nil {
		s.log.Warn("query normalization failed, using raw text", slog.String("error", err.Error()))
	} else {
		english = norm.TranslatedText
		sourceLang = norm.SourceLang
	}

	response, err := s.responder.Respond(ctx, english)
	if err != nil {
		s.log.Warn("assistant response failed", slog.String("error", err.Error()))
		s.events.Emit(EventError, map[string]any{"message": FallbackResponse(outputLang)})
		return
	}

	localized := response
	if outputLang != "en" {
		loc, err := s.pipeline.Invoke(ctx, translate.Request{
			Text:       response,
			SourceLang: "en",
			TargetLang: outputLang,
			Online:     online,
		})
		if err != nil {
			s.log.Warn("response localization failed, answering in English", slog.String("error", err.Error()))
		} else {
			localized = loc.TranslatedText
		}
	}

	s.events.Emit(EventResponse, map[string]any{
		"text":            localized,
		"source_language": sourceLang,
		"target_language": outputLang,
	})
	if speak && s.speaker != nil {
		s.speaker.Enqueue(localized, outputLang)
	}
}
