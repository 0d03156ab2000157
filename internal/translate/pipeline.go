// Package translate resolves the source language of a phrase and produces
// its translation, caching successful results for offline replay.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline runs detect-then-translate for one phrase at a time.
type Pipeline struct {
	translator Translator
	detector   Detector
	cache      Cache
	fallback   string
	timeout    time.Duration
	log        *slog.Logger

	requests  metric.Int64Counter
	latencyMS metric.Float64Histogram
}

// NewPipeline wires a Pipeline. cache may be nil when phrase caching is
// disabled; fallback is the code substituted when detection fails.
func NewPipeline(translator Translator, detector Detector, cache Cache, fallback string, timeout time.Duration, log *slog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	meter := otel.Meter("salin/translate")
	requests, _ := meter.Int64Counter("salin.translate.requests",
		metric.WithDescription("Translation pipeline invocations by outcome"))
	latency, _ := meter.Float64Histogram("salin.translate.latency_ms",
		metric.WithDescription("End to end translation latency"))
	return &Pipeline{
		translator: translator,
		detector:   detector,
		cache:      cache,
		fallback:   fallback,
		timeout:    timeout,
		log:        log.With(slog.String("component", "translate")),
		requests:   requests,
		latencyMS:  latency,
	}
}

// Invoke resolves req.SourceLang (running detection when it is
// AutoLanguage) and translates the phrase. Identical resolved source and
// target short-circuits to the input text. Cached phrases satisfy offline
// requests; online successes are written through to the cache.
//
// When translation fails after detection already resolved the source, the
// returned Result still carries SourceLang and Detected so callers can keep
// the resolved selection.
func (p *Pipeline) Invoke(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrTranslationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	source := req.SourceLang
	detected := false
	if source == AutoLanguage {
		lang, err := p.detector.Detect(ctx, text)
		if err != nil || lang == "" {
			p.log.Warn("language detection failed, using fallback",
				slog.String("fallback", p.fallback),
				slog.Any("error", err))
			lang = p.fallback
		} else {
			detected = true
		}
		source = lang
	}

	result := Result{
		SourceText: text,
		SourceLang: source,
		TargetLang: req.TargetLang,
		Detected:   detected,
	}

	if source == req.TargetLang {
		result.TranslatedText = text
		p.record(ctx, start, "passthrough")
		return result, nil
	}

	if !req.Online && p.cache != nil {
		translated, ok, err := p.cache.Lookup(ctx, text, source, req.TargetLang)
		if err != nil {
			p.log.Warn("phrase cache lookup failed", slog.String("error", err.Error()))
		} else if ok {
			result.TranslatedText = translated
			result.FromCache = true
			p.record(ctx, start, "cache")
			return result, nil
		}
	}

	translated, err := p.translator.Translate(ctx, text, source, req.TargetLang, req.Online)
	if err != nil {
		p.record(ctx, start, "error")
		if errors.Is(err, ErrTranslationFailed) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	result.TranslatedText = translated
	if p.cache != nil {
		if err := p.cache.Store(ctx, text, source, req.TargetLang, translated); err != nil {
			p.log.Warn("phrase cache store failed", slog.String("error", err.Error()))
		}
	}
	p.record(ctx, start, "translated")
	return result, nil
}

func (p *Pipeline) record(ctx context.Context, start time.Time, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	p.requests.Add(ctx, 1, attrs)
	p.latencyMS.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}
