package translate

import (
	"context"
	"errors"
)

// AutoLanguage is the pseudo-code selecting language auto-detection.
const AutoLanguage = "auto"

// ErrTranslationFailed wraps any failure of the translation step. The
// caller reports it to the user and leaves previous results untouched.
var ErrTranslationFailed = errors.New("translate: translation failed")

// Request describes one translation invocation. SourceLang may be
// AutoLanguage, in which case detection runs first.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Online     bool
}

// Result is a completed translation. SourceLang always holds the resolved
// code, never AutoLanguage. Detected is true only when the detector itself
// resolved the code; a fallback substitution leaves it false.
type Result struct {
	SourceText     string
	TranslatedText string
	SourceLang     string
	TargetLang     string
	Detected       bool
	FromCache      bool
}

// Translator is the external translation capability.
type Translator interface {
	Translate(ctx context.Context, text, source, target string, online bool) (string, error)
}

// Detector is the external language-detection capability. Implementations
// return a supported language code; failures are non-fatal to callers,
// which substitute the configured fallback code.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// Cache stores successful translations for offline replay.
type Cache interface {
	Lookup(ctx context.Context, text, source, target string) (string, bool, error)
	Store(ctx context.Context, text, source, target, translated string) error
}
