package translate

import (
	"context"
	"fmt"
	"strings"
)

// mockTranslator wraps the input in a deterministic marker, for development
// without network access or an offline engine.
type mockTranslator struct{}

// NewMockTranslator returns a Translator for development and tests.
func NewMockTranslator() Translator {
	return mockTranslator{}
}

func (mockTranslator) Translate(_ context.Context, text, source, target string, _ bool) (string, error) {
	return fmt.Sprintf("[%s->%s] %s", source, target, strings.TrimSpace(text)), nil
}

// mockDetector always answers with a fixed code.
type mockDetector struct {
	lang string
}

// NewMockDetector returns a Detector that always reports lang.
func NewMockDetector(lang string) Detector {
	return mockDetector{lang: lang}
}

func (m mockDetector) Detect(context.Context, string) (string, error) {
	return m.lang, nil
}
