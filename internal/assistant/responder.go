package assistant

import (
	"context"
	"fmt"
)

// Responder generates a reply to an English-normalized query.
type Responder interface {
	Respond(ctx context.Context, query string) (string, error)
	Ready() bool
}

// fallbackResponses are shown when the reasoning backend cannot answer,
// keyed by response language.
var fallbackResponses = map[string]string{
	"en": "I'm sorry, I'm having trouble processing that right now. Please try again later.",
	"tl": "Paumanhin, nahihirapan akong i-proseso iyan ngayon. Pakisubukan muli mamaya.",
	"ko": "죄송합니다, 지금 처리하는 데 어려움이 있습니다. 나중에 다시 시도해 주세요.",
}

// FallbackResponse returns the canned unavailable message for a language.
func FallbackResponse(language string) string {
	if msg, ok := fallbackResponses[language]; ok {
		return msg
	}
	return fallbackResponses["en"]
}

// stubResponder echoes a canned acknowledgement. It keeps the submit and
// response plumbing exercisable with no reasoning backend installed.
type stubResponder struct{}

// NewStubResponder returns the no-op reasoning backend.
func NewStubResponder() Responder {
	return stubResponder{}
}

func (stubResponder) Respond(_ context.Context, query string) (string, error) {
	return fmt.Sprintf("I heard: %s. The assistant model is not installed yet.", query), nil
}

func (stubResponder) Ready() bool { return true }
