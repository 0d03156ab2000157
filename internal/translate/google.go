package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// googleTranslator calls the public single-phrase translate endpoint.
// It is the online path; callers fall back to the cache when offline.
type googleTranslator struct {
	endpoint string
	client   *http.Client
}

// NewGoogleTranslator returns the hosted translation backend. An empty
// endpoint selects the public API.
func NewGoogleTranslator(endpoint string, timeout time.Duration) Translator {
	if endpoint == "" {
		endpoint = defaultGoogleEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &googleTranslator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *googleTranslator) Translate(ctx context.Context, text, source, target string, online bool) (string, error) {
	if !online {
		return "", fmt.Errorf("%w: offline", ErrTranslationFailed)
	}

	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", source)
	query.Set("tl", target)
	query.Set("dt", "t")
	query.Set("q", text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrTranslationFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The endpoint answers a nested array: the first element is a list of
	// sentence fragments, each with the translated chunk at index 0.
	var payload []any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranslationFailed, err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrTranslationFailed)
	}
	sentences, ok := payload[0].([]any)
	if !ok {
		return "", fmt.Errorf("%w: unexpected response shape", ErrTranslationFailed)
	}
	var sb strings.Builder
	for _, raw := range sentences {
		fragment, ok := raw.([]any)
		if !ok || len(fragment) == 0 {
			continue
		}
		if chunk, ok := fragment[0].(string); ok {
			sb.WriteString(chunk)
		}
	}
	translated := strings.TrimSpace(sb.String())
	if translated == "" {
		return "", fmt.Errorf("%w: no translation in response", ErrTranslationFailed)
	}
	return translated, nil
}
