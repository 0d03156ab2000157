package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const assistantSystemPrompt = "You are a helpful assistant. Provide concise and accurate information."

// ollamaResponder answers queries through a local ollama server.
type ollamaResponder struct {
	endpoint string
	model    string
}

// NewOllamaResponder returns a Responder backed by an ollama endpoint.
func NewOllamaResponder(endpoint, model string) Responder {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaResponder{endpoint: endpoint, model: model}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *ollamaResponder) Respond(ctx context.Context, query string) (string, error) {
	payload := ollamaRequest{
		Model:   o.model,
		Prompt:  query,
		System:  assistantSystemPrompt,
		Stream:  true,
		Options: ollamaOptions{Temperature: 0.7, NumPredict: 512},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", err
		}
		accumulated += chunk.Response
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if accumulated == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return accumulated, nil
}

func (o *ollamaResponder) Ready() bool { return o.endpoint != "" }
