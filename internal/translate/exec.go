package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execTranslator shells out to an offline translation command (argos-style)
// once per request: a JSON request on stdin, a JSON response on stdout.
type execTranslator struct {
	command string
}

// NewExecTranslator returns a Translator backed by an external command.
func NewExecTranslator(command string) Translator {
	return &execTranslator{command: command}
}

type execTranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execTranslateResponse struct {
	Translated string `json:"translated"`
	Error      string `json:"error,omitempty"`
}

func (e *execTranslator) Translate(ctx context.Context, text, source, target string, _ bool) (string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(e.command)
	if err != nil {
		return "", fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("%w: translate command empty", ErrTranslationFailed)
	}

	payload, err := json.Marshal(execTranslateRequest{Text: text, Source: source, Target: target})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	var resp execTranslateResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranslationFailed, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrTranslationFailed, resp.Error)
	}
	translated := strings.TrimSpace(resp.Translated)
	if translated == "" {
		return "", fmt.Errorf("%w: empty translation", ErrTranslationFailed)
	}
	return translated, nil
}
