package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execResponder shells out to a llama.cpp-style command per query: JSON on
// stdin, JSON on stdout.
type execResponder struct {
	cmd []string
}

// NewExecResponder returns a Responder backed by an external command.
func NewExecResponder(command string) (Responder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse assistant command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("assistant command empty")
	}
	return &execResponder{cmd: args}, nil
}

type execQuery struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

type execReply struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (e *execResponder) Respond(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(execQuery{Prompt: query, System: assistantSystemPrompt})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("assistant command failed: %w", err)
	}

	var reply execReply
	if err := json.Unmarshal(bytes.TrimSpace(out), &reply); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("assistant command failed: %s", reply.Error)
	}
	response := strings.TrimSpace(reply.Response)
	if response == "" {
		return "", fmt.Errorf("assistant returned an empty response")
	}
	return response, nil
}

func (e *execResponder) Ready() bool { return len(e.cmd) > 0 }
