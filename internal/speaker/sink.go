package speaker

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type discardSink struct{}

// NewDiscardSink returns a sink that drops audio, for headless runs and tests.
func NewDiscardSink() Sink { return discardSink{} }

func (discardSink) Play(ctx context.Context, _ []byte, _, _ int) error {
	return ctx.Err()
}

// execSink pipes raw PCM to an external player command (aplay-style).
type execSink struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecSink(command string) (Sink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &execSink{cmd: args}, nil
}

func (s *execSink) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	args = append(args,
		"--rate", fmt.Sprintf("%d", sampleRate),
		"--channels", fmt.Sprintf("%d", channels))
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write(pcm); err != nil {
		cmd.Wait()
		return err
	}
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("playback command failed: %w", err)
	}
	return nil
}
