package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// ErrDeviceUnavailable reports that the microphone could not be acquired.
// The session surfaces it to the user and stays idle; it is never fatal.
var ErrDeviceUnavailable = errors.New("capture: audio device unavailable")

// Source supplies blocks of normalized float32 samples from an audio device.
// Open acquires the device; Read blocks until a sample block is available
// and returns io.EOF when the stream ends; Close releases the device and is
// safe to call more than once.
type Source interface {
	Open(ctx context.Context, sampleRate, channels int) error
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// SourceFactory builds a fresh Source per capture session.
type SourceFactory func() Source

// mockSource produces a low-amplitude sine tone paced at real time,
// for development and tests without a microphone.
type mockSource struct {
	blockSize int
	interval  time.Duration
	phase     float64
	open      bool
}

// NewMockSource returns a SourceFactory producing paced synthetic audio.
func NewMockSource() SourceFactory {
	return func() Source { return &mockSource{} }
}

func (m *mockSource) Open(_ context.Context, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: invalid format %d/%d", ErrDeviceUnavailable, sampleRate, channels)
	}
	m.blockSize = sampleRate / 100 * channels // 10ms blocks
	m.interval = 10 * time.Millisecond
	m.open = true
	return nil
}

func (m *mockSource) Read(ctx context.Context) ([]float32, error) {
	if !m.open {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.interval):
	}
	block := make([]float32, m.blockSize)
	for i := range block {
		block[i] = float32(0.1 * math.Sin(m.phase))
		m.phase += 2 * math.Pi * 440 / 16000
	}
	return block, nil
}

func (m *mockSource) Close() error {
	m.open = false
	return nil
}

// execSource reads little-endian float32 samples from an external capture
// command's stdout (sox/parec style).
type execSource struct {
	command string
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	cancel  context.CancelFunc
	block   []byte
}

// NewExecSource returns a SourceFactory that shells out to command for audio.
func NewExecSource(command string) SourceFactory {
	return func() Source { return &execSource{command: command} }
}

func (e *execSource) Open(ctx context.Context, sampleRate, channels int) error {
	parser := shellwords.NewParser()
	args, err := parser.Parse(e.command)
	if err != nil {
		return fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: capture command empty", ErrDeviceUnavailable)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	e.cmd = cmd
	e.stdout = stdout
	e.cancel = cancel
	e.block = make([]byte, sampleRate/100*channels*4) // 10ms of float32
	return nil
}

func (e *execSource) Read(ctx context.Context) ([]float32, error) {
	if e.stdout == nil {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(e.stdout, e.block); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	samples := make([]float32, len(e.block)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(e.block[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

func (e *execSource) Close() error {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.cmd != nil {
		err := e.cmd.Wait()
		e.cmd = nil
		e.stdout = nil
		// Killed by cancel on a normal stop.
		if err != nil && err.Error() == "signal: killed" {
			return nil
		}
		return err
	}
	return nil
}
