// Package speaker implements the queued, interruptible speech-output engine.
// Items play strictly in enqueue order with at most one synthesis call in
// flight; Stop cancels the current item and discards everything pending.
package speaker

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/salinlabs/salin-core/internal/tts"
)

// Item is one utterance waiting to be spoken.
type Item struct {
	Text     string
	Language string
}

// Sink receives synthesized PCM for playback on the output device.
type Sink interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
}

// Queue sequences speech output. All state is guarded by mu; the playback
// goroutine advances the queue itself on completion or error so callers
// never block on audio I/O.
type Queue struct {
	synth  tts.Synthesizer
	sink   Sink
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []Item
	speaking bool
	current  context.CancelFunc
}

func New(parent context.Context, synth tts.Synthesizer, sink Sink, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		synth:  synth,
		sink:   sink,
		log:    log.With(slog.String("component", "speaker")),
		ctx:    ctx,
		cancel: cancel,
	}
	q.initMetrics()
	return q
}

func (q *Queue) initMetrics() {
	meter := otel.Meter("github.com/salinlabs/salin-core/speaker")
	depth, err := meter.Int64ObservableGauge("salin.speaker.queue_depth",
		metric.WithDescription("Pending playback items"))
	if err != nil {
		q.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(q.Pending()))
		return nil
	}, depth)
	if err != nil {
		q.log.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
}

// Enqueue schedules text for speech. Empty text is reported and dropped.
// If nothing is playing the item starts immediately, otherwise it waits
// its turn in FIFO order.
func (q *Queue) Enqueue(text, language string) {
	if strings.TrimSpace(text) == "" {
		q.log.Warn("ignoring empty playback item")
		return
	}
	item := Item{Text: text, Language: language}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.speaking {
		q.pending = append(q.pending, item)
		return
	}
	q.speaking = true
	q.startLocked(item)
}

// startLocked launches playback of item. Caller holds mu and has already
// set speaking=true.
func (q *Queue) startLocked(item Item) {
	ctx, cancel := context.WithCancel(q.ctx)
	q.current = cancel
	q.wg.Add(1)
	go q.run(ctx, cancel, item)
}

func (q *Queue) run(ctx context.Context, cancel context.CancelFunc, item Item) {
	defer q.wg.Done()
	// Cancel after the outcome check below: an abandoned synthesis stream
	// must see the item context end, or it can hold the synthesizer and
	// block the next item forever.
	defer cancel()

	if err := q.play(ctx, item); err != nil && ctx.Err() == nil {
		// A failed item must not stall the rest of the queue.
		q.log.Warn("playback item failed",
			slog.String("language", item.Language),
			slog.String("error", err.Error()))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ctx.Err() != nil {
		// Stopped: Stop already reset speaking and cleared pending.
		return
	}
	q.current = nil
	if len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.startLocked(next)
		return
	}
	q.speaking = false
}

func (q *Queue) play(ctx context.Context, item Item) error {
	chunks, errs := q.synth.Synthesize(ctx, tts.SynthRequest{
		Text:     item.Text,
		Language: item.Language,
	})
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				break
			}
			if err := q.sink.Play(ctx, chunk.PCM, chunk.SampleRate, chunk.Channels); err != nil {
				return err
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			errs = nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunks == nil && errs == nil {
			return nil
		}
	}
}

// Stop halts any in-progress playback and discards every pending item.
// A subsequent Enqueue starts immediately.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	if q.current != nil {
		q.current()
		q.current = nil
	}
	q.speaking = false
}

// Speaking reports whether an item is currently being synthesized or played.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Pending returns the number of queued items not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops playback and waits for the worker to exit.
func (q *Queue) Close() {
	q.Stop()
	q.cancel()
	q.wg.Wait()
}
