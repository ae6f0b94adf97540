// Package progress streams machine-readable run events to an output stream,
// one JSON object per line, for external consumers to render live status.
// Emission never blocks the repair loop: events pass through a buffered
// channel to a single writer goroutine, and a saturated buffer drops events
// rather than stall an iteration.
package progress

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultBuffer = 256

// Emitter is the JSON-lines implementation of schemas.ProgressSink.
type Emitter struct {
	out    io.Writer
	events chan schemas.Event
	logger *zap.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

var _ schemas.ProgressSink = (*Emitter)(nil)

// NewEmitter wires an emitter to out. A non-positive buffer size selects the
// default.
func NewEmitter(out io.Writer, buffer int, logger *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		out:    out,
		events: make(chan schemas.Event, buffer),
		logger: logger.Named("progress"),
		stop:   make(chan struct{}),
	}
}

// Start launches the writer loop. It returns immediately; the loop runs until
// Stop is called or ctx is cancelled.
func (e *Emitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Emitter) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case ev := <-e.events:
			e.writeLine(ev)
		case <-ctx.Done():
			e.drain()
			return
		case <-e.stop:
			e.drain()
			return
		}
	}
}

// Emit queues an event for the writer. If the buffer is saturated the event
// is counted as dropped and the loop carries on; live status is advisory,
// repair progress is not.
func (e *Emitter) Emit(event schemas.Event) {
	select {
	case e.events <- event:
	default:
		e.dropped.Add(1)
	}
}

// Stop flushes buffered events and halts the writer. Safe to call more than
// once.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	e.wg.Wait()

	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("progress events dropped under load", zap.Int64("dropped", n))
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// drain empties whatever is buffered at shutdown so late events still reach
// the stream.
func (e *Emitter) drain() {
	for {
		select {
		case ev := <-e.events:
			e.writeLine(ev)
		default:
			return
		}
	}
}

func (e *Emitter) writeLine(ev schemas.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("could not encode progress event", zap.Error(err))
		return
	}
	if _, err := e.out.Write(append(data, '\n')); err != nil {
		e.logger.Warn("could not write progress event", zap.Error(err))
	}
}

// Discard is a ProgressSink that ignores every event, used when the progress
// stream is disabled.
type Discard struct{}

func (Discard) Emit(schemas.Event) {}
