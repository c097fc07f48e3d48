package nova

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// Handler receives decoded model events in arrival order. All methods
// are invoked synchronously from the dispatch loop; implementations
// that need concurrency hand work off themselves.
type Handler interface {
	HandleCompletionStart(ev *CompletionStart)
	HandleContentStart(ev *ContentStart)
	HandleTextOutput(ev *TextOutput)
	HandleAudioOutput(ev *AudioOutput)
	HandleToolUse(ev *ToolUse)
	HandleContentEnd(ev *ContentEnd)
	HandleCompletionEnd(ev *CompletionEnd)
	HandleUsage(ev *UsageEvent)

	// OnError is called once when the stream fails; OnComplete once
	// when it ends cleanly. Exactly one of the two fires per run.
	OnError(err error)
	OnComplete()
}

// Dispatcher drains a Stream and routes each decoded event to a
// Handler. One dispatcher per session.
type Dispatcher struct {
	logger  *slog.Logger
	stream  Stream
	handler Handler
}

// NewDispatcher wires a stream to a handler.
func NewDispatcher(logger *slog.Logger, stream Stream, handler Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, stream: stream, handler: handler}
}

// Run reads chunks until the stream ends or ctx is cancelled. Malformed
// chunks are logged and skipped; they never abort the loop. Exactly one
// of OnError/OnComplete is invoked before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			d.handler.OnComplete()
			return
		}
		data, err := d.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || isNormalClose(err) {
				d.handler.OnComplete()
				return
			}
			if IsStreamExpired(err) {
				d.logger.Error("model closed its content window, session unrecoverable", "error", err)
				d.handler.OnError(ErrStreamExpired)
				return
			}
			d.handler.OnError(err)
			return
		}
		d.dispatch(data)
	}
}

func (d *Dispatcher) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Warn("skipping malformed model chunk", "error", err, "len", len(data))
		return
	}
	if env.Event == nil {
		d.logger.Debug("skipping chunk with no event body")
		return
	}

	ev := env.Event
	switch {
	case ev.CompletionStart != nil:
		d.handler.HandleCompletionStart(ev.CompletionStart)
	case ev.ContentStart != nil:
		d.handler.HandleContentStart(ev.ContentStart)
	case ev.TextOutput != nil:
		d.handler.HandleTextOutput(ev.TextOutput)
	case ev.AudioOutput != nil:
		d.handler.HandleAudioOutput(ev.AudioOutput)
	case ev.ToolUse != nil:
		d.handler.HandleToolUse(ev.ToolUse)
	case ev.ContentEnd != nil:
		d.handler.HandleContentEnd(ev.ContentEnd)
	case ev.CompletionEnd != nil:
		d.handler.HandleCompletionEnd(ev.CompletionEnd)
	case ev.UsageEvent != nil:
		d.handler.HandleUsage(ev.UsageEvent)
	default:
		d.logger.Debug("skipping unrecognized event type")
	}
}

func isNormalClose(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "normal closure") || strings.Contains(msg, "use of closed network connection")
}
