package nova

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedStream replays a fixed sequence of chunks, then a terminal
// error.
type scriptedStream struct {
	chunks [][]byte
	final  error
	pos    int
}

func (s *scriptedStream) Receive(ctx context.Context) ([]byte, error) {
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.final != nil {
		return nil, s.final
	}
	return nil, errors.New("websocket: close 1000 (normal closure)")
}

func (s *scriptedStream) Send(ctx context.Context, data []byte) error { return nil }
func (s *scriptedStream) Close() error                                { return nil }

// recordingHandler logs each callback in order.
type recordingHandler struct {
	calls     []string
	texts     []string
	errs      []error
	completes int
}

func (h *recordingHandler) HandleCompletionStart(*CompletionStart) {
	h.calls = append(h.calls, "completionStart")
}
func (h *recordingHandler) HandleContentStart(*ContentStart) {
	h.calls = append(h.calls, "contentStart")
}
func (h *recordingHandler) HandleTextOutput(ev *TextOutput) {
	h.calls = append(h.calls, "textOutput")
	h.texts = append(h.texts, ev.Content)
}
func (h *recordingHandler) HandleAudioOutput(*AudioOutput) {
	h.calls = append(h.calls, "audioOutput")
}
func (h *recordingHandler) HandleToolUse(*ToolUse) {
	h.calls = append(h.calls, "toolUse")
}
func (h *recordingHandler) HandleContentEnd(*ContentEnd) {
	h.calls = append(h.calls, "contentEnd")
}
func (h *recordingHandler) HandleCompletionEnd(*CompletionEnd) {
	h.calls = append(h.calls, "completionEnd")
}
func (h *recordingHandler) HandleUsage(*UsageEvent) {
	h.calls = append(h.calls, "usageEvent")
}
func (h *recordingHandler) OnError(err error) { h.errs = append(h.errs, err) }
func (h *recordingHandler) OnComplete()       { h.completes++ }

func TestDispatchOrderMatchesArrival(t *testing.T) {
	stream := &scriptedStream{chunks: [][]byte{
		[]byte(`{"event":{"completionStart":{"completionId":"c1"}}}`),
		[]byte(`{"event":{"contentStart":{"contentName":"a1","type":"AUDIO","role":"ASSISTANT"}}}`),
		[]byte(`{"event":{"audioOutput":{"contentName":"a1","content":"AAAA"}}}`),
		[]byte(`{"event":{"textOutput":{"role":"ASSISTANT","content":"hello"}}}`),
		[]byte(`{"event":{"contentEnd":{"contentName":"a1","type":"AUDIO","stopReason":"END_TURN"}}}`),
		[]byte(`{"event":{"completionEnd":{"completionId":"c1"}}}`),
		[]byte(`{"event":{"usageEvent":{"totalTokens":42}}}`),
	}}
	h := &recordingHandler{}

	NewDispatcher(testLogger(), stream, h).Run(context.Background())

	want := []string{"completionStart", "contentStart", "audioOutput", "textOutput", "contentEnd", "completionEnd", "usageEvent"}
	if len(h.calls) != len(want) {
		t.Fatalf("dispatched %d events, want %d: %v", len(h.calls), len(want), h.calls)
	}
	for i, name := range want {
		if h.calls[i] != name {
			t.Errorf("call %d = %q, want %q", i, h.calls[i], name)
		}
	}
	if len(h.texts) != 1 || h.texts[0] != "hello" {
		t.Errorf("text payloads = %v, want [hello]", h.texts)
	}
	if h.completes != 1 {
		t.Errorf("OnComplete fired %d times, want 1", h.completes)
	}
	if len(h.errs) != 0 {
		t.Errorf("OnError fired unexpectedly: %v", h.errs)
	}
}

func TestMalformedChunkSkippedNotFatal(t *testing.T) {
	stream := &scriptedStream{chunks: [][]byte{
		[]byte(`{"event":{"textOutput":{"content":"before"}}}`),
		[]byte(`{not json`),
		[]byte(`{"unrelated":true}`),
		[]byte(`{"event":{"textOutput":{"content":"after"}}}`),
	}}
	h := &recordingHandler{}

	NewDispatcher(testLogger(), stream, h).Run(context.Background())

	if len(h.texts) != 2 || h.texts[0] != "before" || h.texts[1] != "after" {
		t.Fatalf("text payloads = %v, want [before after]", h.texts)
	}
	if h.completes != 1 || len(h.errs) != 0 {
		t.Fatalf("completes=%d errs=%v, want clean completion", h.completes, h.errs)
	}
}

func TestStreamExpiredSurfacesAsSentinel(t *testing.T) {
	stream := &scriptedStream{
		chunks: [][]byte{[]byte(`{"event":{"textOutput":{"content":"partial"}}}`)},
		final:  errors.New("ValidationException: No open content found for prompt"),
	}
	h := &recordingHandler{}

	NewDispatcher(testLogger(), stream, h).Run(context.Background())

	if len(h.errs) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(h.errs))
	}
	if !errors.Is(h.errs[0], ErrStreamExpired) {
		t.Fatalf("error = %v, want ErrStreamExpired", h.errs[0])
	}
	if h.completes != 0 {
		t.Fatal("OnComplete must not fire after OnError")
	}
}

func TestTransportErrorReportedOnce(t *testing.T) {
	stream := &scriptedStream{final: errors.New("read tcp: connection reset by peer")}
	h := &recordingHandler{}

	NewDispatcher(testLogger(), stream, h).Run(context.Background())

	if len(h.errs) != 1 || h.completes != 0 {
		t.Fatalf("errs=%v completes=%d, want exactly one error", h.errs, h.completes)
	}
}

func TestIsStreamExpired(t *testing.T) {
	if !IsStreamExpired(ErrStreamExpired) {
		t.Error("sentinel not recognized")
	}
	if !IsStreamExpired(errors.New("model fault: No open content found")) {
		t.Error("marker substring not recognized")
	}
	if IsStreamExpired(errors.New("connection reset")) {
		t.Error("unrelated error misclassified")
	}
	if IsStreamExpired(nil) {
		t.Error("nil misclassified")
	}
}
