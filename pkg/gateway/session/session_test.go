package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-voip/pkg/core/audio"
	"github.com/vango-go/vai-voip/pkg/core/nova"
	"github.com/vango-go/vai-voip/pkg/gateway/config"
	"github.com/vango-go/vai-voip/pkg/gateway/telephony"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	mu       sync.Mutex
	sent     []map[string]any
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeStream) Send(ctx context.Context, data []byte) error {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	event, _ := envelope["event"].(map[string]any)
	f.mu.Lock()
	f.sent = append(f.sent, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-f.incoming:
		return chunk, nil
	case <-f.closed:
		return nil, errors.New("use of closed network connection")
	case <-ctx.Done():
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push feeds one inbound protocol chunk to the session.
func (f *fakeStream) push(t *testing.T, event map[string]any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case f.incoming <- raw:
	case <-time.After(time.Second):
		t.Fatal("session not consuming events")
	}
}

// waitForSent polls until a sent event contains the given top-level key.
func (f *fakeStream) waitForSent(t *testing.T, key string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, event := range f.sent {
			if payload, ok := event[key]; ok {
				f.mu.Unlock()
				return payload.(map[string]any)
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q event sent", key)
	return nil
}

func (f *fakeStream) sentEvents(key string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, event := range f.sent {
		if payload, ok := event[key]; ok {
			out = append(out, payload.(map[string]any))
		}
	}
	return out
}

type fakeBinding struct {
	done    chan struct{}
	hangups atomic.Int32

	mu     sync.Mutex
	uplink telephony.UplinkFunc
	source telephony.FrameSource
}

func newFakeBinding() *fakeBinding {
	return &fakeBinding{done: make(chan struct{})}
}

func (b *fakeBinding) binding() CallBinding {
	return CallBinding{
		ID:           "call-1",
		CallerNumber: "+15551234567",
		DialedNumber: "+18005550100",
		Header:       func(string) string { return "" },
		StartMedia: func(uplink telephony.UplinkFunc, source telephony.FrameSource) {
			b.mu.Lock()
			b.uplink = uplink
			b.source = source
			b.mu.Unlock()
		},
		Done:   b.done,
		Hangup: b.hangup,
	}
}

func (b *fakeBinding) hangup(context.Context) error {
	b.hangups.Add(1)
	return nil
}

func (b *fakeBinding) uplinkFunc(t *testing.T) telephony.UplinkFunc {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		uplink := b.uplink
		b.mu.Unlock()
		if uplink != nil {
			return uplink
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("media never started")
	return nil
}

func (b *fakeBinding) frameSource(t *testing.T) telephony.FrameSource {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		source := b.source
		b.mu.Unlock()
		if source != nil {
			return source
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("media never started")
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	attrs map[string]string
}

func (s *recordingSink) UpdateContactAttributes(instanceID, contactID string, attributes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = attributes
	return nil
}

func testConfig() config.Config {
	return config.Config{
		VoiceID:             "en_us_matthew",
		MaxTokens:           1024,
		TopP:                0.9,
		Temperature:         0.7,
		EnabledTools:        []string{"hangupTool", "getDateTimeTool"},
		Timezone:            "UTC",
		HangupGracePeriod:   50 * time.Millisecond,
		EndTurnCeiling:      500 * time.Millisecond,
		BargeInSquelch:      60 * time.Millisecond,
		DownlinkQueueFrames: 16,
	}
}

func startSession(t *testing.T, cfg config.Config) (*fakeStream, *fakeBinding, chan struct{}) {
	t.Helper()
	stream := newFakeStream()
	binding := newFakeBinding()

	prompts, err := config.LoadPrompts(cfg)
	if err != nil {
		t.Fatal(err)
	}
	manager := NewManager(testLogger(), cfg, prompts, nil, nil,
		func(ctx context.Context) (nova.Stream, error) { return stream, nil })

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		manager.RunCall(context.Background(), binding.binding())
	}()
	return stream, binding, finished
}

func waitDone(t *testing.T, finished chan struct{}) {
	t.Helper()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionOpensModelInOrder(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())

	start := stream.waitForSent(t, "sessionStart")
	inference := start["inferenceConfiguration"].(map[string]any)
	if inference["maxTokens"].(float64) != 1024 {
		t.Errorf("maxTokens = %v", inference["maxTokens"])
	}

	prompt := stream.waitForSent(t, "promptStart")
	toolCfg := prompt["toolConfiguration"].(map[string]any)
	if len(toolCfg["tools"].([]any)) != 2 {
		t.Errorf("tools = %v", toolCfg["tools"])
	}

	stream.waitForSent(t, "textInput")
	contentStarts := stream.sentEvents("contentStart")
	if len(contentStarts) < 2 {
		t.Fatalf("contentStart count = %d, want system text plus audio", len(contentStarts))
	}

	close(binding.done)
	waitDone(t, finished)
}

func TestSessionRunsToolAndReturnsResult(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	stream.waitForSent(t, "sessionStart")

	stream.push(t, map[string]any{"completionStart": map[string]any{"completionId": "c1"}})
	stream.push(t, map[string]any{"contentStart": map[string]any{"contentName": "t1", "type": "TOOL"}})
	stream.push(t, map[string]any{"toolUse": map[string]any{
		"contentName": "t1", "toolUseId": "use-1", "toolName": "getDateTimeTool", "content": "{}",
	}})
	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "t1", "type": "TOOL", "stopReason": "TOOL_USE",
	}})

	result := stream.waitForSent(t, "toolResult")
	if result["content"] == nil {
		t.Fatal("toolResult has no content")
	}
	content := result["content"].(string)
	if !strings.Contains(content, "Today is") || !strings.Contains(content, "UTC") {
		t.Errorf("tool result content = %q", content)
	}

	close(binding.done)
	waitDone(t, finished)
}

func TestSessionReportsUnknownToolAsError(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	stream.waitForSent(t, "sessionStart")

	stream.push(t, map[string]any{"contentStart": map[string]any{"contentName": "t1", "type": "TOOL"}})
	stream.push(t, map[string]any{"toolUse": map[string]any{
		"contentName": "t1", "toolUseId": "use-9", "toolName": "unknownTool", "content": "{}",
	}})
	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "t1", "type": "TOOL", "stopReason": "TOOL_USE",
	}})

	result := stream.waitForSent(t, "toolResult")
	content := result["content"].(string)
	if !strings.Contains(content, `"status":"error"`) {
		t.Errorf("unknown tool result = %q, want error status", content)
	}

	close(binding.done)
	waitDone(t, finished)
}

// loudUlawFrame returns one frame of μ-law audio at roughly half of
// full scale, well above the uplink gate thresholds.
func loudUlawFrame() []byte {
	pcm := make([]byte, audio.FrameBytes*2)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x40 // 16384
	}
	return audio.EncodeUlaw(pcm)
}

func TestUplinkGatesIdleSilence(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	uplink := binding.uplinkFunc(t)

	for i := 0; i < 5; i++ {
		uplink(audio.SilenceFrame())
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(stream.sentEvents("audioInput")); got != 0 {
		t.Fatalf("audioInput events = %d, want 0 before any speech", got)
	}

	uplink(loudUlawFrame())
	stream.waitForSent(t, "audioInput")
	speech := len(stream.sentEvents("audioInput"))

	// Silence right after speech is inside the hangover window and
	// still streamed so the model hears the utterance trail off.
	uplink(audio.SilenceFrame())
	deadline := time.Now().Add(time.Second)
	for len(stream.sentEvents("audioInput")) != speech+1 {
		if time.Now().After(deadline) {
			t.Fatalf("audioInput events = %d, want %d (hangover frame forwarded)",
				len(stream.sentEvents("audioInput")), speech+1)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(binding.done)
	waitDone(t, finished)
}

func TestInterruptionClearsQueuedPlayback(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	stream.waitForSent(t, "sessionStart")
	source := binding.frameSource(t)

	// Queue two frames of audible (non-silence) output.
	pcm := make([]byte, 2*audio.FrameBytes*2)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = 0xE8, 0x03
	}
	stream.push(t, map[string]any{"contentStart": map[string]any{"contentName": "a1", "type": "AUDIO"}})
	stream.push(t, map[string]any{"audioOutput": map[string]any{
		"contentName": "a1", "content": base64.StdEncoding.EncodeToString(pcm),
	}})

	deadline := time.Now().Add(2 * time.Second)
	heard := false
	for time.Now().Before(deadline) {
		if !bytes.Equal(source.ReadFrame(), audio.SilenceFrame()) {
			heard = true
			break
		}
	}
	if !heard {
		t.Fatal("queued audio never reached the frame source")
	}

	stream.push(t, map[string]any{"audioOutput": map[string]any{
		"contentName": "a1", "content": base64.StdEncoding.EncodeToString(pcm),
	}})
	time.Sleep(50 * time.Millisecond)
	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "a1", "type": "AUDIO", "stopReason": "INTERRUPTED",
	}})

	// Past the squelch window the queue must be empty: nothing but
	// silence comes out even though audio was queued before the cut.
	time.Sleep(150 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if !bytes.Equal(source.ReadFrame(), audio.SilenceFrame()) {
			t.Fatal("audio survived the interruption")
		}
	}

	close(binding.done)
	waitDone(t, finished)
}

func TestHangupToolEndsCallAfterBothEndTurns(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	stream.waitForSent(t, "sessionStart")

	stream.push(t, map[string]any{"contentStart": map[string]any{"contentName": "t1", "type": "TOOL"}})
	stream.push(t, map[string]any{"toolUse": map[string]any{
		"contentName": "t1", "toolUseId": "use-1", "toolName": "hangupTool", "content": "{}",
	}})
	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "t1", "type": "TOOL", "stopReason": "TOOL_USE",
	}})
	stream.waitForSent(t, "toolResult")

	// Farewell turn: only when both channels close with END_TURN does
	// the pending hangup fire.
	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "x1", "type": "TEXT", "stopReason": "END_TURN",
	}})
	select {
	case <-finished:
		t.Fatal("hangup fired on a single end-of-turn signal")
	case <-time.After(150 * time.Millisecond):
	}

	stream.push(t, map[string]any{"contentEnd": map[string]any{
		"contentName": "a1", "type": "AUDIO", "stopReason": "END_TURN",
	}})

	waitDone(t, finished)
	if binding.hangups.Load() == 0 {
		t.Error("gateway never hung up the call")
	}
	if len(stream.sentEvents("promptEnd")) == 0 || len(stream.sentEvents("sessionEnd")) == 0 {
		t.Error("model session not closed before hangup")
	}
}

func TestCallerHangupFlushesAttributesToSink(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectEnabled = true
	stream := newFakeStream()
	binding := newFakeBinding()
	sink := &recordingSink{}

	prompts, err := config.LoadPrompts(cfg)
	if err != nil {
		t.Fatal(err)
	}
	manager := NewManager(testLogger(), cfg, prompts, nil, sink,
		func(ctx context.Context) (nova.Stream, error) { return stream, nil })

	cb := binding.binding()
	cb.Header = func(name string) string {
		switch name {
		case "X-Connect-ContactId":
			return "contact-9"
		case "X-Connect-InstanceARN":
			return "arn:aws:connect:us-east-1:1:instance/inst-9"
		}
		return ""
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		manager.RunCall(context.Background(), cb)
	}()
	stream.waitForSent(t, "sessionStart")

	stream.push(t, map[string]any{"textOutput": map[string]any{
		"contentName": "u1", "role": "USER", "content": "hello there",
	}})
	stream.push(t, map[string]any{"textOutput": map[string]any{
		"contentName": "a1", "role": "ASSISTANT", "content": "Hi, how can I help?",
	}})
	time.Sleep(50 * time.Millisecond)

	close(binding.done)
	waitDone(t, finished)

	sink.mu.Lock()
	attrs := sink.attrs
	sink.mu.Unlock()
	if attrs == nil {
		t.Fatal("attributes never flushed")
	}
	if attrs["Nova_TurnCount"] != "2" {
		t.Errorf("Nova_TurnCount = %q", attrs["Nova_TurnCount"])
	}
	if !strings.Contains(attrs["Nova_Transcript"], "hello there") {
		t.Errorf("Nova_Transcript = %q", attrs["Nova_Transcript"])
	}
	if attrs["Nova_ConversationCompleted"] != "true" {
		t.Error("completion marker missing")
	}
}

func TestStreamCloseEndsCallWithHangup(t *testing.T) {
	stream, binding, finished := startSession(t, testConfig())
	stream.waitForSent(t, "sessionStart")

	// Malformed chunks are skipped; the connection closing underneath
	// the session must still tear the call down.
	stream.incoming <- []byte("{malformed")
	stream.Close()

	waitDone(t, finished)
	if binding.hangups.Load() == 0 {
		t.Error("call leg left up after stream failure")
	}
}
