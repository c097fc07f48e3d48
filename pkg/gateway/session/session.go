// Package session orchestrates one phone call: it bridges the SIP/RTP
// media leg with a model stream, runs the turn state machine, and
// dispatches tool invocations.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voip/pkg/core/audio"
	"github.com/vango-go/vai-voip/pkg/core/conversation"
	"github.com/vango-go/vai-voip/pkg/core/nova"
	"github.com/vango-go/vai-voip/pkg/core/tools"
	"github.com/vango-go/vai-voip/pkg/core/turn"
	"github.com/vango-go/vai-voip/pkg/gateway/config"
	"github.com/vango-go/vai-voip/pkg/gateway/connect"
	"github.com/vango-go/vai-voip/pkg/gateway/telephony"
)

const (
	teardownTimeout   = 2 * time.Second
	hangupTimeout     = 5 * time.Second
	dispatcherLinger  = 3 * time.Second
	toolDispatchLimit = 30 * time.Second

	// Uplink silence gate: frames below both thresholds are not
	// streamed to the model once the hangover after the last speech
	// frame has elapsed. The hangover keeps the trailing edge of an
	// utterance intact for the model's own end-of-speech detection.
	uplinkEnergyThreshold = 0.02
	uplinkPeakThreshold   = 0.05
	uplinkHangoverFrames  = 25 // 500ms at one frame per 20ms
)

// CallBinding is the slice of a call leg the session needs. The
// telephony server provides the real one; tests provide fakes.
type CallBinding struct {
	ID           string
	CallerNumber string
	DialedNumber string
	// Header looks up a SIP header from the INVITE.
	Header func(name string) string
	// StartMedia begins RTP flow with the given uplink and frame source.
	StartMedia func(uplink telephony.UplinkFunc, source telephony.FrameSource)
	// Done closes when the caller hangs up.
	Done <-chan struct{}
	// Hangup ends the call from the gateway side.
	Hangup func(ctx context.Context) error
}

// DialFunc opens the model stream for a new session.
type DialFunc func(ctx context.Context) (nova.Stream, error)

// Manager builds and runs a Session per answered call. It implements
// the telephony server's CallHandler.
type Manager struct {
	logger  *slog.Logger
	cfg     config.Config
	prompts *config.PromptSelector
	sms     tools.SMSSender
	sink    connect.AttributeSink
	dial    DialFunc

	active atomic.Int64
}

func NewManager(logger *slog.Logger, cfg config.Config, prompts *config.PromptSelector, sms tools.SMSSender, sink connect.AttributeSink, dial DialFunc) *Manager {
	return &Manager{
		logger:  logger,
		cfg:     cfg,
		prompts: prompts,
		sms:     sms,
		sink:    sink,
		dial:    dial,
	}
}

// ActiveSessions reports how many calls are currently bridged.
func (m *Manager) ActiveSessions() int {
	return int(m.active.Load())
}

// HandleCall runs the session for one answered call and returns when
// the call has ended.
func (m *Manager) HandleCall(ctx context.Context, call *telephony.Call) {
	binding := CallBinding{
		ID:           call.ID,
		CallerNumber: call.CallerNumber,
		DialedNumber: call.DialedNumber,
		Header:       call.Header,
		StartMedia:   call.RTP.Start,
		Done:         call.Done(),
		Hangup:       call.Hangup,
	}
	m.RunCall(ctx, binding)
}

// RunCall is HandleCall minus the concrete telephony types.
func (m *Manager) RunCall(ctx context.Context, binding CallBinding) {
	m.active.Add(1)
	defer m.active.Add(-1)

	logger := m.logger.With("call_id", binding.ID, "caller", binding.CallerNumber)

	var meta *connect.CallMetadata
	if m.cfg.ConnectEnabled {
		meta = connect.FromHeaders(logger, connect.HeaderGetter(binding.Header))
	}

	s := &Session{
		logger:   logger,
		cfg:      m.cfg,
		binding:  binding,
		prompt:   callPrompt(m.prompts.Select(binding.DialedNumber), binding),
		sink:     m.sink,
		dial:     m.dial,
		downlink: audio.NewDownlinkBuffer(logger, m.cfg.DownlinkQueueFrames),
		tracker:  conversation.NewTracker(logger),
		attrs:    connect.NewAttributeManager(logger, meta),
		stopped:  make(chan struct{}),
	}
	s.machine = turn.NewMachine(logger, turn.Config{
		GracePeriod:   m.cfg.HangupGracePeriod,
		SignalCeiling: m.cfg.EndTurnCeiling,
		Squelch:       m.cfg.BargeInSquelch,
	}, s.downlink)

	registry, err := tools.BuildRegistry(logger, tools.Deps{
		Logger:               logger,
		CallerNumber:         binding.CallerNumber,
		SMS:                  m.sms,
		OTP:                  tools.NewOTPStore(),
		HTTPClient:           &http.Client{Timeout: 15 * time.Second},
		Timezone:             m.cfg.Timezone,
		AddressValidationURL: m.cfg.AddressValidationURL,
		RequestHangup:        s.machine.RequestHangup,
	}, m.cfg.EnabledTools)
	if err != nil {
		logger.Error("tool registry build failed", "error", err)
		s.hangupCall()
		return
	}
	s.registry = registry

	s.run(ctx)
}

// callPrompt appends per-call context so the model can answer
// questions about the call itself.
func callPrompt(base string, binding CallBinding) string {
	var b strings.Builder
	b.WriteString(base)
	if binding.CallerNumber != "" {
		fmt.Fprintf(&b, "\n\nThe caller's phone number is %s.", binding.CallerNumber)
	}
	if binding.DialedNumber != "" {
		fmt.Fprintf(&b, " The caller reached you by dialing %s.", binding.DialedNumber)
	}
	return b.String()
}

// Session is the per-call orchestrator. It implements nova.Handler;
// handler methods run on the dispatcher goroutine.
type Session struct {
	logger  *slog.Logger
	cfg     config.Config
	binding CallBinding
	prompt  string
	sink    connect.AttributeSink
	dial    DialFunc

	stream  nova.Stream
	writer  *nova.Writer
	writeMu sync.Mutex

	downlink *audio.DownlinkBuffer
	machine  *turn.Machine
	registry *tools.Registry
	tracker  *conversation.Tracker
	attrs    *connect.AttributeManager

	audioContent string
	uplinkOn     atomic.Bool

	// Uplink gate state. RTP receive goroutine only.
	uplinkHangover int

	// Tool argument accumulation. Dispatcher goroutine only.
	toolUseID string
	toolName  string
	toolArgs  []byte

	stopOnce   sync.Once
	stopped    chan struct{}
	stopReason atomic.Value

	toolWG sync.WaitGroup
}

func (s *Session) stop(reason string) {
	s.stopOnce.Do(func() {
		s.stopReason.Store(reason)
		close(s.stopped)
	})
}

func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.dial(ctx)
	if err != nil {
		s.logger.Error("model dial failed", "error", err)
		s.hangupCall()
		return
	}
	s.stream = stream
	s.writer = nova.NewWriter(stream, uuid.NewString())
	s.audioContent = uuid.NewString()

	if err := s.openModelSession(ctx); err != nil {
		s.logger.Error("model session setup failed", "error", err)
		stream.Close()
		s.hangupCall()
		return
	}

	s.machine.SetCallbacks(s.onBargeIn, func() { s.stop("model_hangup") })

	dispatchDone := make(chan struct{})
	dispatcher := nova.NewDispatcher(s.logger, stream, s)
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx)
	}()

	s.uplinkOn.Store(true)
	s.binding.StartMedia(s.uplink, s.downlink)
	s.logger.Info("session bridged", "prompt_name", s.writer.PromptName())

	select {
	case <-s.binding.Done:
		s.stop("caller_bye")
	case <-ctx.Done():
		s.stop("shutdown")
	case <-s.stopped:
	}

	reason, _ := s.stopReason.Load().(string)
	s.logger.Info("session ending", "reason", reason)
	s.teardown(cancel, dispatchDone, reason)
}

func (s *Session) openModelSession(ctx context.Context) error {
	inference := nova.InferenceConfig{
		MaxTokens:   s.cfg.MaxTokens,
		TopP:        s.cfg.TopP,
		Temperature: s.cfg.Temperature,
	}
	if err := s.writer.SessionStart(ctx, inference); err != nil {
		return err
	}
	if err := s.writer.PromptStart(ctx, s.cfg.VoiceID, s.toolSpecs()); err != nil {
		return err
	}
	if err := s.writer.SystemPrompt(ctx, uuid.NewString(), s.prompt); err != nil {
		return err
	}
	return s.writer.AudioContentStart(ctx, s.audioContent)
}

func (s *Session) toolSpecs() []nova.ToolSpec {
	names := s.registry.Names()
	specs := make([]nova.ToolSpec, 0, len(names))
	for _, name := range names {
		tool, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		specs = append(specs, nova.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return specs
}

// uplink forwards one caller RTP payload to the model. Pure silence
// and line noise are gated out so idle frames are not streamed.
func (s *Session) uplink(payload []byte) {
	if !s.uplinkOn.Load() {
		return
	}
	pcm := audio.DecodeUlaw(payload)
	if !s.gateOpen(pcm) {
		return
	}

	s.writeMu.Lock()
	err := s.writer.AudioInput(context.Background(), s.audioContent, pcm)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debug("uplink send failed", "error", err)
	}
}

// gateOpen reports whether a decoded uplink frame should reach the
// model. Speech re-arms the hangover window; frames after it closes
// are dropped. Called only from the RTP receive goroutine.
func (s *Session) gateOpen(pcm []byte) bool {
	if audio.RMSEnergy(pcm) >= uplinkEnergyThreshold ||
		audio.PeakAmplitude(pcm) >= uplinkPeakThreshold {
		s.uplinkHangover = uplinkHangoverFrames
		return true
	}
	if s.uplinkHangover > 0 {
		s.uplinkHangover--
		return true
	}
	return false
}

func (s *Session) onBargeIn(count int) {
	s.attrs.RecordBargeIn()
	s.logger.Info("barge-in", "count", count, "queue_frames", s.downlink.Len())
}

// teardown unwinds the session in order: stop the uplink, close the
// model session politely, wait for the dispatcher, hang up the leg if
// the caller has not already, then flush contact attributes.
func (s *Session) teardown(cancel context.CancelFunc, dispatchDone <-chan struct{}, reason string) {
	s.uplinkOn.Store(false)
	s.machine.Shutdown()

	endCtx, endCancel := context.WithTimeout(context.Background(), teardownTimeout)
	s.writeMu.Lock()
	_ = s.writer.ContentEnd(endCtx, s.audioContent)
	_ = s.writer.PromptEnd(endCtx)
	_ = s.writer.SessionEnd(endCtx)
	s.writeMu.Unlock()
	endCancel()
	s.stream.Close()

	cancel()
	select {
	case <-dispatchDone:
	case <-time.After(dispatcherLinger):
		s.logger.Warn("dispatcher did not stop in time")
	}
	s.toolWG.Wait()

	if reason != "caller_bye" {
		s.hangupCall()
	}

	s.attrs.Merge(s.tracker.Attributes())
	if s.sink != nil {
		s.attrs.Flush(s.sink)
	}
	s.logger.Info("session closed",
		"reason", reason,
		"turns", s.tracker.TurnCount(),
		"barge_ins", s.machine.BargeIns(),
		"dropped_frames", s.downlink.Dropped())
}

func (s *Session) hangupCall() {
	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := s.binding.Hangup(ctx); err != nil {
		s.logger.Warn("hangup failed", "error", err)
	}
}
