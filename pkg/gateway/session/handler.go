package session

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voip/pkg/core/nova"
)

// interruptedMarker appears as assistant text when the model confirms
// a barge-in instead of closing the content with INTERRUPTED.
const interruptedMarker = `{ "interrupted" : true }`

func (s *Session) HandleCompletionStart(ev *nova.CompletionStart) {
	s.logger.Debug("completion started", "completion_id", ev.CompletionID)
}

func (s *Session) HandleContentStart(ev *nova.ContentStart) {
	if ev.Type == nova.ContentTypeAudio {
		s.machine.ModelSpeaking()
		s.attrs.RecordModelOutputStart()
	}
}

func (s *Session) HandleTextOutput(ev *nova.TextOutput) {
	text := strings.TrimSpace(ev.Content)
	if text == "" {
		return
	}
	if text == interruptedMarker {
		s.machine.Interrupted()
		return
	}

	switch ev.Role {
	case nova.RoleUser:
		s.tracker.AddUserTurn(text)
		s.attrs.AddUserTranscript(text)
	case nova.RoleAssistant:
		s.tracker.AddAssistantTurn(text)
		s.attrs.AddModelTranscript(text)
	}
}

func (s *Session) HandleAudioOutput(ev *nova.AudioOutput) {
	pcm, err := base64.StdEncoding.DecodeString(ev.Content)
	if err != nil {
		s.logger.Warn("dropping undecodable audio chunk", "error", err)
		return
	}
	s.downlink.Append(pcm)
}

// HandleToolUse accumulates tool arguments. The model may split the
// JSON payload across several events; it is complete only at the TOOL
// contentEnd.
func (s *Session) HandleToolUse(ev *nova.ToolUse) {
	if ev.ToolUseID != s.toolUseID {
		s.toolUseID = ev.ToolUseID
		s.toolName = ev.ToolName
		s.toolArgs = s.toolArgs[:0]
	}
	if s.toolName == "" {
		s.toolName = ev.ToolName
	}
	s.toolArgs = append(s.toolArgs, ev.Content...)
}

func (s *Session) HandleContentEnd(ev *nova.ContentEnd) {
	if ev.StopReason == nova.StopReasonInterrupted {
		s.machine.Interrupted()
		return
	}

	switch ev.Type {
	case nova.ContentTypeTool:
		s.dispatchPendingTool()
	case nova.ContentTypeAudio:
		if ev.StopReason == nova.StopReasonEndTurn {
			s.downlink.EndOfTurn()
			s.machine.EndTurn(nova.ContentTypeAudio)
		}
	case nova.ContentTypeText:
		if ev.StopReason == nova.StopReasonEndTurn {
			s.machine.EndTurn(nova.ContentTypeText)
		}
	}
}

// dispatchPendingTool runs the accumulated invocation off the
// dispatcher goroutine so a slow tool cannot stall event handling.
func (s *Session) dispatchPendingTool() {
	if s.toolUseID == "" {
		return
	}
	name := s.toolName
	toolUseID := s.toolUseID
	args := string(s.toolArgs)
	s.toolUseID = ""
	s.toolName = ""
	s.toolArgs = s.toolArgs[:0]

	s.toolWG.Add(1)
	go func() {
		defer s.toolWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), toolDispatchLimit)
		defer cancel()

		result := s.registry.Dispatch(ctx, name, toolUseID, args)
		s.attrs.RecordToolInvocation(name, args)

		s.writeMu.Lock()
		err := s.writer.ToolResult(ctx, uuid.NewString(), toolUseID, result)
		s.writeMu.Unlock()
		if err != nil {
			s.logger.Error("tool result send failed", "tool", name, "error", err)
		}
	}()
}

func (s *Session) HandleCompletionEnd(ev *nova.CompletionEnd) {
	s.logger.Debug("completion ended",
		"completion_id", ev.CompletionID, "stop_reason", ev.StopReason)
}

func (s *Session) HandleUsage(ev *nova.UsageEvent) {
	s.logger.Debug("usage",
		"input_tokens", ev.TotalInput,
		"output_tokens", ev.TotalOutput,
		"total_tokens", ev.TotalTokens)
}

func (s *Session) OnError(err error) {
	if nova.IsStreamExpired(err) {
		s.logger.Error("model stream expired, ending call", "error", err)
	} else {
		s.logger.Error("model stream failed", "error", err)
	}
	s.stop("stream_error")
}

func (s *Session) OnComplete() {
	s.stop("stream_complete")
}
