package tools

import (
	"context"
	"log/slog"
)

// HangupTool lets the model end the call. Invocation does not hang up
// immediately: it arms the pending-hangup flag and asks the model to
// say goodbye, and the actual teardown waits for the farewell turn to
// finish on both the audio and text channels.
type HangupTool struct {
	logger        *slog.Logger
	requestHangup func()
}

// NewHangupTool builds the tool from the dependency struct.
func NewHangupTool(deps Deps) *HangupTool {
	return &HangupTool{logger: deps.logger(), requestHangup: deps.RequestHangup}
}

func (t *HangupTool) Name() string { return "hangupTool" }

func (t *HangupTool) Description() string {
	return "End the phone call when the conversation is complete or the caller requests to hang up"
}

func (t *HangupTool) InputSchema() string { return EmptySchema }

func (t *HangupTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	t.logger.Info("hangup tool invoked, call will end after the farewell turn")
	if t.requestHangup != nil {
		t.requestHangup()
	}
	return Result{
		"status":  "acknowledged",
		"message": "Please say goodbye to the caller.",
	}, nil
}
