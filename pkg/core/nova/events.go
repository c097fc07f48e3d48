// Package nova implements the bidirectional event protocol used by the
// speech-to-speech model: outbound request envelopes and inbound
// response dispatch.
package nova

import "encoding/json"

// Stop reasons carried on contentEnd events.
const (
	StopReasonEndTurn     = "END_TURN"
	StopReasonPartialTurn = "PARTIAL_TURN"
	StopReasonInterrupted = "INTERRUPTED"
)

// Content channel types carried on contentStart/contentEnd events.
const (
	ContentTypeAudio = "AUDIO"
	ContentTypeText  = "TEXT"
	ContentTypeTool  = "TOOL"
)

// Roles on text content.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Envelope is one decoded protocol chunk. Exactly one of the nested
// payload pointers is set; the key present in the JSON identifies the
// event type.
type Envelope struct {
	Event *EventBody `json:"event,omitempty"`
}

// EventBody is the tagged union inside an envelope.
type EventBody struct {
	CompletionStart *CompletionStart `json:"completionStart,omitempty"`
	ContentStart    *ContentStart    `json:"contentStart,omitempty"`
	TextOutput      *TextOutput      `json:"textOutput,omitempty"`
	AudioOutput     *AudioOutput     `json:"audioOutput,omitempty"`
	ToolUse         *ToolUse         `json:"toolUse,omitempty"`
	ContentEnd      *ContentEnd      `json:"contentEnd,omitempty"`
	CompletionEnd   *CompletionEnd   `json:"completionEnd,omitempty"`
	UsageEvent      *UsageEvent      `json:"usageEvent,omitempty"`
}

// CompletionStart opens a model turn.
type CompletionStart struct {
	SessionID    string `json:"sessionId,omitempty"`
	PromptName   string `json:"promptName,omitempty"`
	CompletionID string `json:"completionId,omitempty"`
}

// ContentStart opens one content channel within a turn.
type ContentStart struct {
	PromptName            string          `json:"promptName,omitempty"`
	ContentName           string          `json:"contentName,omitempty"`
	Type                  string          `json:"type,omitempty"`
	Role                  string          `json:"role,omitempty"`
	AdditionalModelFields json.RawMessage `json:"additionalModelFields,omitempty"`
}

// TextOutput carries a transcript fragment for either role.
type TextOutput struct {
	ContentName string `json:"contentName,omitempty"`
	Role        string `json:"role,omitempty"`
	Content     string `json:"content,omitempty"`
}

// AudioOutput carries one base64-encoded PCM chunk of model speech.
type AudioOutput struct {
	ContentName string `json:"contentName,omitempty"`
	Content     string `json:"content,omitempty"`
}

// ToolUse announces a tool invocation. Content is the JSON argument
// payload as a string; arguments may be split across several toolUse
// events and are complete only at the TOOL contentEnd.
type ToolUse struct {
	ContentName string `json:"contentName,omitempty"`
	ToolUseID   string `json:"toolUseId,omitempty"`
	ToolName    string `json:"toolName,omitempty"`
	Content     string `json:"content,omitempty"`
}

// ContentEnd closes a content channel, carrying the stop reason.
type ContentEnd struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
	Type        string `json:"type,omitempty"`
	StopReason  string `json:"stopReason,omitempty"`
}

// CompletionEnd closes a model turn.
type CompletionEnd struct {
	PromptName   string `json:"promptName,omitempty"`
	CompletionID string `json:"completionId,omitempty"`
	StopReason   string `json:"stopReason,omitempty"`
}

// UsageEvent reports token consumption.
type UsageEvent struct {
	CompletionID string       `json:"completionId,omitempty"`
	Details      *UsageDetail `json:"details,omitempty"`
	TotalInput   int          `json:"totalInputTokens,omitempty"`
	TotalOutput  int          `json:"totalOutputTokens,omitempty"`
	TotalTokens  int          `json:"totalTokens,omitempty"`
}

// UsageDetail breaks usage down by modality.
type UsageDetail struct {
	Total *UsageBucket `json:"total,omitempty"`
	Delta *UsageBucket `json:"delta,omitempty"`
}

// UsageBucket holds input/output token counts for one accounting slice.
type UsageBucket struct {
	Input  *ModalityTokens `json:"input,omitempty"`
	Output *ModalityTokens `json:"output,omitempty"`
}

// ModalityTokens splits a count across speech and text.
type ModalityTokens struct {
	SpeechTokens int `json:"speechTokens,omitempty"`
	TextTokens   int `json:"textTokens,omitempty"`
}
