package nova

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// InferenceConfig controls model sampling for the session.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// DefaultInferenceConfig returns the standard sampling parameters for
// telephony sessions.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		MaxTokens:   1024,
		TopP:        0.9,
		Temperature: 0.7,
	}
}

// AudioConfig describes one direction of the session's audio format.
type AudioConfig struct {
	MediaType      string `json:"mediaType"`
	SampleRateHz   int    `json:"sampleRateHertz"`
	SampleSizeBits int    `json:"sampleSizeBits"`
	ChannelCount   int    `json:"channelCount"`
	AudioType      string `json:"audioType,omitempty"`
	Encoding       string `json:"encoding"`
	VoiceID        string `json:"voiceId,omitempty"`
}

// DefaultVoiceID is used when no prompt rule overrides the voice.
const DefaultVoiceID = "en_us_matthew"

func inputAudioConfig() AudioConfig {
	return AudioConfig{
		MediaType:      "audio/lpcm",
		SampleRateHz:   8000,
		SampleSizeBits: 16,
		ChannelCount:   1,
		AudioType:      "SPEECH",
		Encoding:       "base64",
	}
}

func outputAudioConfig(voiceID string) AudioConfig {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return AudioConfig{
		MediaType:      "audio/lpcm",
		SampleRateHz:   8000,
		SampleSizeBits: 16,
		ChannelCount:   1,
		AudioType:      "SPEECH",
		Encoding:       "base64",
		VoiceID:        voiceID,
	}
}

// ToolSpec declares one tool to the model: name, description, and a
// JSON Schema string for its input.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema string
}

// Writer serializes the outbound half of the protocol onto a Stream.
// Methods are not safe for concurrent use; callers serialize through
// the session's send path.
type Writer struct {
	stream     Stream
	promptName string
}

// NewWriter wraps a stream for the given prompt name, which scopes all
// content within the session.
func NewWriter(stream Stream, promptName string) *Writer {
	return &Writer{stream: stream, promptName: promptName}
}

// PromptName returns the prompt identifier used for all events.
func (w *Writer) PromptName() string { return w.promptName }

func (w *Writer) send(ctx context.Context, event map[string]any) error {
	raw, err := json.Marshal(map[string]any{"event": event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.stream.Send(ctx, raw)
}

// SessionStart opens the session with the given inference parameters.
func (w *Writer) SessionStart(ctx context.Context, inf InferenceConfig) error {
	return w.send(ctx, map[string]any{
		"sessionStart": map[string]any{
			"inferenceConfiguration": inf,
		},
	})
}

// PromptStart declares the prompt, its output audio format, and the
// available tools.
func (w *Writer) PromptStart(ctx context.Context, voiceID string, tools []ToolSpec) error {
	prompt := map[string]any{
		"promptName": w.promptName,
		"textOutputConfiguration": map[string]any{
			"mediaType": "text/plain",
		},
		"audioOutputConfiguration": outputAudioConfig(voiceID),
	}
	if len(tools) > 0 {
		specs := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			specs = append(specs, map[string]any{
				"toolSpec": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"inputSchema": map[string]any{"json": t.InputSchema},
				},
			})
		}
		prompt["toolUseOutputConfiguration"] = map[string]any{"mediaType": "application/json"}
		prompt["toolConfiguration"] = map[string]any{"tools": specs}
	}
	return w.send(ctx, map[string]any{"promptStart": prompt})
}

// SystemPrompt sends the system text as a complete TEXT content block.
func (w *Writer) SystemPrompt(ctx context.Context, contentName, text string) error {
	if err := w.send(ctx, map[string]any{
		"contentStart": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
			"type":        ContentTypeText,
			"role":        "SYSTEM",
			"interactive": true,
			"textInputConfiguration": map[string]any{
				"mediaType": "text/plain",
			},
		},
	}); err != nil {
		return err
	}
	if err := w.send(ctx, map[string]any{
		"textInput": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
			"content":     text,
		},
	}); err != nil {
		return err
	}
	return w.ContentEnd(ctx, contentName)
}

// AudioContentStart opens the uplink audio content block.
func (w *Writer) AudioContentStart(ctx context.Context, contentName string) error {
	return w.send(ctx, map[string]any{
		"contentStart": map[string]any{
			"promptName":              w.promptName,
			"contentName":             contentName,
			"type":                    ContentTypeAudio,
			"role":                    RoleUser,
			"interactive":             true,
			"audioInputConfiguration": inputAudioConfig(),
		},
	})
}

// AudioInput streams one chunk of uplink PCM, base64 encoded.
func (w *Writer) AudioInput(ctx context.Context, contentName string, pcm []byte) error {
	return w.send(ctx, map[string]any{
		"audioInput": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
			"content":     base64.StdEncoding.EncodeToString(pcm),
		},
	})
}

// ContentEnd closes an open content block.
func (w *Writer) ContentEnd(ctx context.Context, contentName string) error {
	return w.send(ctx, map[string]any{
		"contentEnd": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
		},
	})
}

// ToolResult sends the full tool result sequence for one invocation:
// a TOOL contentStart referencing the toolUseId, the result payload,
// and the closing contentEnd.
func (w *Writer) ToolResult(ctx context.Context, contentName, toolUseID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal tool result: %w", err)
	}
	if err := w.send(ctx, map[string]any{
		"contentStart": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
			"interactive": false,
			"type":        ContentTypeTool,
			"role":        "TOOL",
			"toolResultInputConfiguration": map[string]any{
				"toolUseId": toolUseID,
				"type":      ContentTypeText,
				"textInputConfiguration": map[string]any{
					"mediaType": "text/plain",
				},
			},
		},
	}); err != nil {
		return err
	}
	if err := w.send(ctx, map[string]any{
		"toolResult": map[string]any{
			"promptName":  w.promptName,
			"contentName": contentName,
			"content":     string(payload),
		},
	}); err != nil {
		return err
	}
	return w.ContentEnd(ctx, contentName)
}

// PromptEnd closes the prompt.
func (w *Writer) PromptEnd(ctx context.Context) error {
	return w.send(ctx, map[string]any{
		"promptEnd": map[string]any{
			"promptName": w.promptName,
		},
	})
}

// SessionEnd closes the session. Sent last, after PromptEnd.
func (w *Writer) SessionEnd(ctx context.Context) error {
	return w.send(ctx, map[string]any{"sessionEnd": map[string]any{}})
}
