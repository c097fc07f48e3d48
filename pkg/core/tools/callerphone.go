package tools

import (
	"context"
	"log/slog"
	"strings"
)

// CallerPhoneTool returns the caller's phone number, formatted so the
// voice reads it digit by digit with natural grouping.
type CallerPhoneTool struct {
	logger      *slog.Logger
	phoneNumber string
}

// NewCallerPhoneTool builds the tool from the dependency struct.
func NewCallerPhoneTool(deps Deps) *CallerPhoneTool {
	return &CallerPhoneTool{logger: deps.logger(), phoneNumber: deps.CallerNumber}
}

func (t *CallerPhoneTool) Name() string { return "getCallerPhoneTool" }

func (t *CallerPhoneTool) Description() string {
	return "Get the phone number of the current caller. Use this when you need to reference or verify the caller's phone number."
}

func (t *CallerPhoneTool) InputSchema() string { return EmptySchema }

func (t *CallerPhoneTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	t.logger.Info("returning caller phone number")
	return Result{
		"status":      "success",
		"phoneNumber": t.phoneNumber,
		"message":     "The caller's phone number is " + FormatPhoneForSpeech(t.phoneNumber),
	}, nil
}

// FormatPhoneForSpeech spaces out digits with grouping pauses so TTS
// reads a number the way a person would: "+1 4 4 3, 5 3 8, 3 5 4 8".
func FormatPhoneForSpeech(phoneNumber string) string {
	digits := keepDigitsAndPlus(phoneNumber)

	var b strings.Builder
	switch {
	case strings.HasPrefix(digits, "+1"):
		b.WriteString("+1 ")
		digits = digits[2:]
	case strings.HasPrefix(digits, "1") && len(digits) == 11:
		b.WriteString("1 ")
		digits = digits[1:]
	}

	if len(digits) == 10 {
		writeSpaced(&b, digits[0:3])
		b.WriteString(", ")
		writeSpaced(&b, digits[3:6])
		b.WriteString(", ")
		writeSpaced(&b, digits[6:10])
		return b.String()
	}

	digits = strings.TrimPrefix(digits, "+")
	writeSpaced(&b, digits)
	return b.String()
}

func keepDigitsAndPlus(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeSpaced(b *strings.Builder, digits string) {
	for i, r := range digits {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
}
