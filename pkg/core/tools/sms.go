package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// SMSSender delivers one text message. The production implementation
// uses AWS Pinpoint; tests substitute a fake.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// e164Pattern validates normalized phone numbers: optional +, then a
// non-zero leading digit and up to 14 more.
var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// NormalizePhoneNumber strips spaces, parentheses, hyphens, and dots
// while keeping a leading +.
func NormalizePhoneNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '(', ')', '-', '.':
			return -1
		}
		return r
	}, s)
}

// ValidPhoneNumber reports whether the normalized number is plausible
// E.164.
func ValidPhoneNumber(normalized string) bool {
	return e164Pattern.MatchString(normalized)
}

// SendSMSTool sends an arbitrary text message, defaulting to the
// caller's own number when none is given.
type SendSMSTool struct {
	logger       *slog.Logger
	sender       SMSSender
	callerNumber string
}

// NewSendSMSTool builds the tool from the dependency struct.
func NewSendSMSTool(deps Deps) *SendSMSTool {
	return &SendSMSTool{logger: deps.logger(), sender: deps.SMS, callerNumber: deps.CallerNumber}
}

func (t *SendSMSTool) Name() string { return "sendSMSTool" }

func (t *SendSMSTool) Description() string {
	return "Send an SMS text message to a phone number. Can send to the caller's number or any other phone number they provide. " +
		"Use this to send confirmations, information, or any text content the user requests via SMS."
}

func (t *SendSMSTool) InputSchema() string {
	return `{"type":"object","properties":{` +
		`"message":{"type":"string","description":"The text message to send"},` +
		`"phoneNumber":{"type":"string","description":"Phone number to send SMS to (include country code, e.g., +1234567890). If not provided, sends to caller's number."}` +
		`},"required":["message"]}`
}

func (t *SendSMSTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	var input struct {
		Message     string `json:"message"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		t.logger.Warn("unparseable SMS tool arguments", "error", err)
		return errorResult("Invalid SMS request."), nil
	}
	if input.Message == "" {
		return errorResult("No message content provided. Please specify what to send."), nil
	}

	phoneNumber := input.PhoneNumber
	if phoneNumber == "" {
		phoneNumber = t.callerNumber
	}
	normalized := NormalizePhoneNumber(phoneNumber)
	if !ValidPhoneNumber(normalized) {
		t.logger.Warn("invalid SMS destination", "normalized", normalized)
		return errorResult("Invalid phone number format. Please provide a valid phone number with country code."), nil
	}

	if t.sender == nil {
		return errorResult("SMS service is not configured."), nil
	}
	if err := t.sender.Send(ctx, normalized, input.Message); err != nil {
		t.logger.Error("SMS send failed", "error", err)
		return errorResult("Failed to send SMS. There may be an issue with the messaging service."), nil
	}

	spoken := "your number"
	if phoneNumber != t.callerNumber {
		spoken = FormatPhoneForSpeech(phoneNumber)
	}
	return Result{
		"status":      "success",
		"phoneNumber": normalized,
		"message":     fmt.Sprintf("SMS sent successfully to %s.", spoken),
	}, nil
}
