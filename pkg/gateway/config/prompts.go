package config

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemPrompt is used when no prompt file is configured for the
// called number.
const DefaultSystemPrompt = "You are a friendly phone assistant. The caller reached you by dialing a " +
	"phone number, so speak naturally and keep responses short, conversational, and easy to follow " +
	"over the phone. Use the available tools when they help answer the caller's request. When the " +
	"conversation is finished, or the caller asks to end the call, use the hangup tool."

// PromptSelector resolves the system prompt for a call from the called
// number.
type PromptSelector struct {
	fallback string
	byNumber map[string]string
}

// LoadPrompts reads the configured prompt files. A missing fallback
// file is an error; per-number rule files are all required since a rule
// was explicitly configured.
func LoadPrompts(cfg Config) (*PromptSelector, error) {
	sel := &PromptSelector{
		fallback: DefaultSystemPrompt,
		byNumber: make(map[string]string),
	}

	if cfg.SystemPromptPath != "" {
		text, err := readPromptFile(cfg.SystemPromptPath)
		if err != nil {
			return nil, fmt.Errorf("load system prompt: %w", err)
		}
		sel.fallback = text
	}

	for _, rule := range cfg.PromptRules {
		text, err := readPromptFile(rule.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("load prompt for %s: %w", rule.Number, err)
		}
		for _, variant := range NumberVariants(rule.Number) {
			sel.byNumber[variant] = text
		}
	}

	return sel, nil
}

// Select returns the prompt for the called number, falling back to the
// default prompt.
func (s *PromptSelector) Select(calledNumber string) string {
	for _, variant := range NumberVariants(calledNumber) {
		if text, ok := s.byNumber[variant]; ok {
			return text
		}
	}
	return s.fallback
}

// Fallback returns the default prompt text.
func (s *PromptSelector) Fallback() string { return s.fallback }

func readPromptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return text, nil
}

// NumberVariants expands a phone number into the forms it may arrive
// as: with and without the leading + and US country code. "+15551234567"
// also matches "15551234567" and "5551234567".
func NumberVariants(number string) []string {
	digits := strings.TrimPrefix(strings.TrimSpace(number), "+")
	if digits == "" {
		return nil
	}

	seen := map[string]bool{}
	var variants []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	add(digits)
	add("+" + digits)
	if strings.HasPrefix(digits, "1") && len(digits) == 11 {
		add(digits[1:])
	} else if len(digits) == 10 {
		add("1" + digits)
		add("+1" + digits)
	}
	return variants
}

// NumberAccepted reports whether the called number matches the accept
// list. An empty list accepts every number.
func NumberAccepted(number string, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	candidates := map[string]bool{}
	for _, v := range NumberVariants(number) {
		candidates[v] = true
	}
	for _, a := range accepted {
		for _, v := range NumberVariants(a) {
			if candidates[v] {
				return true
			}
		}
	}
	return false
}
