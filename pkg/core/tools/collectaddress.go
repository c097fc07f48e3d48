package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// CollectAddressTool collects the caller's address components and a
// confirmation flag, and returns the formatted address once confirmed.
// Validation against a postal service is a separate step handled by
// AddressValidationTool.
type CollectAddressTool struct {
	logger *slog.Logger
}

// NewCollectAddressTool builds the tool from the dependency struct.
func NewCollectAddressTool(deps Deps) *CollectAddressTool {
	return &CollectAddressTool{logger: deps.logger()}
}

func (t *CollectAddressTool) Name() string { return "collectAddressTool" }

func (t *CollectAddressTool) Description() string {
	return "Collect and confirm the caller's complete address including street, suite/apt (if present), " +
		"city, state, and zipcode. Returns the formatted address after caller confirmation. " +
		"Use sendSMSTool separately if the caller wants SMS confirmation."
}

func (t *CollectAddressTool) InputSchema() string {
	return `{"type":"object","properties":{` +
		`"street":{"type":"string","description":"Street address"},` +
		`"suite":{"type":"string","description":"Suite, apartment, or unit number (optional)"},` +
		`"city":{"type":"string","description":"City"},` +
		`"state":{"type":"string","description":"State (2-letter code or full name)"},` +
		`"zipcode":{"type":"string","description":"ZIP code"},` +
		`"confirmed":{"type":"boolean","description":"Whether caller confirmed the address is correct"}` +
		`},"required":["street","city","state","zipcode","confirmed"]}`
}

func (t *CollectAddressTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	var input struct {
		Street    string `json:"street"`
		Suite     string `json:"suite"`
		City      string `json:"city"`
		State     string `json:"state"`
		Zipcode   string `json:"zipcode"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		t.logger.Warn("unparseable address arguments", "tool_use_id", toolUseID, "error", err)
		return errorResult("There was an error processing the address. Please try again."), nil
	}

	if input.Street == "" || input.City == "" || input.State == "" || input.Zipcode == "" {
		t.logger.Warn("address collection missing required fields", "tool_use_id", toolUseID)
		return errorResult("Missing required address fields. Please provide street, city, state, and zipcode."), nil
	}
	if !input.Confirmed {
		t.logger.Info("address not confirmed by caller", "tool_use_id", toolUseID)
		return errorResult("Address was not confirmed by the caller. Please confirm before proceeding."), nil
	}

	full := formatAddress(input.Street, input.Suite, input.City, input.State, input.Zipcode)
	t.logger.Info("address collected and confirmed", "tool_use_id", toolUseID, "address", full)

	return Result{
		"status":  "success",
		"address": full,
		"street":  input.Street,
		"suite":   input.Suite,
		"city":    input.City,
		"state":   input.State,
		"zipcode": input.Zipcode,
		"message": "Address confirmed. IMPORTANT: Before calling addressValidationTool, you MUST tell the caller: " +
			"'Let me validate that address for you. This will just take a moment.' " +
			"ONLY after speaking, then call addressValidationTool.",
	}, nil
}

func formatAddress(street, suite, city, state, zipcode string) string {
	var b strings.Builder
	b.WriteString(street)
	if suite != "" {
		b.WriteString(", ")
		b.WriteString(suite)
	}
	b.WriteString(", ")
	b.WriteString(city)
	b.WriteString(", ")
	b.WriteString(state)
	b.WriteString(" ")
	b.WriteString(zipcode)
	return b.String()
}
