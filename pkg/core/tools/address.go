package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// AddressValidationTool validates a US postal address through an
// external validation endpoint and relays its conversational guidance
// back to the model.
type AddressValidationTool struct {
	logger     *slog.Logger
	client     *http.Client
	serviceURL string
}

// NewAddressValidationTool builds the tool from the dependency struct.
func NewAddressValidationTool(deps Deps) *AddressValidationTool {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AddressValidationTool{
		logger:     deps.logger(),
		client:     client,
		serviceURL: deps.AddressValidationURL,
	}
}

func (t *AddressValidationTool) Name() string { return "addressValidationTool" }

func (t *AddressValidationTool) Description() string {
	return "Validates a US address using an address validation service. " +
		"Returns validation status and conversational guidance for the caller. " +
		"Use this after collecting address components to ensure the address is valid and deliverable."
}

func (t *AddressValidationTool) InputSchema() string {
	return `{"type":"object","properties":{` +
		`"street":{"type":"string","description":"Street address (e.g., '123 Main Street')"},` +
		`"suite":{"type":"string","description":"Apartment, suite, or unit number (optional)"},` +
		`"city":{"type":"string","description":"City name"},` +
		`"state":{"type":"string","description":"State abbreviation (e.g., 'MD', 'CA')"},` +
		`"zipcode":{"type":"string","description":"ZIP code (optional)"}` +
		`},"required":["street","city","state"]}`
}

func (t *AddressValidationTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	if t.serviceURL == "" {
		t.logger.Error("address validation endpoint not configured")
		return errorResult("Address validation service is not configured."), nil
	}

	var input struct {
		Street  string `json:"street"`
		Suite   string `json:"suite"`
		City    string `json:"city"`
		State   string `json:"state"`
		Zipcode string `json:"zipcode"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		t.logger.Warn("unparseable address arguments", "error", err)
		return errorResult("Invalid address request."), nil
	}
	if input.Street == "" || input.City == "" || input.State == "" {
		return errorResult("Missing required fields. Street, city, and state are required."), nil
	}

	payload := map[string]any{
		"street":     input.Street,
		"city":       input.City,
		"state":      input.State,
		"candidates": 5,
	}
	if input.Suite != "" {
		payload["suite"] = input.Suite
	}
	if input.Zipcode != "" {
		payload["zipcode"] = input.Zipcode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("address validation request failed", "error", err)
		return errorResult("I had trouble connecting to the address validation service. Please try again."), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		t.logger.Error("reading validation response failed", "error", err)
		return errorResult("I had trouble connecting to the address validation service. Please try again."), nil
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Error("address validation returned error status",
			"status", resp.StatusCode, "body", string(respBody))
		return errorResult("Address validation service returned an error. Please try again."), nil
	}

	var validation struct {
		Status                 string          `json:"status"`
		ConversationalResponse string          `json:"conversationalResponse"`
		StandardizedAddress    json.RawMessage `json:"standardizedAddress"`
		Suggestions            json.RawMessage `json:"suggestions"`
		SuggestedAction        string          `json:"suggestedAction"`
	}
	if err := json.Unmarshal(respBody, &validation); err != nil {
		t.logger.Error("unparseable validation response", "error", err)
		return errorResult("I had trouble validating that address."), nil
	}

	status := validation.Status
	if status == "" {
		status = "unknown"
	}
	message := validation.ConversationalResponse
	if message == "" {
		message = "I had trouble validating that address."
	}

	out := Result{"status": status, "message": message}
	if len(validation.StandardizedAddress) > 0 {
		out["standardizedAddress"] = validation.StandardizedAddress
	}
	if len(validation.Suggestions) > 0 {
		out["suggestions"] = validation.Suggestions
	}
	if validation.SuggestedAction != "" {
		out["suggestedAction"] = validation.SuggestedAction
	}

	t.logger.Info("address validation completed", "validation_status", status)
	return out, nil
}
