// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// SIP listener.
	SIPListenAddr string
	SIPTransport  string
	// PublicIP is the address advertised in SDP answers. Empty means
	// use the listener address.
	PublicIP string

	// RTP port range for media legs.
	RTPPortMin int
	RTPPortMax int

	// AcceptedNumbers restricts which called numbers are answered.
	// Empty accepts every call.
	AcceptedNumbers []string

	// Model stream endpoint and identity.
	ModelEndpoint string
	ModelAPIKey   string
	VoiceID       string

	// Sampling parameters for the model session.
	MaxTokens   int
	TopP        float64
	Temperature float64

	// SystemPromptPath is the fallback prompt file; PromptRules
	// override it per called number ("number=path" pairs).
	SystemPromptPath string
	PromptRules      []PromptRule

	// EnabledTools lists the tool names offered to the model.
	EnabledTools []string

	Timezone string

	// AWS integrations.
	AWSRegion                 string
	PinpointApplicationID     string
	PinpointOriginationNumber string
	AddressValidationURL      string
	ConnectEnabled            bool

	// Turn timings.
	HangupGracePeriod time.Duration
	EndTurnCeiling    time.Duration
	BargeInSquelch    time.Duration

	// Downlink queue capacity in frames.
	DownlinkQueueFrames int

	// Admin HTTP listener for health and readiness.
	AdminAddr string

	ShutdownGracePeriod time.Duration
}

// PromptRule maps one called number to a prompt file.
type PromptRule struct {
	Number     string
	PromptPath string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		SIPListenAddr:             envOr("VOIP_SIP_LISTEN_ADDR", "0.0.0.0:5060"),
		SIPTransport:              strings.ToLower(envOr("VOIP_SIP_TRANSPORT", "udp")),
		PublicIP:                  envOr("VOIP_PUBLIC_IP", ""),
		RTPPortMin:                envIntOr("VOIP_RTP_PORT_MIN", 10000),
		RTPPortMax:                envIntOr("VOIP_RTP_PORT_MAX", 20000),
		AcceptedNumbers:           splitCSV(os.Getenv("VOIP_ACCEPTED_NUMBERS")),
		ModelEndpoint:             envOr("VOIP_MODEL_ENDPOINT", ""),
		ModelAPIKey:               envOr("VOIP_MODEL_API_KEY", ""),
		VoiceID:                   envOr("VOIP_VOICE_ID", "en_us_matthew"),
		MaxTokens:                 envIntOr("VOIP_MAX_TOKENS", 1024),
		TopP:                      envFloat64Or("VOIP_TOP_P", 0.9),
		Temperature:               envFloat64Or("VOIP_TEMPERATURE", 0.7),
		SystemPromptPath:          envOr("VOIP_SYSTEM_PROMPT_PATH", ""),
		Timezone:                  envOr("TZ", "America/Los_Angeles"),
		AWSRegion:                 envOr("AWS_REGION", "us-east-1"),
		PinpointApplicationID:     envOr("PINPOINT_APPLICATION_ID", ""),
		PinpointOriginationNumber: envOr("PINPOINT_ORIGINATION_NUMBER", ""),
		AddressValidationURL:      envOr("ADDRESS_VALIDATION_LAMBDA_URL", ""),
		ConnectEnabled:            envBoolOr("VOIP_CONNECT_ENABLED", false),
		HangupGracePeriod:         envDurationOr("VOIP_HANGUP_GRACE_PERIOD", 3*time.Second),
		EndTurnCeiling:            envDurationOr("VOIP_END_TURN_CEILING", 15*time.Second),
		BargeInSquelch:            envDurationOr("VOIP_BARGE_IN_SQUELCH", 200*time.Millisecond),
		DownlinkQueueFrames:       envIntOr("VOIP_DOWNLINK_QUEUE_FRAMES", 400),
		AdminAddr:                 envOr("VOIP_ADMIN_ADDR", ":8081"),
		ShutdownGracePeriod:       envDurationOr("VOIP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if tools := os.Getenv("VOIP_ENABLED_TOOLS"); strings.TrimSpace(tools) != "" {
		cfg.EnabledTools = splitCSV(tools)
	} else {
		cfg.EnabledTools = []string{
			"hangupTool", "getDateTimeTool", "getCallerPhoneTool",
			"sendSMSTool", "sendOTPTool", "verifyOTPTool",
			"collectAddressTool", "addressValidationTool",
		}
	}

	rules, err := parsePromptRules(os.Getenv("VOIP_PROMPT_RULES"))
	if err != nil {
		return Config{}, err
	}
	cfg.PromptRules = rules

	switch cfg.SIPTransport {
	case "udp", "tcp":
	default:
		return Config{}, fmt.Errorf("VOIP_SIP_TRANSPORT must be udp or tcp")
	}
	if cfg.RTPPortMin <= 0 || cfg.RTPPortMax <= 0 || cfg.RTPPortMin >= cfg.RTPPortMax {
		return Config{}, fmt.Errorf("VOIP_RTP_PORT_MIN must be < VOIP_RTP_PORT_MAX and both > 0")
	}
	if cfg.RTPPortMin%2 != 0 {
		return Config{}, fmt.Errorf("VOIP_RTP_PORT_MIN must be even (RTP convention)")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOIP_MAX_TOKENS must be > 0")
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		return Config{}, fmt.Errorf("VOIP_TOP_P must be in (0, 1]")
	}
	if cfg.Temperature < 0 {
		return Config{}, fmt.Errorf("VOIP_TEMPERATURE must be >= 0")
	}
	if cfg.HangupGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOIP_HANGUP_GRACE_PERIOD must be > 0")
	}
	if cfg.EndTurnCeiling <= cfg.HangupGracePeriod {
		return Config{}, fmt.Errorf("VOIP_END_TURN_CEILING must be > VOIP_HANGUP_GRACE_PERIOD")
	}
	if cfg.BargeInSquelch <= 0 {
		return Config{}, fmt.Errorf("VOIP_BARGE_IN_SQUELCH must be > 0")
	}
	if cfg.DownlinkQueueFrames <= 0 {
		return Config{}, fmt.Errorf("VOIP_DOWNLINK_QUEUE_FRAMES must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOIP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// Issues lists configuration gaps that degrade functionality without
// preventing startup. Surfaced by the readiness endpoint.
func (c Config) Issues() []string {
	var issues []string
	if c.ModelEndpoint == "" {
		issues = append(issues, "VOIP_MODEL_ENDPOINT is not set; calls will be rejected")
	}
	if c.PinpointApplicationID == "" {
		issues = append(issues, "PINPOINT_APPLICATION_ID is not set; SMS tools will fail")
	}
	if c.PinpointOriginationNumber == "" {
		issues = append(issues, "PINPOINT_ORIGINATION_NUMBER is not set; SMS tools will fail")
	}
	if c.AddressValidationURL == "" {
		issues = append(issues, "ADDRESS_VALIDATION_LAMBDA_URL is not set; address validation will fail")
	}
	if c.SystemPromptPath == "" {
		issues = append(issues, "VOIP_SYSTEM_PROMPT_PATH is not set; using the built-in default prompt")
	}
	return issues
}

func parsePromptRules(raw string) ([]PromptRule, error) {
	var rules []PromptRule
	for _, pair := range splitCSV(raw) {
		number, path, ok := strings.Cut(pair, "=")
		if !ok || number == "" || path == "" {
			return nil, fmt.Errorf("VOIP_PROMPT_RULES entry %q must be number=path", pair)
		}
		rules = append(rules, PromptRule{Number: number, PromptPath: path})
	}
	return rules, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
