package tools

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// OTPStore holds at most the latest authentication code per call.
// Storing a new code discards any previous one.
type OTPStore struct {
	mu   sync.Mutex
	code string
	id   string
}

// NewOTPStore creates an empty store.
func NewOTPStore() *OTPStore {
	return &OTPStore{}
}

// Put replaces the stored code.
func (s *OTPStore) Put(toolUseID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = toolUseID
	s.code = code
}

// Get returns the current code, if any.
func (s *OTPStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.code != ""
}

// Clear discards the stored code.
func (s *OTPStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = ""
	s.id = ""
}

// SendOTPTool generates a 4-digit code, stores it for verification, and
// texts it to the caller. The SMS goes out asynchronously so the audio
// stream is never blocked on delivery.
type SendOTPTool struct {
	logger       *slog.Logger
	sender       SMSSender
	store        *OTPStore
	callerNumber string
}

// NewSendOTPTool builds the tool from the dependency struct.
func NewSendOTPTool(deps Deps) *SendOTPTool {
	return &SendOTPTool{
		logger:       deps.logger(),
		sender:       deps.SMS,
		store:        deps.OTP,
		callerNumber: deps.CallerNumber,
	}
}

func (t *SendOTPTool) Name() string { return "sendOTPTool" }

func (t *SendOTPTool) Description() string {
	return "Generate and send a 4-digit authentication code via SMS to the caller's phone number. Use this when the caller requests an authentication token or OTP."
}

func (t *SendOTPTool) InputSchema() string { return EmptySchema }

func (t *SendOTPTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	if t.store == nil {
		return errorResult("Authentication is not configured."), nil
	}

	code, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	t.store.Put(toolUseID, code)
	t.logger.Info("generated authentication code", "tool_use_id", toolUseID)

	if t.sender == nil {
		return errorResult("SMS service is not configured."), nil
	}

	// Detached context: the session's tool context may be cancelled
	// before delivery completes.
	number := t.callerNumber
	sender := t.sender
	logger := t.logger
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sender.Send(sendCtx, NormalizePhoneNumber(number), "Your authentication code is: "+code); err != nil {
			logger.Error("async code delivery failed", "error", err)
			return
		}
		logger.Info("authentication code delivered")
	}()

	return Result{
		"status":    "success",
		"message":   "SMS sent successfully. Now tell the caller: 'The code should arrive in a few seconds. Please read me the four digits when you receive it.'",
		"sessionId": toolUseID,
	}, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// VerifyOTPTool checks a caller-spoken code against the stored one.
type VerifyOTPTool struct {
	logger *slog.Logger
	store  *OTPStore
}

// NewVerifyOTPTool builds the tool from the dependency struct.
func NewVerifyOTPTool(deps Deps) *VerifyOTPTool {
	return &VerifyOTPTool{logger: deps.logger(), store: deps.OTP}
}

func (t *VerifyOTPTool) Name() string { return "verifyOTPTool" }

func (t *VerifyOTPTool) Description() string {
	return "Verify the 4-digit authentication code provided by the caller against the code that was sent via SMS. The code parameter should be the 4-digit number spoken by the caller."
}

func (t *VerifyOTPTool) InputSchema() string {
	return `{"type":"object","properties":{` +
		`"code":{"type":"string","description":"The 4-digit authentication code spoken by the caller"}` +
		`},"required":["code"]}`
}

func (t *VerifyOTPTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	var input struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		t.logger.Warn("unparseable verification arguments", "error", err)
		return errorResult("Invalid verification request."), nil
	}

	// Callers say codes with pauses and fillers; keep digits only.
	normalized := keepDigits(input.Code)

	if t.store == nil {
		return errorResult("Authentication is not configured."), nil
	}
	stored, ok := t.store.Get()
	if !ok {
		t.logger.Warn("verification attempted with no code outstanding")
		return Result{
			"status":   "error",
			"verified": false,
			"message":  "No authentication code was sent. Please request a new code first.",
		}, nil
	}

	if normalized != stored {
		t.logger.Warn("authentication code mismatch")
		return Result{
			"status":   "error",
			"verified": false,
			"message":  "Authentication failed. The code you provided does not match. Please try again.",
		}, nil
	}

	t.store.Clear()
	t.logger.Info("authentication code verified")
	return Result{
		"status":   "success",
		"verified": true,
		"message":  "Authentication successful! Your code is correct.",
	}, nil
}

func keepDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
