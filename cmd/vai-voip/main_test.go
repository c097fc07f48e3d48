package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/vango-go/vai-voip/pkg/gateway/config"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		loadPrompts: func(config.Config) (*config.PromptSelector, error) {
			t.Fatalf("loadPrompts should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "boom") {
		t.Fatalf("stderr=%q, want config error surfaced", got)
	}
}

func TestRunGateway_FailsWhenPromptsMissing(t *testing.T) {
	t.Parallel()

	deps := defaultGatewayDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{SystemPromptPath: "/nonexistent/prompt.txt"}, nil
	}

	err := runGateway(context.Background(), nil, deps)
	if err == nil {
		t.Fatalf("expected error for missing prompt file")
	}
	if !strings.Contains(err.Error(), "load prompts") {
		t.Fatalf("err=%v, want load prompts failure", err)
	}
}

func TestModelDialer_RejectsEmptyEndpoint(t *testing.T) {
	t.Parallel()

	dial := modelDialer(config.Config{})
	if _, err := dial(context.Background()); err == nil {
		t.Fatalf("expected error when model endpoint is unset")
	}
}

func TestDefaultGatewayDeps_SkipOptionalServices(t *testing.T) {
	t.Parallel()

	deps := defaultGatewayDeps()

	sms, err := deps.newSMS(context.Background(), nil, config.Config{})
	if err != nil {
		t.Fatalf("newSMS: %v", err)
	}
	if sms != nil {
		t.Fatalf("expected nil SMS sender without a Pinpoint application")
	}

	sink, err := deps.newSink(context.Background(), nil, config.Config{})
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	if sink != nil {
		t.Fatalf("expected nil attribute sink when Connect is disabled")
	}
}
