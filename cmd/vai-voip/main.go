// Command vai-voip runs the telephony gateway: it answers SIP calls,
// bridges their audio to the speech-to-speech model, and serves the
// admin endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/vai-voip/internal/dotenv"
	"github.com/vango-go/vai-voip/pkg/core/nova"
	"github.com/vango-go/vai-voip/pkg/core/tools"
	"github.com/vango-go/vai-voip/pkg/gateway/config"
	"github.com/vango-go/vai-voip/pkg/gateway/connect"
	"github.com/vango-go/vai-voip/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voip/pkg/gateway/pinpoint"
	gatewayserver "github.com/vango-go/vai-voip/pkg/gateway/server"
	"github.com/vango-go/vai-voip/pkg/gateway/session"
	"github.com/vango-go/vai-voip/pkg/gateway/telephony"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	loadPrompts  func(config.Config) (*config.PromptSelector, error)
	newSMS       func(context.Context, *slog.Logger, config.Config) (tools.SMSSender, error)
	newSink      func(context.Context, *slog.Logger, config.Config) (connect.AttributeSink, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		loadPrompts: config.LoadPrompts,
		newSMS: func(ctx context.Context, logger *slog.Logger, cfg config.Config) (tools.SMSSender, error) {
			if cfg.PinpointApplicationID == "" {
				return nil, nil
			}
			return pinpoint.NewSender(ctx, logger, cfg.AWSRegion, cfg.PinpointApplicationID, cfg.PinpointOriginationNumber)
		},
		newSink: func(ctx context.Context, logger *slog.Logger, cfg config.Config) (connect.AttributeSink, error) {
			if !cfg.ConnectEnabled {
				return nil, nil
			}
			return connect.NewAWSSink(ctx, logger, cfg.AWSRegion)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func modelDialer(cfg config.Config) session.DialFunc {
	return func(ctx context.Context) (nova.Stream, error) {
		if cfg.ModelEndpoint == "" {
			return nil, errors.New("VOIP_MODEL_ENDPOINT is not set")
		}
		wsCfg := nova.DefaultWSStreamConfig(cfg.ModelEndpoint)
		if cfg.ModelAPIKey != "" {
			wsCfg.Header = http.Header{"Authorization": []string{"Bearer " + cfg.ModelAPIKey}}
		}
		return nova.DialStream(ctx, wsCfg)
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.loadPrompts == nil {
		return errors.New("missing config dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, issue := range cfg.Issues() {
		logger.Warn("config issue", "issue", issue)
	}

	prompts, err := deps.loadPrompts(cfg)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	sms, err := deps.newSMS(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("pinpoint sender: %w", err)
	}
	sink, err := deps.newSink(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("connect sink: %w", err)
	}

	manager := session.NewManager(logger, cfg, prompts, sms, sink, modelDialer(cfg))

	accept := func(number string) bool {
		return config.NumberAccepted(number, cfg.AcceptedNumbers)
	}
	sipServer, err := telephony.NewServer(logger, telephony.Config{
		ListenAddr: cfg.SIPListenAddr,
		Transport:  cfg.SIPTransport,
		PublicIP:   cfg.PublicIP,
		RTPPortMin: cfg.RTPPortMin,
		RTPPortMax: cfg.RTPPortMax,
	}, accept, manager)
	if err != nil {
		return fmt.Errorf("sip server: %w", err)
	}

	lc := &lifecycle.Lifecycle{}
	admin := gatewayserver.New(cfg, logger, lc, sipServer.ActiveCalls, manager.ActiveSessions)
	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           admin.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sipCtx, sipCancel := context.WithCancel(ctx)
	defer sipCancel()

	errCh := make(chan error, 2)
	go func() {
		if err := sipServer.Serve(sipCtx); err != nil && sipCtx.Err() == nil {
			errCh <- fmt.Errorf("sip serve: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin serve: %w", err)
			return
		}
		errCh <- nil
	}()

	logger.Info("gateway started",
		"sip_addr", cfg.SIPListenAddr,
		"admin_addr", cfg.AdminAddr,
		"connect_enabled", cfg.ConnectEnabled)

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown", "error", err)
	}

	// Close hangs up active calls, which runs each session's teardown.
	sipServer.Close()
	sipCancel()

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vai-voip: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "vai-voip: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
