// Package server assembles the admin HTTP surface: health, readiness,
// and the middleware chain around them.
package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voip/pkg/gateway/config"
	"github.com/vango-go/vai-voip/pkg/gateway/handlers"
	"github.com/vango-go/vai-voip/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voip/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle      *lifecycle.Lifecycle
	activeCalls    func() int
	activeSessions func() int
}

// New builds the admin server. activeCalls reports live SIP dialogs
// and activeSessions reports calls bridged to a model stream, both for
// the readiness payload; nil means always zero.
func New(cfg config.Config, logger *slog.Logger, lc *lifecycle.Lifecycle, activeCalls, activeSessions func() int) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		lifecycle:      lc,
		activeCalls:    activeCalls,
		activeSessions: activeSessions,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:         s.cfg,
		Lifecycle:      s.lifecycle,
		ActiveCalls:    s.activeCalls,
		ActiveSessions: s.activeSessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
