package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-voip/pkg/gateway/config"
	"github.com/vango-go/vai-voip/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive new calls.
// Configuration gaps and draining both flip readiness off. ActiveCalls
// counts live SIP dialogs and ActiveSessions counts calls bridged to a
// model stream; both are reported either way so the balancer can drain
// politely. The two diverge while a call is being set up or torn down.
type ReadyHandler struct {
	Config         config.Config
	Lifecycle      *lifecycle.Lifecycle
	ActiveCalls    func() int
	ActiveSessions func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveCalls    int      `json:"active_calls"`
		ActiveSessions int      `json:"active_sessions"`
		ConnectEnabled bool     `json:"connect_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := h.Config.Issues()
	draining := h.Lifecycle.IsDraining()

	calls := 0
	if h.ActiveCalls != nil {
		calls = h.ActiveCalls()
	}
	sessions := 0
	if h.ActiveSessions != nil {
		sessions = h.ActiveSessions()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveCalls:    calls,
		ActiveSessions: sessions,
		ConnectEnabled: h.Config.ConnectEnabled,
		Issues:         issues,
	})
}
