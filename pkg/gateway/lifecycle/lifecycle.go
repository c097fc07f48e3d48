// Package lifecycle holds the process lifecycle state shared between
// the admin handlers and the shutdown path.
package lifecycle

import "sync/atomic"

// Lifecycle tracks whether the gateway is draining. While draining the
// readiness endpoint reports not-ready so new calls are routed away,
// but calls already in progress run to completion.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
