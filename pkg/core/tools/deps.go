package tools

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Deps carries the dependencies a tool constructor may need. Tools
// declare what they use; the factory passes the same struct to all of
// them.
type Deps struct {
	Logger       *slog.Logger
	CallerNumber string
	SMS          SMSSender
	OTP          *OTPStore
	HTTPClient   *http.Client
	Timezone     string
	// AddressValidationURL is the address validation service endpoint;
	// empty disables the address tool's backend.
	AddressValidationURL string
	// RequestHangup arms the pending-hangup flag on the session's turn
	// machine.
	RequestHangup func()
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// builders maps tool names to constructors. Each constructor takes the
// explicit dependency struct; there is no runtime probing.
var builders = map[string]func(Deps) Tool{
	"hangupTool":            func(d Deps) Tool { return NewHangupTool(d) },
	"getDateTimeTool":       func(d Deps) Tool { return NewDateTimeTool(d) },
	"getCallerPhoneTool":    func(d Deps) Tool { return NewCallerPhoneTool(d) },
	"sendSMSTool":           func(d Deps) Tool { return NewSendSMSTool(d) },
	"sendOTPTool":           func(d Deps) Tool { return NewSendOTPTool(d) },
	"verifyOTPTool":         func(d Deps) Tool { return NewVerifyOTPTool(d) },
	"collectAddressTool":    func(d Deps) Tool { return NewCollectAddressTool(d) },
	"addressValidationTool": func(d Deps) Tool { return NewAddressValidationTool(d) },
}

// KnownToolNames returns every buildable tool name.
func KnownToolNames() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	return names
}

// BuildRegistry constructs the named tools and registers them. Unknown
// names are an error so configuration typos surface at startup, not
// mid-call.
func BuildRegistry(logger *slog.Logger, deps Deps, names []string) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = logger
	}
	reg := NewRegistry(logger)
	for _, name := range names {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		reg.Register(build(deps))
	}
	return reg, nil
}
