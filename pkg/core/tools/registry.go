package tools

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Registry holds the tools available to one session and dispatches
// invocations by name.
type Registry struct {
	logger *slog.Logger
	tools  map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the named tool and always returns a result map,
// never an error: unknown tools, tool errors, and tool panics all map
// to a status=error result the model can relay to the caller.
func (r *Registry) Dispatch(ctx context.Context, name, toolUseID, args string) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "tool_use_id", toolUseID, "panic", rec)
			result = errorResult("The tool encountered an internal error. Please try again.")
		}
	}()

	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("model invoked unknown tool", "tool", name, "tool_use_id", toolUseID)
		return errorResult("Unknown tool: " + name)
	}

	start := time.Now()
	out, err := tool.Invoke(ctx, toolUseID, args)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Error("tool failed", "tool", name, "tool_use_id", toolUseID,
			"elapsed", elapsed, "error", err)
		return errorResult("The tool failed. Please try again.")
	}
	if out == nil {
		out = successResult("")
	}
	if _, ok := out["status"]; !ok {
		out["status"] = "success"
	}
	r.logger.Info("tool completed", "tool", name, "tool_use_id", toolUseID,
		"elapsed", elapsed, "status", out["status"])
	return out
}
