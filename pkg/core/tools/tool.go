// Package tools implements the model-invokable tool set for telephony
// sessions and the registry that dispatches invocations.
package tools

import "context"

// EmptySchema is the input schema for tools that take no arguments.
const EmptySchema = `{"type":"object","properties":{},"required":[]}`

// Result is the output map returned to the model as the tool result
// payload. Every result carries a "status" key and usually a "message"
// the model can speak.
type Result map[string]any

// Tool is one model-invokable capability.
type Tool interface {
	// Name is the identifier the model uses to invoke the tool.
	Name() string
	// Description is surfaced to the model in the prompt declaration.
	Description() string
	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema() string
	// Invoke runs the tool. args is the raw JSON argument payload as
	// accumulated from the invocation events. Returning an error maps
	// to a status=error result for the model.
	Invoke(ctx context.Context, toolUseID, args string) (Result, error)
}

func successResult(message string) Result {
	return Result{"status": "success", "message": message}
}

func errorResult(message string) Result {
	return Result{"status": "error", "message": message}
}
