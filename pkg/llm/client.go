// Package llm provides the provider-agnostic LLM collaborator used by the
// pipeline agents: structured generation against a JSON schema with
// best-effort output recovery, and plain text generation.
package llm

import (
	"context"
	"errors"
)

// ErrOutputInvalid is returned when the model's output cannot be decoded
// into the requested schema even after the stricter retry.
var ErrOutputInvalid = errors.New("llm output did not match the requested schema")

// Schema describes the structured output an agent expects. The JSON schema
// document is injected verbatim into the system prompt.
type Schema struct {
	Name string
	JSON string
}

// Client is the single LLM capability the pipeline depends on. Structured
// generation decodes into out; text generation returns the raw completion.
type Client interface {
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema, out any) error
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}
