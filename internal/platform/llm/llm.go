// Package llm holds the provider-neutral types shared by the streaming completion clients.
package llm

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one streaming completion. Instructions is the system prompt; Input is sent as user turns.
type Request struct {
	Instructions string
	Input        []Message
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the terminal result of a successful stream.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Provider streams text deltas to onDelta in arrival order and returns the full completion.
// An error returned by onDelta aborts the upstream request and is returned unchanged.
type Provider interface {
	Name() string
	StreamResponse(ctx context.Context, req Request, onDelta func(delta string) error) (Completion, error)
}

// ProviderError is a failure reported by the provider inside an otherwise healthy stream.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
