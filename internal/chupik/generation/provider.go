// Package generation is the boundary to the remote text-generation service.
//
// The engine only escalates messages the local classifier could not answer
// confidently. Every escalation is bounded: a global request rate, an HTTP
// timeout, a small number of retries, a per-sender sliding window and a
// daily token allowance per conversation. Any failure is returned as an
// error and the caller substitutes a fallback reply.
package generation

import (
	"context"
	"errors"
)

var (
	// ErrRateLimit is returned when the upstream API answers 429.
	ErrRateLimit = errors.New("generation: upstream rate limit exceeded")
	// ErrEmptyReply is returned for a 2xx response without usable text.
	ErrEmptyReply = errors.New("generation: empty reply")
	// ErrBudgetExceeded is returned when the conversation's daily token
	// allowance is spent.
	ErrBudgetExceeded = errors.New("generation: daily token budget exhausted")
	// ErrDisabled is returned by Disabled.
	ErrDisabled = errors.New("generation: no generation service configured")
)

// Role of a Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message in the escalation history.
type Turn struct {
	Role    string
	Content string
}

// Request is a single escalation.
type Request struct {
	SystemPrompt string
	History      []Turn
	UserMessage  string

	// MaxTokens and Temperature override the client defaults when non-zero.
	MaxTokens   int
	Temperature float64

	// BudgetKey selects the daily token allowance charged for this call,
	// normally the conversation id. Empty keys are not metered.
	BudgetKey string
}

// Provider generates a reply. Implementations must be safe for concurrent
// use.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Disabled is the Provider used when no API key is configured. Every call
// fails with ErrDisabled so callers fall back to templates.
var Disabled Provider = Func(func(context.Context, Request) (string, error) {
	return "", ErrDisabled
})
