package worker

import (
	"context"
	"time"
)

// Token is one fragment of generated output. A non-nil Err aborts the
// stream; the channel closes after it.
type Token struct {
	Text string
	Err  error
}

// Processor produces a lazy stream of output fragments for a prompt.
// Implementations close the channel once generation finishes.
type Processor interface {
	Generate(ctx context.Context, prompt string) (<-chan Token, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, prompt string) (<-chan Token, error)

func (f ProcessorFunc) Generate(ctx context.Context, prompt string) (<-chan Token, error) {
	return f(ctx, prompt)
}

// MockLLM is a stand-in model emitting a canned token stream with
// simulated generation latency.
type MockLLM struct {
	name       string
	tokenDelay time.Duration
}

func NewMockLLM(name string) *MockLLM {
	return &MockLLM{name: name, tokenDelay: 100 * time.Millisecond}
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (<-chan Token, error) {
	tokens := []string{"This ", "is ", "a ", "generated ", "response ", "from ", m.name}
	out := make(chan Token)
	go func() {
		defer close(out)
		for _, tok := range tokens {
			select {
			case <-time.After(m.tokenDelay):
			case <-ctx.Done():
				return
			}
			select {
			case out <- Token{Text: tok}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
