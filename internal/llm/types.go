package llm

import "context"

// Completer is the language-model collaborator contract consumed by the
// analyzer, guardrails, and synthesizer.
type Completer interface {
	// Complete sends a prompt and returns the model's text reply.
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Embedder converts free text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Option func(*Options)

type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	System      string
}

func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

func WithMaxTokens(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

func WithSystem(msg string) Option {
	return func(o *Options) { o.System = msg }
}
