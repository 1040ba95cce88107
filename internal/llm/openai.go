package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/failure"
)

// OpenAI is the language-model collaborator. Every call carries the
// configured request timeout and retries transient and rate-limited
// failures before escalating.
type OpenAI struct {
	client *openai.Client
	cfg    *config.OpenAIConfig
	pcfg   config.PipelineConfig
	retry  failure.Policy
}

func NewOpenAI(cfg *config.OpenAIConfig, pcfg config.PipelineConfig) (*OpenAI, error) {
	var client *openai.Client

	switch cfg.Provider {
	case "azure":
		client = openai.NewClient(
			azure.WithEndpoint(cfg.APIEndpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	default: // "openai"
		client = openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.APIEndpoint),
		)
	}

	return &OpenAI{
		client: client,
		cfg:    cfg,
		pcfg:   pcfg,
		retry: failure.Policy{
			MaxRetries:     pcfg.MaxRetries,
			BaseDelay:      pcfg.RetryBaseDelay,
			MaxDelay:       pcfg.RetryMaxDelay,
			RateLimitDelay: pcfg.RateLimitDelay,
		},
	}, nil
}

// Complete sends a single-turn prompt to the model.
func (o *OpenAI) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	options := &Options{
		Model:       o.cfg.Model,
		Temperature: 0,
		MaxTokens:   1000,
	}
	for _, opt := range opts {
		opt(options)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.SystemMessage(options.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	var content string
	err := o.retry.Do(ctx, "llm.complete", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.pcfg.RequestTimeout)
		defer cancel()

		resp, err := o.client.Chat.Completions.New(
			callCtx,
			openai.ChatCompletionNewParams{
				Model:       openai.F(options.Model),
				Messages:    openai.F(messages),
				Temperature: openai.F(options.Temperature),
				MaxTokens:   openai.F(options.MaxTokens),
			},
		)
		if err != nil {
			return classify("llm.complete", err)
		}
		if len(resp.Choices) == 0 {
			return failure.Fatal("llm.complete", fmt.Errorf("empty choices in completion response"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Embed converts text to an embedding vector via the embeddings endpoint.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	var vector []float64
	err := o.retry.Do(ctx, "llm.embed", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.pcfg.RequestTimeout)
		defer cancel()

		resp, err := o.client.Embeddings.New(
			callCtx,
			openai.EmbeddingNewParams{
				Model: openai.F(o.cfg.EmbeddingModel),
				Input: openai.F[openai.EmbeddingNewParamsInputUnion](
					openai.EmbeddingNewParamsInputArrayOfStrings([]string{text}),
				),
			},
		)
		if err != nil {
			return classify("llm.embed", err)
		}
		if len(resp.Data) == 0 {
			return failure.Fatal("llm.embed", fmt.Errorf("empty embedding response"))
		}
		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// classify maps API errors onto the failure taxonomy.
func classify(op string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return failure.RateLimited(op, err)
		case apierr.StatusCode >= http.StatusInternalServerError:
			return failure.Transient(op, err)
		default:
			return failure.Fatal(op, err)
		}
	}
	return failure.FromTransport(op, err)
}
