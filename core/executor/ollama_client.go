package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/ternarybob/arbor"
)

// OllamaClient talks to the inference server on the backend host through its
// OpenAI-compatible endpoint
type OllamaClient struct {
	client       openai.Client
	defaultModel string
	temperature  float64
	timeout      time.Duration
	logger       arbor.ILogger
}

// NewOllamaClient creates a client for host, e.g. http://localhost:11434
func NewOllamaClient(host, defaultModel string, timeout time.Duration, logger arbor.ILogger) *OllamaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(host, "/") + "/v1/"
	return &OllamaClient{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			// the server ignores the key but the SDK requires one
			option.WithAPIKey("ollama"),
			option.WithMaxRetries(0),
		),
		defaultModel: defaultModel,
		temperature:  0.7,
		timeout:      timeout,
		logger:       logger,
	}
}

// Generate produces a single completion. Failures are reported in the result.
func (c *OllamaClient) Generate(ctx context.Context, prompt, model string) GenerateResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model = c.model(model)
	completion, err := c.client.Chat.Completions.New(ctx, c.params(prompt, model))
	if err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("Generation failed")
		return GenerateResult{Success: false, Model: model, Error: describe(err)}
	}
	if len(completion.Choices) == 0 {
		return GenerateResult{Success: false, Model: model, Error: "no completion choices returned"}
	}

	return GenerateResult{
		Success: true,
		Text:    completion.Choices[0].Message.Content,
		Model:   model,
	}
}

// GenerateStream produces a completion incrementally. The channel is closed
// after the chunk that carries Done=true or Success=false.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt, model string) <-chan StreamChunk {
	out := make(chan StreamChunk)
	model = c.model(model)

	go func() {
		defer close(out)

		send := func(chunk StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(prompt, model))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			done := choice.FinishReason != ""
			if choice.Delta.Content == "" && !done {
				continue
			}
			if !send(StreamChunk{Success: true, Content: choice.Delta.Content, Done: done}) {
				return
			}
			if done {
				return
			}
		}

		if err := stream.Err(); err != nil {
			c.logger.Warn().Err(err).Str("model", model).Msg("Generation stream failed")
			send(StreamChunk{Success: false, Error: describe(err), Done: true})
			return
		}
		// some servers close the stream without a finish reason
		send(StreamChunk{Success: true, Done: true})
	}()

	return out
}

// ListModels returns the model ids the server currently serves
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// DefaultModel returns the configured model name
func (c *OllamaClient) DefaultModel() string {
	return c.defaultModel
}

func (c *OllamaClient) model(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func (c *OllamaClient) params(prompt, model string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}
}

func describe(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("HTTP %d: %s", apiErr.StatusCode, apiErr.Message)
	}
	return err.Error()
}
