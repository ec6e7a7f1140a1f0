// Package openai generates transformation programs with OpenAI-compatible
// chat completion APIs, streaming the reply as it is produced.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when neither the request nor the generator names one.
const DefaultModel = "gpt-4o-mini"

// Generator implements ports.ProgramGenerator.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// Option configures the Generator.
type Option func(*Generator)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithLogger configures a logger for the Generator.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// New creates a Generator for apiKey. An empty baseURL targets OpenAI.
func New(apiKey, baseURL string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return NewFromClient(openai.NewClientWithConfig(cfg), opts...), nil
}

// NewFromClient creates a Generator using an existing client.
func NewFromClient(client *openai.Client, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		model:       DefaultModel,
		temperature: 0.2,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ ports.ProgramGenerator = (*Generator)(nil)

// Generate streams a chat completion and returns the full reply.
func (g *Generator) Generate(ctx context.Context, req ports.GenerateRequest, onDelta func(string)) (string, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: roleOf(m.Role), Content: m.Content})
	}

	g.logger.Debug("Generating program via OpenAI", "model", model, "messages", len(messages))
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: g.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply.String(), fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	if reply.Len() == 0 {
		return "", errors.New("OpenAI returned an empty reply")
	}
	return reply.String(), nil
}

func roleOf(role string) string {
	switch role {
	case ports.SystemRole:
		return openai.ChatMessageRoleSystem
	case ports.AssistantRole:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
