// Package llm talks to the chat models that answer questions about the
// statute and extract the footer schema during ingestion.
package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/statute-rag/config"
)

// Roles of a chat message. The system message carries the instructions and
// the reconstructed statute context.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation. Sessions keep these as history.
type Message struct {
	Role    string
	Content string
}

// Client returns the complete answer to a conversation.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient is implemented by clients that can deliver the answer in
// increments. fn is called with each non-empty piece in order.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error
}

type Options struct {
	Provider string
	Model    string
	// Temperature is passed to providers that support it; answers about a
	// statute are generated deterministically.
	Temperature float32

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient builds the client for the configured provider. Every client
// implements StreamClient so the interactive chat can print answers as they
// arrive.
func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
