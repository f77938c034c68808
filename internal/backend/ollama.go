package backend

import (
	"context"

	"github.com/optic-one/opticd/internal/ollama"
)

// OllamaBackend adapts the internal/ollama.Client to the Backend interface.
type OllamaBackend struct {
	client *ollama.Client
	opts   *ollama.Options
}

// NewOllama creates an OllamaBackend backed by an Ollama server at baseURL.
func NewOllama(baseURL string) *OllamaBackend {
	return &OllamaBackend{
		client: ollama.New(baseURL),
		opts: &ollama.Options{
			NumPredict: 512,
			NumCtx:     2048,
		},
	}
}

func (b *OllamaBackend) StartStream(ctx context.Context, req Request) (Stream, error) {
	var messages []ollama.Message
	if req.System != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, ollama.Message{
		Role:    "user",
		Content: req.Prompt,
		Images:  req.Images,
	})

	return b.client.ChatStream(ctx, req.Model, messages, b.opts)
}

func (b *OllamaBackend) IsRunning(ctx context.Context) bool {
	return b.client.IsRunning(ctx)
}
