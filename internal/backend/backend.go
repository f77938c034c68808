// Package backend abstracts the inference backend. The orchestrator and
// scheduler depend on this interface instead of a concrete client.
package backend

import "context"

// Request describes one inference call. Images carries base64-encoded
// payloads for vision prompts.
type Request struct {
	Model  string
	Prompt string
	System string
	Images []string
}

// Stream delivers response chunks in arrival order. Recv returns io.EOF
// after the final chunk; Close supports cooperative shutdown and is safe to
// call concurrently with Recv.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Backend is a local inference engine capable of streamed generation.
type Backend interface {
	// StartStream opens a token stream for the request.
	StartStream(ctx context.Context, req Request) (Stream, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}
