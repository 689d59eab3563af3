// Package ai binds the best-effort text-completion collaborator used as
// the ingestion pipeline's final fallback. Any provider failure is
// logged and swallowed: the engine simply proceeds without an automated
// reply.
package ai

import "context"

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is the input for a completion.
type Request struct {
	Prompt  string    // the inbound body to answer
	History []Message // prior ticket messages, oldest first
	System  string    // system prompt / persona
}

// Completer produces a text reply for a request. An empty reply with a
// nil error means the provider declined to answer.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}
