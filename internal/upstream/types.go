package upstream

import (
	"fmt"

	"glmgate/internal/apierr"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the client-facing completion request. Sampling fields
// are pointers so that only values the caller actually set are
// forwarded upstream.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// Validate enforces the ingress contract. It runs before any model
// resolution or network activity.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return apierr.Validation("model is required")
	}
	if len(r.Messages) == 0 {
		return apierr.Validation("at least one message is required")
	}

	for i, m := range r.Messages {
		if m.Role != RoleSystem && m.Role != RoleUser && m.Role != RoleAssistant {
			return apierr.Validation(fmt.Sprintf("invalid role %q in messages[%d]", m.Role, i))
		}
		if m.Content == "" && m.Role != RoleSystem {
			return apierr.Validation(fmt.Sprintf("content is required for messages[%d]", i))
		}
	}

	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return apierr.Validation("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return apierr.Validation("top_p must be between 0 and 1")
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return apierr.Validation("max_tokens must be at least 1")
	}

	return nil
}

// LastUserText returns the content of the most recent user message,
// used as the signature payload for upstream requests.
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatResponse is the aggregate (non-streaming) completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type ChunkDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChunkError is attached to the single synthetic error chunk emitted
// when a stream fails after bytes have been delivered.
type ChunkError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
}

// StreamChunk is one client-facing streaming event. Seq is the
// session-local sequence number assigned in arrival order; it is not
// part of the wire format.
type StreamChunk struct {
	Seq     int           `json:"-"`
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
	Error   *ChunkError   `json:"error,omitempty"`
}

type StreamResult struct {
	Chunk *StreamChunk
	Err   error
}
