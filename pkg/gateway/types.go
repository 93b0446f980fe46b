package gateway

import (
	"context"

	"github.com/minervahq/minerva/pkg/agent"
	"github.com/minervahq/minerva/pkg/ratelimit"
)

// Agent is the conversational core the gateway exposes over HTTP.
type Agent interface {
	Invoke(ctx context.Context, message, sessionID string) (string, []string)
	Stream(ctx context.Context, message, sessionID string) <-chan agent.Event
}

// Limiter admits or rejects one request for an identifier/endpoint pair.
type Limiter interface {
	Check(ctx context.Context, identifier, endpoint string) (bool, ratelimit.Info)
}

// QueryRequest is the body of POST /query and POST /stream.
type QueryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is the body of a successful POST /query.
type QueryResponse struct {
	Response  string   `json:"response"`
	SessionID string   `json:"session_id"`
	ToolsUsed []string `json:"tools_used"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
