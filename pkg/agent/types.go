package agent

import (
	"context"
	"time"

	"github.com/minervahq/minerva/pkg/session"
	"github.com/minervahq/minerva/pkg/toolrpc"
)

// ToolClient is the slice of the tool RPC client the orchestrator uses.
type ToolClient interface {
	ListTools() []toolrpc.Descriptor
	Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// ResultCache short-circuits repeated tool calls. A nil cache disables
// caching entirely.
type ResultCache interface {
	Get(ctx context.Context, tool string, args map[string]interface{}) (interface{}, bool)
	Set(ctx context.Context, tool string, args map[string]interface{}, value interface{}, ttl time.Duration) bool
}

// ToolSpec is a tool definition in the model-facing function-calling
// shape. The orchestrator has no compile-time knowledge of concrete tools.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// TokenUsage tracks token consumption reported by the provider.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	Messages     []session.Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response is the model's next message: either a plain answer or a batch
// of tool calls to execute.
type Response struct {
	Content   string
	ToolCalls []session.ToolCall
	Usage     *TokenUsage
}

// Provider is the language-model contract: generate the next assistant
// message, optionally with tool calls.
type Provider interface {
	Call(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// Event is one step emitted by Stream. Exactly one terminal event (done
// or error) ends every stream.
type Event struct {
	Type      string      `json:"type"` // session, update, done, error
	SessionID string      `json:"session_id,omitempty"`
	Content   interface{} `json:"content,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Event types.
const (
	EventSession = "session"
	EventUpdate  = "update"
	EventDone    = "done"
	EventError   = "error"
)
