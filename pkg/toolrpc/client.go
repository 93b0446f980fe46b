package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultCallTimeout bounds a single tool RPC.
const DefaultCallTimeout = 15 * time.Second

const protocolVersion = "2025-06-18"

// ConnState is the client's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Descriptor describes one remote tool: name, human-readable description,
// and a JSON-schema parameter spec. The list is owned by the client and
// refreshed on every (re)connect.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// rpcSession is the slice of the MCP client used here; *client.Client
// satisfies it, and tests substitute fakes.
type rpcSession interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Client maintains a single shared session to the tool server. All calls
// are serialized with a mutex: the connection state is one shared mutable
// resource, and a reconnect triggered by one caller must not race another
// caller's in-flight RPC.
type Client struct {
	mu          sync.Mutex
	serverURL   string
	callTimeout time.Duration
	state       ConnState
	session     rpcSession
	descriptors []Descriptor
	logger      zerolog.Logger

	// dial opens a transport session; replaced in tests.
	dial func(ctx context.Context) (rpcSession, error)
}

// Config holds tool RPC client settings.
type Config struct {
	ServerURL   string
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// NewClient creates a disconnected client; call Connect before use.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("tool server URL is required")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	c := &Client{
		serverURL:   cfg.ServerURL,
		callTimeout: timeout,
		state:       StateDisconnected,
		logger:      cfg.Logger,
	}
	c.dial = c.dialStreamableHTTP

	return c, nil
}

// dialStreamableHTTP opens the streamable HTTP transport to the server.
func (c *Client) dialStreamableHTTP(ctx context.Context) (rpcSession, error) {
	mcpClient, err := client.NewStreamableHttpClient(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	return mcpClient, nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the transport session, performs the protocol
// handshake, and caches the tool descriptor list. Calling it while
// already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.state == StateConnected {
		c.logger.Warn().Msg("Tool RPC client already connected")
		return nil
	}

	c.state = StateConnecting
	c.logger.Info().Str("url", c.serverURL).Msg("Connecting to tool server")

	session, err := c.dial(ctx)
	if err != nil {
		c.state = StateDisconnected
		return fmt.Errorf("failed to connect to tool server: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "minerva",
				Version: "0.1.0",
			},
		},
	}

	if _, err := session.Initialize(ctx, initReq); err != nil {
		c.closeSessionLocked(session)
		c.state = StateDisconnected
		return fmt.Errorf("MCP handshake failed: %w", err)
	}

	toolsResult, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.closeSessionLocked(session)
		c.state = StateDisconnected
		return fmt.Errorf("failed to list tools: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	c.session = session
	c.descriptors = descriptors
	c.state = StateConnected

	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	c.logger.Info().Strs("tools", names).Msg("Tool server session established")

	return nil
}

// ListTools returns the cached descriptor list without performing I/O.
func (c *Client) ListTools() []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

// Refresh re-fetches the descriptor list over the existing session.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return c.connectLocked(ctx)
	}

	toolsResult, err := c.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.disconnectLocked()
		return fmt.Errorf("failed to refresh tools: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		schema, merr := json.Marshal(tool.InputSchema)
		if merr != nil {
			schema = nil
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	c.descriptors = descriptors

	return nil
}

// Invoke calls a remote tool and returns its JSON-serializable result.
// When the client is not connected it runs disconnect-then-connect first,
// failing the whole call if recovery fails. A transport error flips the
// client back to disconnected so the next call reconnects; the failed call
// itself is not retried here.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.logger.Warn().Str("tool", name).Msg("Session lost, reconnecting before call")
		c.disconnectLocked()
		if err := c.connectLocked(ctx); err != nil {
			return nil, fmt.Errorf("failed to recover tool server session: %w", err)
		}
	}

	if err := c.validateArgsLocked(name, args); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.logger.Info().Str("tool", name).Interface("args", args).Msg("Calling tool")

	result, err := c.session.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		// Transport-level failure: next invocation triggers a reconnect.
		c.state = StateDisconnected
		return nil, fmt.Errorf("tool call %s failed: %w", name, err)
	}

	if result.IsError {
		// Remote tool returned an error payload; the session is still good.
		return nil, fmt.Errorf("tool %s returned an error: %s", name, flattenText(result))
	}

	return Convert(result).Value(), nil
}

// validateArgsLocked checks args against the tool's input schema before
// dispatching. Unknown tools and schema-less descriptors pass through.
func (c *Client) validateArgsLocked(name string, args map[string]interface{}) error {
	for _, d := range c.descriptors {
		if d.Name != name {
			continue
		}
		if len(d.InputSchema) == 0 {
			return nil
		}

		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(d.InputSchema),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil {
			// A malformed schema is the server's bug, not the caller's.
			c.logger.Debug().Err(err).Str("tool", name).Msg("Skipping argument validation")
			return nil
		}

		if !result.Valid() {
			errs := result.Errors()
			if len(errs) > 0 {
				return fmt.Errorf("invalid arguments for tool %s: %s", name, errs[0].String())
			}
			return fmt.Errorf("invalid arguments for tool %s", name)
		}

		return nil
	}

	return nil
}

// Disconnect releases the session. Safe to call repeatedly; teardown
// errors are logged and swallowed so cleanup always completes.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	if c.session != nil {
		c.closeSessionLocked(c.session)
		c.session = nil
	}
	if c.state != StateDisconnected {
		c.logger.Info().Msg("Tool server session closed")
	}
	c.state = StateDisconnected
}

func (c *Client) closeSessionLocked(session rpcSession) {
	if err := session.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing tool server session")
	}
}
