package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minervahq/minerva/pkg/session"
	"github.com/rs/zerolog"
)

// Defaults for the loop guards.
const (
	DefaultMaxRounds    = 10
	DefaultModelTimeout = 30 * time.Second
	DefaultCacheTTL     = 300 * time.Second
)

// loopState enumerates the two states of the agent state machine. The
// terminal state is implicit: the loop returns instead of storing it.
type loopState int

const (
	stateReason loopState = iota
	stateAct
)

// Config wires the orchestrator's collaborators and loop settings.
type Config struct {
	Provider Provider
	Tools    ToolClient
	Cache    ResultCache // optional; nil disables caching
	Sessions *session.Store
	Logger   zerolog.Logger

	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	// MaxRounds caps ACT/REASON round-trips per turn so a model that
	// always requests tools cannot spin forever.
	MaxRounds    int
	ModelTimeout time.Duration
	CacheTTL     time.Duration
}

// Orchestrator drives the reason/act loop for one service instance. It is
// safe for concurrent use across sessions; the tool client serializes
// access to its shared connection internally.
type Orchestrator struct {
	provider     Provider
	tools        ToolClient
	cache        ResultCache
	sessions     *session.Store
	logger       zerolog.Logger
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	maxRounds    int
	modelTimeout time.Duration
	cacheTTL     time.Duration
}

// New creates an orchestrator, validating required collaborators.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool client is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	o := &Orchestrator{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		cache:        cfg.Cache,
		sessions:     cfg.Sessions,
		logger:       cfg.Logger,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		maxRounds:    cfg.MaxRounds,
		modelTimeout: cfg.ModelTimeout,
		cacheTTL:     cfg.CacheTTL,
	}

	if o.systemPrompt == "" {
		o.systemPrompt = SystemPrompt
	}
	if o.maxRounds <= 0 {
		o.maxRounds = DefaultMaxRounds
	}
	if o.modelTimeout <= 0 {
		o.modelTimeout = DefaultModelTimeout
	}
	if o.cacheTTL <= 0 {
		o.cacheTTL = DefaultCacheTTL
	}

	return o, nil
}

// Invoke runs the loop to completion for one user message and returns the
// final answer plus the ordered list of tool names invoked. Failures are
// returned as a human-readable answer, never as a panic or error: a single
// conversation must not crash the service.
func (o *Orchestrator) Invoke(ctx context.Context, message, sessionID string) (string, []string) {
	answer, toolsUsed, err := o.run(ctx, message, sessionID, nil)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Agent invoke failed")
		return fmt.Sprintf("I encountered an error: %s", err), []string{}
	}
	return answer, toolsUsed
}

// Stream runs the same loop but emits an event per step. The sequence is
// finite: one session event, zero or more updates, then exactly one
// terminal done or error event. If the caller stops consuming and cancels
// ctx, in-flight tool calls still complete; later steps are not emitted.
func (o *Orchestrator) Stream(ctx context.Context, message, sessionID string) <-chan Event {
	events := make(chan Event, 8)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventSession, SessionID: sessionID}) {
			return
		}

		_, _, err := o.run(ctx, message, sessionID, emit)
		if err != nil {
			emit(Event{Type: EventError, Error: err.Error()})
			return
		}
		emit(Event{Type: EventDone})
	}()

	return events
}

// run executes the two-state machine. emitFn may be nil for non-streaming
// callers; returning false from it marks the consumer as gone, after which
// events stop but the current batch still resolves before the loop ends.
func (o *Orchestrator) run(ctx context.Context, message, sessionID string, emitFn func(Event) bool) (string, []string, error) {
	if emitFn == nil {
		emitFn = func(Event) bool { return true }
	}

	// A gone consumer suppresses event emission, never execution: the
	// persisted history must end every assistant tool-call batch with its
	// tool results, or the session is unusable on the next turn.
	abandoned := false
	emit := func(ev Event) {
		if abandoned {
			return
		}
		if !emitFn(ev) {
			abandoned = true
		}
	}

	if err := o.sessions.Append(sessionID, session.Message{
		Role:    session.RoleUser,
		Content: message,
	}); err != nil {
		return "", nil, err
	}

	logger := o.logger.With().Str("session_id", sessionID).Logger()
	tools := o.buildToolSpecs()
	toolsUsed := []string{}

	state := stateReason
	rounds := 0
	var pending []session.ToolCall

	for {
		switch state {
		case stateReason:
			resp, err := o.reason(ctx, sessionID, tools)
			if err != nil {
				// A model failure ends the turn with an explanatory
				// answer instead of crashing it.
				logger.Error().Err(err).Msg("Model call failed")
				final := fmt.Sprintf("I encountered an error while processing your request: %s", err)
				o.appendAssistant(sessionID, final, nil)
				emit(Event{Type: EventUpdate, Content: map[string]interface{}{"step": "reason", "answer": final}})
				return final, toolsUsed, nil
			}

			o.appendAssistant(sessionID, resp.Content, resp.ToolCalls)

			if len(resp.ToolCalls) == 0 {
				logger.Info().Strs("tools_used", toolsUsed).Msg("Agent loop finished")
				emit(Event{Type: EventUpdate, Content: map[string]interface{}{"step": "reason", "answer": resp.Content}})
				return resp.Content, toolsUsed, nil
			}

			names := make([]string, 0, len(resp.ToolCalls))
			for _, tc := range resp.ToolCalls {
				names = append(names, tc.Name)
			}
			logger.Info().Strs("tool_calls", names).Msg("Model requested tools")
			emit(Event{Type: EventUpdate, Content: map[string]interface{}{"step": "reason", "tool_calls": names}})

			if rounds >= o.maxRounds {
				// Forced termination: resolve the pending batch with error
				// results so every call still receives exactly one tool
				// result, then answer with what has been gathered so far.
				logger.Warn().Int("rounds", rounds).Msg("Maximum tool rounds reached, forcing termination")
				for _, tc := range resp.ToolCalls {
					o.appendToolResult(sessionID, tc, map[string]interface{}{
						"error": "maximum tool rounds reached",
						"tool":  tc.Name,
					})
				}
				final := "I reached the maximum number of tool calls for this request. Here is what I found so far; please narrow the question to continue."
				o.appendAssistant(sessionID, final, nil)
				emit(Event{Type: EventUpdate, Content: map[string]interface{}{"step": "reason", "answer": final}})
				return final, toolsUsed, nil
			}

			pending = resp.ToolCalls
			state = stateAct

		case stateAct:
			// Batch barrier: every call in the batch resolves before the
			// next reasoning step.
			for _, tc := range pending {
				result := o.executeCall(ctx, logger, tc)
				o.appendToolResult(sessionID, tc, result)
				toolsUsed = append(toolsUsed, tc.Name)

				emit(Event{Type: EventUpdate, Content: map[string]interface{}{"step": "act", "tool": tc.Name}})
			}

			pending = nil
			if abandoned {
				// The batch is fully resolved; with nobody listening there
				// is no point paying for another reasoning step.
				logger.Info().Strs("tools_used", toolsUsed).Msg("Stream consumer gone, stopping after batch")
				return "", toolsUsed, nil
			}
			rounds++
			state = stateReason
		}
	}
}

// reason builds the full context and obtains one assistant message.
func (o *Orchestrator) reason(ctx context.Context, sessionID string, tools []ToolSpec) (*Response, error) {
	history, err := o.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	return o.provider.Call(callCtx, Request{
		Model:        o.model,
		Messages:     history,
		Tools:        tools,
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
		SystemPrompt: o.systemPrompt,
	})
}

// executeCall resolves one tool call: cache hit, RPC invocation, or an
// error payload. It never fails the turn.
func (o *Orchestrator) executeCall(ctx context.Context, logger zerolog.Logger, tc session.ToolCall) interface{} {
	// The call runs to completion even if the stream consumer disconnects;
	// the RPC client applies its own timeout.
	execCtx := context.WithoutCancel(ctx)

	if o.cache != nil {
		if cached, ok := o.cache.Get(execCtx, tc.Name, tc.Arguments); ok {
			logger.Info().Str("tool", tc.Name).Msg("Using cached tool result")
			return cached
		}
	}

	result, err := o.tools.Invoke(execCtx, tc.Name, tc.Arguments)
	if err != nil {
		logger.Error().Err(err).Str("tool", tc.Name).Msg("Tool execution failed")
		return map[string]interface{}{
			"error": err.Error(),
			"tool":  tc.Name,
		}
	}

	if o.cache != nil {
		o.cache.Set(execCtx, tc.Name, tc.Arguments, result, o.cacheTTL)
	}
	return result
}

func (o *Orchestrator) appendAssistant(sessionID, content string, toolCalls []session.ToolCall) {
	if err := o.sessions.Append(sessionID, session.Message{
		Role:      session.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}); err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist assistant message")
	}
}

func (o *Orchestrator) appendToolResult(sessionID string, tc session.ToolCall, result interface{}) {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"error":%q,"tool":%q}`, err.Error(), tc.Name))
	}

	if err := o.sessions.Append(sessionID, session.Message{
		Role:       session.RoleTool,
		Content:    string(content),
		ToolCallID: tc.ID,
	}); err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist tool result")
	}
}

// buildToolSpecs converts the cached descriptors into the model-facing
// function-calling shape.
func (o *Orchestrator) buildToolSpecs() []ToolSpec {
	descriptors := o.tools.ListTools()
	specs := make([]ToolSpec, 0, len(descriptors))

	for _, d := range descriptors {
		schema := map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
		if len(d.InputSchema) > 0 {
			var parsed map[string]interface{}
			if err := json.Unmarshal(d.InputSchema, &parsed); err == nil {
				schema = parsed
			}
		}

		description := d.Description
		if description == "" {
			description = fmt.Sprintf("Execute the %s tool", d.Name)
		}

		specs = append(specs, ToolSpec{
			Name:        d.Name,
			Description: description,
			Schema:      schema,
		})
	}

	return specs
}
