package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minervahq/minerva/pkg/session"
	"github.com/minervahq/minerva/pkg/toolrpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns one canned response per call, in order. Calls
// past the end of the script reuse the last entry.
type scriptedProvider struct {
	script []Response
	calls  int
	err    error
}

func (p *scriptedProvider) Call(ctx context.Context, request Request) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	resp := p.script[idx]
	return &resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type fakeToolClient struct {
	descriptors []toolrpc.Descriptor
	invokes     int
	invokeFn    func(name string, args map[string]interface{}) (interface{}, error)
}

func (f *fakeToolClient) ListTools() []toolrpc.Descriptor {
	return f.descriptors
}

func (f *fakeToolClient) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	f.invokes++
	if f.invokeFn != nil {
		return f.invokeFn(name, args)
	}
	return map[string]interface{}{"ok": true}, nil
}

type fakeCache struct {
	entries map[string]interface{}
	gets    int
	sets    int
}

func cacheKey(tool string, args map[string]interface{}) string {
	raw, _ := json.Marshal(args)
	return tool + ":" + string(raw)
}

func (f *fakeCache) Get(ctx context.Context, tool string, args map[string]interface{}) (interface{}, bool) {
	f.gets++
	v, ok := f.entries[cacheKey(tool, args)]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, tool string, args map[string]interface{}, value interface{}, ttl time.Duration) bool {
	f.sets++
	if f.entries == nil {
		f.entries = map[string]interface{}{}
	}
	f.entries[cacheKey(tool, args)] = value
	return true
}

func toolCallResponse(id, name string, args map[string]interface{}) Response {
	return Response{
		ToolCalls: []session.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

func setupOrchestrator(t *testing.T, provider Provider, tools ToolClient, cache ResultCache) (*Orchestrator, *session.Store) {
	t.Helper()

	store := session.NewStore()
	o, err := New(Config{
		Provider: provider,
		Tools:    tools,
		Cache:    cache,
		Sessions: store,
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Model:    "test-model",
	})
	require.NoError(t, err)

	return o, store
}

func TestNew(t *testing.T) {
	t.Run("should fail without provider", func(t *testing.T) {
		_, err := New(Config{
			Tools:    &fakeToolClient{},
			Sessions: session.NewStore(),
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should fail without tool client", func(t *testing.T) {
		_, err := New(Config{
			Provider: &scriptedProvider{},
			Sessions: session.NewStore(),
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tool client")
	})

	t.Run("should apply default loop settings", func(t *testing.T) {
		o, _ := setupOrchestrator(t, &scriptedProvider{}, &fakeToolClient{}, nil)

		assert.Equal(t, DefaultMaxRounds, o.maxRounds)
		assert.Equal(t, DefaultModelTimeout, o.modelTimeout)
		assert.Equal(t, DefaultCacheTTL, o.cacheTTL)
	})
}

func TestInvoke(t *testing.T) {
	t.Run("should return direct answer when no tools requested", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{{Content: "AAPL closed at $190."}}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "How did AAPL do today?", "sess-1")

		assert.Equal(t, "AAPL closed at $190.", answer)
		assert.Empty(t, toolsUsed)
		assert.Equal(t, 1, provider.calls)
	})

	t.Run("should execute requested tools then answer", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
			{Content: "AAPL is at $190."},
		}}
		tools := &fakeToolClient{
			invokeFn: func(name string, args map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{"price": 190.0}, nil
			},
		}
		o, _ := setupOrchestrator(t, provider, tools, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "What is AAPL at?", "sess-1")

		assert.Equal(t, "AAPL is at $190.", answer)
		assert.Equal(t, []string{"get_stock_price"}, toolsUsed)
		assert.Equal(t, 1, tools.invokes)
		assert.Equal(t, 2, provider.calls)
	})

	t.Run("should resolve every call in a batch before reasoning again", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			{ToolCalls: []session.ToolCall{
				{ID: "call-1", Name: "get_stock_price", Arguments: map[string]interface{}{"ticker": "AAPL"}},
				{ID: "call-2", Name: "get_stock_price", Arguments: map[string]interface{}{"ticker": "MSFT"}},
			}},
			{Content: "Both are up."},
		}}
		tools := &fakeToolClient{}
		o, store := setupOrchestrator(t, provider, tools, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "Compare AAPL and MSFT", "sess-1")

		assert.Equal(t, "Both are up.", answer)
		assert.Equal(t, []string{"get_stock_price", "get_stock_price"}, toolsUsed)
		assert.Equal(t, 2, tools.invokes)

		// Both tool results must sit between the two assistant messages.
		history, err := store.Load("sess-1")
		require.NoError(t, err)
		roles := make([]string, 0, len(history))
		for _, msg := range history {
			roles = append(roles, msg.Role)
		}
		assert.Equal(t, []string{
			session.RoleUser,
			session.RoleAssistant,
			session.RoleTool,
			session.RoleTool,
			session.RoleAssistant,
		}, roles)
	})

	t.Run("should run one act phase per scripted round", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
			toolCallResponse("call-2", "get_stock_news", map[string]interface{}{"ticker": "AAPL"}),
			toolCallResponse("call-3", "get_market_indices", map[string]interface{}{}),
			{Content: "Summary of the market."},
		}}
		tools := &fakeToolClient{}
		o, _ := setupOrchestrator(t, provider, tools, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "Give me a market summary", "sess-1")

		assert.Equal(t, "Summary of the market.", answer)
		assert.Equal(t, []string{"get_stock_price", "get_stock_news", "get_market_indices"}, toolsUsed)
		assert.Equal(t, 3, tools.invokes)
		// 3 rounds of reasoning plus the final answer.
		assert.Equal(t, 4, provider.calls)
	})

	t.Run("should answer a repeated question from cache with one RPC", func(t *testing.T) {
		script := []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"symbol": "AAPL"}),
			{Content: "AAPL is at $100."},
		}
		cache := &fakeCache{}
		tools := &fakeToolClient{
			invokeFn: func(name string, args map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{"price": 100.0}, nil
			},
		}

		first := &scriptedProvider{script: script}
		o, _ := setupOrchestrator(t, first, tools, cache)
		answer1, _ := o.Invoke(context.Background(), "price of AAPL", "s1")

		second := &scriptedProvider{script: script}
		o2, _ := setupOrchestrator(t, second, tools, cache)
		answer2, _ := o2.Invoke(context.Background(), "price of AAPL", "s1")

		assert.Equal(t, answer1, answer2)
		assert.Equal(t, 1, tools.invokes)
	})

	t.Run("should use cached result without invoking the tool", func(t *testing.T) {
		args := map[string]interface{}{"ticker": "AAPL"}
		cache := &fakeCache{entries: map[string]interface{}{
			cacheKey("get_stock_price", args): map[string]interface{}{"price": 185.0},
		}}
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", args),
			{Content: "AAPL is at $185."},
		}}
		tools := &fakeToolClient{}
		o, _ := setupOrchestrator(t, provider, tools, cache)

		answer, toolsUsed := o.Invoke(context.Background(), "What is AAPL at?", "sess-1")

		assert.Equal(t, "AAPL is at $185.", answer)
		assert.Equal(t, []string{"get_stock_price"}, toolsUsed)
		assert.Zero(t, tools.invokes)
		assert.Zero(t, cache.sets)
	})

	t.Run("should cache fresh results for later turns", func(t *testing.T) {
		cache := &fakeCache{}
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
			{Content: "Done."},
		}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, cache)

		o.Invoke(context.Background(), "What is AAPL at?", "sess-1")

		assert.Equal(t, 1, cache.sets)
	})

	t.Run("should surface tool failure to the model instead of aborting", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
			{Content: "The price feed is unavailable right now."},
		}}
		tools := &fakeToolClient{
			invokeFn: func(name string, args map[string]interface{}) (interface{}, error) {
				return nil, fmt.Errorf("connection refused")
			},
		}
		o, store := setupOrchestrator(t, provider, tools, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "What is AAPL at?", "sess-1")

		assert.Equal(t, "The price feed is unavailable right now.", answer)
		assert.Equal(t, []string{"get_stock_price"}, toolsUsed)

		history, err := store.Load("sess-1")
		require.NoError(t, err)

		var toolMsg *session.Message
		for i := range history {
			if history[i].Role == session.RoleTool {
				toolMsg = &history[i]
			}
		}
		require.NotNil(t, toolMsg)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &payload))
		assert.Equal(t, "connection refused", payload["error"])
		assert.Equal(t, "get_stock_price", payload["tool"])
	})

	t.Run("should force termination when the model never stops requesting tools", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
		}}
		tools := &fakeToolClient{}

		store := session.NewStore()
		o, err := New(Config{
			Provider:  provider,
			Tools:     tools,
			Sessions:  store,
			Logger:    zerolog.New(os.Stdout).Level(zerolog.Disabled),
			MaxRounds: 3,
		})
		require.NoError(t, err)

		answer, toolsUsed := o.Invoke(context.Background(), "What is AAPL at?", "sess-1")

		assert.Contains(t, answer, "maximum number of tool calls")
		assert.Len(t, toolsUsed, 3)
		// 3 rounds plus the final capped reasoning step.
		assert.Equal(t, 4, provider.calls)
		assert.Equal(t, 3, tools.invokes)

		// The last pending call still gets a tool result before the
		// final assistant message.
		history, err := store.Load("sess-1")
		require.NoError(t, err)
		last := history[len(history)-1]
		assert.Equal(t, session.RoleAssistant, last.Role)
		assert.Equal(t, session.RoleTool, history[len(history)-2].Role)
	})

	t.Run("should answer with the error when the model call fails", func(t *testing.T) {
		provider := &scriptedProvider{err: fmt.Errorf("rate limited upstream")}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "Anything?", "sess-1")

		assert.Contains(t, answer, "rate limited upstream")
		assert.Empty(t, toolsUsed)
	})

	t.Run("should return an error answer for an invalid session id", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{{Content: "ok"}}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		answer, toolsUsed := o.Invoke(context.Background(), "Hello", "../etc/passwd")

		assert.Contains(t, answer, "I encountered an error")
		assert.Empty(t, toolsUsed)
		assert.Zero(t, provider.calls)
	})
}

func TestStream(t *testing.T) {
	collect := func(ch <-chan Event) []Event {
		events := []Event{}
		for ev := range ch {
			events = append(events, ev)
		}
		return events
	}

	t.Run("should emit session first and done last", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{
			toolCallResponse("call-1", "get_stock_price", map[string]interface{}{"ticker": "AAPL"}),
			{Content: "AAPL is at $190."},
		}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		events := collect(o.Stream(context.Background(), "What is AAPL at?", "sess-1"))

		require.NotEmpty(t, events)
		assert.Equal(t, EventSession, events[0].Type)
		assert.Equal(t, "sess-1", events[0].SessionID)
		assert.Equal(t, EventDone, events[len(events)-1].Type)

		updates := 0
		for _, ev := range events[1 : len(events)-1] {
			assert.Equal(t, EventUpdate, ev.Type)
			updates++
		}
		assert.GreaterOrEqual(t, updates, 2)
	})

	t.Run("should emit exactly one terminal event", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{{Content: "hi"}}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		events := collect(o.Stream(context.Background(), "Hello", "sess-1"))

		terminals := 0
		for _, ev := range events {
			if ev.Type == EventDone || ev.Type == EventError {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals)
	})

	t.Run("should report invalid session as an error event", func(t *testing.T) {
		provider := &scriptedProvider{script: []Response{{Content: "hi"}}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		events := collect(o.Stream(context.Background(), "Hello", "bad/key"))

		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, EventError, last.Type)
		assert.NotEmpty(t, last.Error)
	})

	t.Run("should resolve the whole batch when the consumer disconnects mid-call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		provider := &scriptedProvider{script: []Response{
			{ToolCalls: []session.ToolCall{
				{ID: "call-1", Name: "get_stock_price", Arguments: map[string]interface{}{"ticker": "AAPL"}},
				{ID: "call-2", Name: "get_stock_news", Arguments: map[string]interface{}{"ticker": "AAPL"}},
			}},
			{Content: "AAPL looks fine."},
		}}
		tools := &fakeToolClient{
			invokeFn: func(name string, args map[string]interface{}) (interface{}, error) {
				if name == "get_stock_price" {
					cancel() // consumer walks away while the first call runs
				}
				return map[string]interface{}{"ok": true}, nil
			},
		}
		o, store := setupOrchestrator(t, provider, tools, nil)

		for range o.Stream(ctx, "What about AAPL?", "sess-1") {
		}

		// Both calls in the batch still ran to completion.
		assert.Equal(t, 2, tools.invokes)

		// The persisted history leaves no tool call dangling: every id
		// issued by an assistant message has exactly one tool result.
		history, err := store.Load("sess-1")
		require.NoError(t, err)

		issued := map[string]int{}
		resolved := map[string]int{}
		for _, msg := range history {
			for _, tc := range msg.ToolCalls {
				issued[tc.ID]++
			}
			if msg.Role == session.RoleTool {
				resolved[msg.ToolCallID]++
			}
		}
		assert.Equal(t, map[string]int{"call-1": 1, "call-2": 1}, issued)
		assert.Equal(t, issued, resolved)
	})

	t.Run("should stop emitting when the consumer context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		provider := &scriptedProvider{script: []Response{{Content: "hi"}}}
		o, _ := setupOrchestrator(t, provider, &fakeToolClient{}, nil)

		ch := o.Stream(ctx, "Hello", "sess-1")

		// Channel must close without blocking even with no consumer.
		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("stream did not terminate after cancellation")
			}
		}
	})
}

func TestBuildToolSpecs(t *testing.T) {
	t.Run("should convert descriptors with schemas", func(t *testing.T) {
		tools := &fakeToolClient{descriptors: []toolrpc.Descriptor{
			{
				Name:        "get_stock_price",
				Description: "Fetch the latest quote",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"ticker":{"type":"string"}},"required":["ticker"]}`),
			},
		}}
		o, _ := setupOrchestrator(t, &scriptedProvider{}, tools, nil)

		specs := o.buildToolSpecs()

		require.Len(t, specs, 1)
		assert.Equal(t, "get_stock_price", specs[0].Name)
		assert.Equal(t, "Fetch the latest quote", specs[0].Description)
		assert.Equal(t, "object", specs[0].Schema["type"])
		assert.Contains(t, specs[0].Schema, "required")
	})

	t.Run("should fall back to an empty object schema", func(t *testing.T) {
		tools := &fakeToolClient{descriptors: []toolrpc.Descriptor{
			{Name: "ping"},
		}}
		o, _ := setupOrchestrator(t, &scriptedProvider{}, tools, nil)

		specs := o.buildToolSpecs()

		require.Len(t, specs, 1)
		assert.Equal(t, "object", specs[0].Schema["type"])
		assert.NotEmpty(t, specs[0].Description)
	})
}
