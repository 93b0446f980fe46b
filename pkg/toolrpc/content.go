package toolrpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ResultKind tags the variant of a converted tool result.
type ResultKind int

const (
	// KindJSON holds a structured value decoded from a text chunk.
	KindJSON ResultKind = iota
	// KindText holds a plain-text chunk that did not decode as JSON.
	KindText
	// KindUnknown holds non-text content the client does not interpret.
	KindUnknown
)

// Result is the tagged variant for the opaque RPC content union. Convert
// produces one; Value performs the total conversion into the
// JSON-serializable shape the orchestrator expects.
type Result struct {
	Kind ResultKind
	JSON interface{}
	Text string
	Raw  interface{}
}

// Convert folds the chunks of an MCP call result into a single Result.
// Text chunks are opportunistically JSON-decoded; the last decodable chunk
// wins, matching the tool server's single-chunk responses.
func Convert(res *mcp.CallToolResult) Result {
	if res == nil || len(res.Content) == 0 {
		return Result{Kind: KindText, Text: ""}
	}

	out := Result{Kind: KindUnknown, Raw: res.Content}

	for _, chunk := range res.Content {
		tc, ok := chunk.(mcp.TextContent)
		if !ok {
			continue
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(tc.Text), &decoded); err == nil {
			out = Result{Kind: KindJSON, JSON: decoded}
		} else if out.Kind != KindJSON {
			out = Result{Kind: KindText, Text: tc.Text}
		}
	}

	return out
}

// Value converts the variant into a JSON-serializable value. Text and
// unknown content are wrapped as {"result": <string>} so every tool result
// has a uniform object shape downstream.
func (r Result) Value() interface{} {
	switch r.Kind {
	case KindJSON:
		return r.JSON
	case KindText:
		return map[string]interface{}{"result": r.Text}
	default:
		return map[string]interface{}{"result": fmt.Sprintf("%v", r.Raw)}
	}
}

// flattenText joins the text chunks of a result for error reporting.
func flattenText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}

	var parts []string
	for _, chunk := range res.Content {
		if tc, ok := chunk.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, " ")
}
