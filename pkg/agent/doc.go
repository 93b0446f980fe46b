// Package agent drives the market-intelligence conversation loop. The
// orchestrator alternates between asking the language model to reason over
// the session history and executing the tool calls it requests, until the
// model produces a plain answer.
package agent
