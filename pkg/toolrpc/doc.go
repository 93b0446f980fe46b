// Package toolrpc owns the session to the remote MCP tool server. It
// exposes the cached tool descriptor list and a single invoke entry point,
// and recovers from connection loss by reconnecting before the next call.
package toolrpc
