// Package session stores conversation history keyed by session identifier.
// The store is in-memory and session-scoped; durable persistence is an
// external concern.
package session
