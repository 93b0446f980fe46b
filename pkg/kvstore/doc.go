// Package kvstore provides the key/value backend shared by the response
// cache and the rate limiter. The Redis-backed implementation degrades to
// pass-through when the server is unreachable so dependents stay
// functional without caching or limiting.
package kvstore
