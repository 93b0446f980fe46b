package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// withRequest wraps a handler with the per-request plumbing: shutdown
// rejection, in-flight tracking, request id, access logging, and (when a
// limiter is given) rate limiting keyed by client IP.
func (s *Server) withRequest(endpoint string, limiter Limiter, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			s.writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		requestID, err := gonanoid.New()
		if err != nil {
			requestID = "unknown"
		}
		w.Header().Set("X-Request-ID", requestID)

		ip := s.getClientIP(r)

		if limiter != nil {
			allowed, info := limiter.Check(r.Context(), ip, endpoint)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetIn))

			if !allowed {
				s.logger.Warn().
					Str("ip", ip).
					Str("endpoint", endpoint).
					Int("retryAfter", info.ResetIn).
					Msg("Rate limit exceeded")

				w.Header().Set("Retry-After", fmt.Sprintf("%d", info.ResetIn))
				s.writeError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
		}

		handler(w, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int64("duration", time.Since(startTime).Milliseconds()).
			Msg("Request completed")
	}
}

// getClientIP extracts the client IP from the request.
func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response body")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
