package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minervahq/minerva/pkg/agent"
)

// handleRoot serves the service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "minerva",
		"status":    "running",
		"endpoints": []string{"/query", "/stream", "/ws", "/health"},
	})
}

// handleHealth serves liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// parseQuery reads and validates the request body shared by /query and
// /stream, minting a session id when the client did not send one.
func (s *Server) parseQuery(r *http.Request) (QueryRequest, error) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	if req.Message == "" {
		return req, fmt.Errorf("message is required")
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}
	return req, nil
}

func newSessionID() string {
	return uuid.NewString()
}

// handleQuery runs one blocking agent turn.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := s.parseQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, toolsUsed := s.agent.Invoke(r.Context(), req.Message, req.SessionID)

	s.writeJSON(w, http.StatusOK, QueryResponse{
		Response:  answer,
		SessionID: req.SessionID,
		ToolsUsed: toolsUsed,
	})
}

// handleStream runs one agent turn as a server-sent event stream. Event
// names on the wire are session, message, done and error.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := s.parseQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.agent.Stream(r.Context(), req.Message, req.SessionID) {
		name, payload := wireEvent(ev)

		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error().Err(err).Str("event", name).Msg("Failed to encode stream event")
			continue
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			// Client is gone; the agent finishes in the background.
			s.logger.Debug().Err(err).Msg("Stream client disconnected")
			return
		}
		flusher.Flush()
	}
}

// wireEvent maps an internal agent event to its wire name and payload.
func wireEvent(ev agent.Event) (string, interface{}) {
	switch ev.Type {
	case agent.EventSession:
		return "session", map[string]interface{}{"session_id": ev.SessionID}
	case agent.EventUpdate:
		return "message", ev.Content
	case agent.EventError:
		return "error", map[string]interface{}{"error": ev.Error}
	default:
		return "done", map[string]interface{}{}
	}
}
