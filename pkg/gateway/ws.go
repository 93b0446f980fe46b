package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// wsFrame is one websocket message: the wire event name plus its payload.
type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// handleWebSocket serves the same event stream as /stream over a
// websocket. The client sends one query frame; the server answers with the
// event sequence and closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	var req QueryRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.writeWSError(conn, "invalid JSON query frame")
		return
	}
	if req.Message == "" {
		s.writeWSError(conn, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	for ev := range s.agent.Stream(r.Context(), req.Message, req.SessionID) {
		name, payload := wireEvent(ev)
		if err := conn.WriteJSON(wsFrame{Event: name, Data: payload}); err != nil {
			s.logger.Debug().Err(err).Msg("WebSocket client disconnected")
			return
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
}

func (s *Server) writeWSError(conn *websocket.Conn, message string) {
	frame := wsFrame{Event: "error", Data: map[string]interface{}{"error": message}}
	if data, err := json.Marshal(frame); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}
