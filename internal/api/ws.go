package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kubechat/kubechat/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth is the X-API-Key header, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is one client message over the websocket.
type wsInbound struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// wsFrame is one server event. Type is one of session, token, tool,
// answer, error.
type wsFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Status    string `json:"status,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleChatWS runs turns over a persistent websocket. Each inbound
// message is one turn; events stream back as they happen. The session
// sticks for the connection after the first turn establishes it.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var sessionID string
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if in.Message == "" {
			s.wsSend(conn, wsFrame{Type: "error", Error: "message is required"})
			continue
		}
		if in.SessionID != "" {
			sessionID = in.SessionID
		}

		sess, err := s.sessions.Resolve(sessionID)
		if err != nil {
			s.wsSend(conn, wsFrame{Type: "error", Error: "session error"})
			continue
		}
		sessionID = sess.ID
		s.wsSend(conn, wsFrame{Type: "session", SessionID: sess.ID})

		callback := func(ev llm.StreamEvent) {
			switch ev.Kind {
			case llm.KindToken:
				s.wsSend(conn, wsFrame{Type: "token", Token: ev.Token})
			case llm.KindToolCallStart:
				s.wsSend(conn, wsFrame{Type: "tool", Tool: ev.ToolCall.Name, Status: "running"})
			case llm.KindToolCallDone:
				status := "done"
				if ev.ToolError != "" {
					status = "error"
				}
				s.wsSend(conn, wsFrame{Type: "tool", Tool: ev.ToolName, Status: status})
			}
		}

		result, err := s.sessions.RunTurn(r.Context(), sess.ID, in.Message, callback)
		if err != nil {
			s.logger.Error("websocket turn failed", "session", sess.ID, "error", err)
			s.wsSend(conn, wsFrame{Type: "error", Error: "agent error"})
			continue
		}
		s.wsSend(conn, wsFrame{Type: "answer", SessionID: sess.ID, Answer: result.Answer})
	}
}

func (s *Server) wsSend(conn *websocket.Conn, frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
