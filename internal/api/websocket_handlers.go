// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apperrors "github.com/Corphon/StoryboardStudio/internal/errors"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

// clientMessage is a frame sent by the browser
type clientMessage struct {
	Type    string        `json:"type"`
	Control *view.Control `json:"control,omitempty"`
}

// SessionWebSocket streams the session's render trees and accepts control
// activations from the browser.
func (h *Handler) SessionWebSocket(c *gin.Context) {
	session := currentSession(c)
	if session == nil {
		h.response.NotFound(c, "session")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"session_id": session.ID,
			"error":      err.Error(),
		})
		return
	}

	client := NewWebSocketClient(conn, session.ID)
	if !h.ws.Register(client) {
		conn.Close()
		return
	}
	defer h.ws.Unregister(client)

	_ = client.SendMessage(ServerMessage{Type: MessageConnected, SessionID: session.ID})
	client.Attach(session.Projector())

	go h.handleWebSocketWrites(client)
	h.handleWebSocketReads(client, session)
}

func (h *Handler) handleWebSocketReads(client *WebSocketClient, session *services.EditorSession) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !client.IsClosed() {
				h.logger.Warn("WebSocket read failed", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err.Error(),
				})
			}
			return
		}

		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var message clientMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			client.SendError(ErrorBadRequest, "malformed message")
			continue
		}
		h.handleMessage(client, session, message)
	}
}

func (h *Handler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Handler) handleMessage(client *WebSocketClient, session *services.EditorSession, message clientMessage) {
	switch message.Type {
	case MessagePing:
		_ = client.SendMessage(ServerMessage{Type: MessagePong})

	case MessageSort:
		session.SortScenes()
		_ = client.SendMessage(ServerMessage{Type: MessageAck, Action: MessageSort})

	case MessageControl:
		if message.Control == nil {
			client.SendError(ErrorBadRequest, "control message without control")
			return
		}
		task, err := session.Dispatch(*message.Control)
		if err != nil {
			sendAppError(client, err)
			return
		}

		ack := ServerMessage{Type: MessageAck, Action: string(message.Control.Action)}
		if task != nil {
			ack.Task = task.Info()
			go h.reportTask(client, task)
		}
		_ = client.SendMessage(ack)

	default:
		client.SendError(ErrorBadRequest, "unknown message type "+message.Type)
	}
}

// reportTask tells every browser of the session how a task ended
func (h *Handler) reportTask(client *WebSocketClient, task *services.Task) {
	select {
	case <-task.Done():
		h.ws.BroadcastToSession(client.sessionID, ServerMessage{Type: MessageTask, Task: task.Info()})
	case <-client.done:
	}
}

func sendAppError(client *WebSocketClient, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		client.SendError(appErr.Code, appErr.Message)
		return
	}
	client.SendError(ErrorInternalError, err.Error())
}
