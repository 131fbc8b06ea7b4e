// internal/api/websocket.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryboardStudio/internal/utils"
	"github.com/Corphon/StoryboardStudio/internal/view"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendQueue    = 64
)

var errSendQueueFull = errors.New("websocket send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection is the part of *websocket.Conn the hub relies on
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient is one browser connection of a session. It is a view.Sink:
// every render tree the session projects is queued to the socket.
type WebSocketClient struct {
	conn       WebSocketConnection
	sessionID  string
	send       chan []byte
	done       chan struct{}
	closed     int32
	lastPing   atomic.Int64
	createdAt  time.Time

	sinkMu     sync.Mutex
	removeSink func()
}

// NewWebSocketClient wraps conn for sessionID
func NewWebSocketClient(conn WebSocketConnection, sessionID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendQueue),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Message types exchanged over the socket
const (
	MessageRender    = "render"
	MessageTask      = "task"
	MessageAck       = "ack"
	MessageError     = "error"
	MessagePing      = "ping"
	MessagePong      = "pong"
	MessageControl   = "control"
	MessageSort      = "sort"
	MessageConnected = "connected"
)

// ServerMessage is a frame pushed to the browser
type ServerMessage struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Tree      *view.RenderTree `json:"tree,omitempty"`
	Task      interface{}      `json:"task,omitempty"`
	Action    string           `json:"action,omitempty"`
	Error     *APIError        `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Mount queues tree for the browser. A client too slow to drain its queue
// is closed; it gets the current tree again when it reconnects.
func (client *WebSocketClient) Mount(tree view.RenderTree) error {
	err := client.SendMessage(ServerMessage{Type: MessageRender, Tree: &tree})
	if errors.Is(err, errSendQueueFull) {
		client.Close()
	}
	return err
}

// Attach subscribes the client to projector until it closes
func (client *WebSocketClient) Attach(projector *view.Projector) {
	remove := projector.AddSink(client)

	client.sinkMu.Lock()
	if client.IsClosed() {
		client.sinkMu.Unlock()
		remove()
		return
	}
	client.removeSink = remove
	client.sinkMu.Unlock()
}

// SendMessage marshals message and queues it without blocking
func (client *WebSocketClient) SendMessage(message ServerMessage) error {
	if client.IsClosed() {
		return nil
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.send <- payload:
		return nil
	case <-client.done:
		return nil
	default:
		return errSendQueueFull
	}
}

// SendError queues an error frame
func (client *WebSocketClient) SendError(code, message string) {
	_ = client.SendMessage(ServerMessage{
		Type:  MessageError,
		Error: &APIError{Code: code, Message: message},
	})
}

// Close detaches the client from its projector and closes the connection
func (client *WebSocketClient) Close() {
	if !atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		return
	}
	close(client.done)

	client.sinkMu.Lock()
	remove := client.removeSink
	client.removeSink = nil
	client.sinkMu.Unlock()
	if remove != nil {
		remove()
	}
	if client.conn != nil {
		client.conn.Close()
	}
}

// IsClosed reports whether Close ran
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing records activity on the connection
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired reports whether the client has been silent for longer than timeout
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// WebSocketManager tracks the connections of every session
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // session id -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	quit        chan struct{}
	stopped     chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewWebSocketManager creates a manager. Start must be called before use.
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		register:    make(chan *WebSocketClient, 256),
		unregister:  make(chan *WebSocketClient, 256),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		pingTimeout: 2 * pongWait,
		logger:      logger,
	}
}

// Start launches the manager loop
func (manager *WebSocketManager) Start() {
	manager.startOnce.Do(func() {
		manager.started.Store(true)
		go manager.run()
	})
}

func (manager *WebSocketManager) run() {
	defer close(manager.stopped)

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)
		case client := <-manager.unregister:
			manager.unregisterClient(client)
		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()
		case <-manager.quit:
			manager.shutdown()
			return
		}
	}
}

// Stop closes every connection and ends the loop
func (manager *WebSocketManager) Stop() {
	manager.stopOnce.Do(func() { close(manager.quit) })
	if manager.started.Load() {
		<-manager.stopped
	} else {
		manager.shutdown()
	}
}

// Register queues client for registration
func (manager *WebSocketManager) Register(client *WebSocketClient) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.quit:
		return false
	}
}

// Unregister queues client for removal, closing it if the manager is gone
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.quit:
		client.Close()
	case <-time.After(time.Second):
		manager.logger.Warn("WebSocket unregister timed out", map[string]interface{}{"session_id": client.sessionID})
		client.Close()
	}
}

func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	manager.mutex.Unlock()

	client.UpdatePing()
	manager.logger.Info("WebSocket client connected", map[string]interface{}{"session_id": client.sessionID})
}

func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	if clients, exists := manager.connections[client.sessionID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Info("WebSocket client disconnected", map[string]interface{}{"session_id": client.sessionID})
}

// cleanupExpiredConnections drops closed and silent clients
func (manager *WebSocketManager) cleanupExpiredConnections() {
	var expired []*WebSocketClient

	manager.mutex.Lock()
	for sessionID, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(clients, client)
				expired = append(expired, client)
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}
	manager.mutex.Unlock()

	for _, client := range expired {
		client.Close()
	}
}

// CloseSession disconnects every client of sessionID
func (manager *WebSocketManager) CloseSession(sessionID string) {
	manager.mutex.Lock()
	clients := manager.connections[sessionID]
	delete(manager.connections, sessionID)
	manager.mutex.Unlock()

	for client := range clients {
		client.Close()
	}
}

func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	connections := manager.connections
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
	manager.mutex.Unlock()

	for _, clients := range connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.logger.Info("WebSocket manager stopped", nil)
}

// BroadcastToSession queues message for every client of sessionID
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message ServerMessage) {
	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for client := range manager.connections[sessionID] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if err := client.SendMessage(message); errors.Is(err, errSendQueueFull) {
			client.Close()
		}
	}
}

// ClientCount returns the number of open connections of sessionID
func (manager *WebSocketManager) ClientCount(sessionID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[sessionID])
}

// GetStatus summarizes open connections
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	total := 0
	for _, clients := range manager.connections {
		total += len(clients)
	}
	return map[string]interface{}{
		"sessions":          len(manager.connections),
		"total_connections": total,
	}
}
