package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/veloverlay/api/internal/model"
)

// AllJobs is the topic of clients that follow every job.
const AllJobs = "*"

var pongMessage = []byte(`{"type":"pong"}`)

// Client is one WebSocket subscriber
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte

	pong chan struct{}
}

// Hub fans job status out to WebSocket subscribers. Clients subscribe to a
// single job id or to AllJobs.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stop       chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage is a payload for one job's subscribers
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()
			slog.Debug("websocket client registered", "topic", client.Topic)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Debug("websocket client unregistered", "topic", client.Topic)

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg.JobID, msg.Message)
			h.deliver(AllJobs, msg.Message)
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	close(h.stop)
}

// deliver drops slow clients instead of blocking the hub. Callers hold h.mu.
func (h *Hub) deliver(topic string, data []byte) {
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.remove(client)
		}
	}
}

// remove closes a client's queue once. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.Topic)
	}
}

// Subscribers counts clients on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// PublishStatus sends a job snapshot to the job's and AllJobs subscribers.
func (h *Hub) PublishStatus(snap model.JobSnapshot) {
	h.send(snap.JobID, StatusMessage(snap))
}

// PublishError sends a failure to the job's subscribers
func (h *Hub) PublishError(jobID, code, message string) {
	data, err := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
	if err != nil {
		slog.Warn("marshal error message", "error", err)
		return
	}
	h.send(jobID, data)
}

func (h *Hub) send(jobID string, data []byte) {
	if data == nil {
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		slog.Warn("websocket broadcast queue full, dropping message", "job_id", jobID)
	}
}

// StatusMessage encodes a snapshot as a status (or complete) message.
func StatusMessage(snap model.JobSnapshot) []byte {
	typ := model.WSMessageTypeStatus
	if snap.Status == model.JobStatusCompleted {
		typ = model.WSMessageTypeComplete
	}
	data, err := json.Marshal(model.WSStatusMessage{Type: typ, Job: snap})
	if err != nil {
		slog.Warn("marshal status message", "error", err)
		return nil
	}
	return data
}

// HandleConnection serves one WebSocket until it closes. initial, when not
// nil, is sent first so late subscribers see the current state.
func (h *Hub) HandleConnection(c *websocket.Conn, topic string, initial []byte) {
	client := &Client{
		Topic: topic,
		Conn:  c,
		Send:  make(chan []byte, 256),
		pong:  make(chan struct{}, 1),
	}
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.pong:
				if err := c.WriteMessage(websocket.TextMessage, pongMessage); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read", "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}
