// Package websocket streams live job updates to subscribed clients. One
// client subscribes to exactly one job id; a job may have any number of
// subscribers.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/tracklab/api/internal/model"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

type client struct {
	conn  *websocket.Conn
	jobID string
	send  chan []byte
}

// Hub fans job updates out to websocket subscribers. Run must be started
// in its own goroutine before any connection is handled.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg
}

type broadcastMsg struct {
	jobID   string
	payload []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 64),
	}
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.jobID] == nil {
				h.clients[c.jobID] = make(map[*client]struct{})
			}
			h.clients[c.jobID][c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.clients[c.jobID]; ok {
				if _, ok := subs[c]; ok {
					delete(subs, c)
					close(c.send)
					if len(subs) == 0 {
						delete(h.clients, c.jobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients[msg.jobID] {
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer, drop the update rather than block
					// the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastProgress pushes an in-flight update to a job's subscribers.
func (h *Hub) BroadcastProgress(jobID string, progress int, step, message string) {
	h.publish(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Status:      model.JobStatusProcessing,
		Progress:    progress,
		CurrentStep: step,
		Message:     message,
	})
}

// BroadcastComplete pushes the terminal success update.
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.publish(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError pushes the terminal failure update.
func (h *Hub) BroadcastError(jobID, code, message string) {
	h.publish(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
}

func (h *Hub) publish(jobID string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WebSocket] WARN: failed to marshal update for job %s: %v", jobID, err)
		return
	}
	h.broadcast <- broadcastMsg{jobID: jobID, payload: payload}
}

// Subscribers reports how many clients are watching a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// HandleConnection serves one subscriber connection until it closes. Must
// be invoked from a fiber websocket route.
func (h *Hub) HandleConnection(conn *websocket.Conn, jobID string) {
	c := &client{conn: conn, jobID: jobID, send: make(chan []byte, 16)}
	h.register <- c

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Reads are discarded; the channel exists to observe disconnects
		// and answer pings.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.unregister <- c
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
