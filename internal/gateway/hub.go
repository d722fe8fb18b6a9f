package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 256
	writeTimeout     = 10 * time.Second
)

// Hub fans live task output out to WebSocket watchers. Subscriptions are
// per task; chunks for one task are delivered in publish order. A slow
// client is dropped rather than allowed to stall the worker.
type Hub struct {
	mu      sync.RWMutex
	watches map[string]map[*hubClient]struct{} // task_id -> clients
	log     *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan string
	done chan struct{}
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{watches: make(map[string]map[*hubClient]struct{}), log: log}
}

// Publish implements the worker pool's output sink.
func (h *Hub) Publish(taskID, chunk string) {
	h.mu.RLock()
	clients := h.watches[taskID]
	for c := range clients {
		select {
		case c.send <- chunk:
		default:
			// Buffer full: the client is too slow, cut it loose.
			c.close()
		}
	}
	h.mu.RUnlock()
}

// Watchers reports how many clients follow a task.
func (h *Hub) Watchers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watches[taskID])
}

// serve pumps chunks to one connection until it drops.
func (h *Hub) serve(taskID string, conn *websocket.Conn) {
	client := &hubClient{conn: conn, send: make(chan string, clientSendBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.watches[taskID] == nil {
		h.watches[taskID] = make(map[*hubClient]struct{})
	}
	h.watches[taskID][client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("watcher connected", "task_id", taskID)

	defer func() {
		h.mu.Lock()
		delete(h.watches[taskID], client)
		if len(h.watches[taskID]) == 0 {
			delete(h.watches, taskID)
		}
		h.mu.Unlock()
		client.close()
		h.log.Debug("watcher disconnected", "task_id", taskID)
	}()

	// Drain reads so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				client.close()
				return
			}
		}
	}()

	for {
		select {
		case chunk := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
