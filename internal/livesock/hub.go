// Package livesock pushes accepted readings and raised alerts to connected
// websocket clients so dashboards can follow the pipeline live.
package livesock

import (
	"encoding/json"
	"sync"

	"silowatch/pkg/logx"
)

// Hub tracks connected clients and fans broadcast frames out to them.
// Slow or gone clients are dropped rather than allowed to stall the loop.
type Hub struct {
	log logx.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[*Client]struct{}

	stopCh   chan struct{}
	stopDone chan struct{}
}

func NewHub(log logx.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]struct{}),
		stopCh:     make(chan struct{}),
		stopDone:   make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.stopDone)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("livesock client connected", logx.String("remote", c.remoteAddr()), logx.Int("clients", n))

		case c := <-h.unregister:
			h.drop(c)

		case frame := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					delete(h.clients, c)
					close(c.send)
					h.log.Debug("livesock client lagging, dropped", logx.String("remote", c.remoteAddr()))
				}
			}
			h.mu.Unlock()

		case <-h.stopCh:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stopCh)
	<-h.stopDone
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debug("livesock client disconnected", logx.String("remote", c.remoteAddr()))
	}
}

// Broadcast marshals payload into a typed frame and queues it for all
// clients. It never blocks the caller; frames are shed when the hub's
// queue is full.
func (h *Hub) Broadcast(kind string, payload any) {
	frame, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		h.log.Warn("livesock marshal failed", logx.Err(err))
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.stopCh:
	default:
		h.log.Debug("livesock broadcast queue full, frame dropped", logx.String("type", kind))
	}
}
