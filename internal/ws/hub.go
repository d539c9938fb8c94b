// Package ws streams camera health and event notifications to WebSocket
// subscribers. Clients subscribe per camera or to "*" for everything; frame
// pixels never cross this boundary, only metadata.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AllCameras subscribes a client to every camera's messages.
const AllCameras = "*"

// StatusHub manages WebSocket connections for health and event streaming.
type StatusHub struct {
	// clients maps camera_id -> set of connections
	clients map[string]map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewStatusHub creates a new status hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register adds a connection for a specific camera.
func (h *StatusHub) Register(cameraID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*websocket.Conn]bool)
	}
	h.clients[cameraID][conn] = true
	log.Printf("[WS] client registered for camera %s (total: %d)", cameraID, len(h.clients[cameraID]))
}

// Unregister removes a connection for a specific camera.
func (h *StatusHub) Unregister(cameraID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[cameraID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, cameraID)
		}
		log.Printf("[WS] client unregistered for camera %s", cameraID)
	}
}

// HasClients returns true if anyone is listening for a camera.
func (h *StatusHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients[AllCameras]) > 0 {
		return true
	}
	conns, ok := h.clients[cameraID]
	return ok && len(conns) > 0
}

// BroadcastHealth sends a health snapshot to the camera's subscribers.
func (h *StatusHub) BroadcastHealth(msg *HealthMessage) {
	h.broadcast(msg.CameraID, msg)
}

// BroadcastEvent sends an event notification to the camera's subscribers.
func (h *StatusHub) BroadcastEvent(msg *EventMessage) {
	h.broadcast(msg.CameraID, msg)
}

func (h *StatusHub) broadcast(cameraID string, msg any) {
	if !h.HasClients(cameraID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] error marshaling message: %v", err)
		return
	}

	h.send(cameraID, data)
	h.send(AllCameras, data)
}

func (h *StatusHub) send(key string, data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[key]))
	for conn := range h.clients[key] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] error sending to client: %v", err)
			h.Unregister(key, conn)
			conn.Close()
		}
	}
}
