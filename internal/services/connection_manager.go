package services

import (
	"log"
	"sync"

	"quill/internal/models"
)

// ConnectionManager tracks live panel connections
type ConnectionManager struct {
	conns map[string]*models.PanelConn
	mu    sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*models.PanelConn),
	}
}

// Add registers a panel connection
func (m *ConnectionManager) Add(conn *models.PanelConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ConnID] = conn
	log.Printf("🔌 [PANEL] Connection added: %s (total: %d)", conn.ConnID, len(m.conns))
}

// Remove unregisters a panel connection
func (m *ConnectionManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[connID]; exists {
		delete(m.conns, connID)
		log.Printf("🔌 [PANEL] Connection removed: %s (total: %d)", connID, len(m.conns))
	}
}

// Get returns the connection for connID, if present
func (m *ConnectionManager) Get(connID string) (*models.PanelConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// Count returns the number of live connections
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
