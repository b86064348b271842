package player

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected ViewerSessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ViewerSession // sessionID → session
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ViewerSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same ID,
// it is closed first (handles duplicate connect / reconnect).
func (sm *SessionManager) Register(s *ViewerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, ok := sm.sessions[s.SessionID]; ok {
		old.Close()
		sm.logger.Info("duplicate session displaced",
			zap.String("session_id", s.SessionID))
	}
	sm.sessions[s.SessionID] = s
	sm.logger.Info("viewer session registered",
		zap.String("session_id", s.SessionID),
		zap.Int64("operator_id", s.OperatorID))
}

// Unregister removes the session for a sessionID.
func (sm *SessionManager) Unregister(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
	sm.logger.Info("viewer session unregistered", zap.String("session_id", sessionID))
}

// Get returns the session for a sessionID, or nil if not found.
func (sm *SessionManager) Get(sessionID string) *ViewerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[sessionID]
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*ViewerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*ViewerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// BroadcastAll sends a raw pre-encoded packet to every connected session.
// Uses non-blocking send to prevent slow connections from blocking the broadcast.
func (sm *SessionManager) BroadcastAll(data []byte) {
	sm.mu.RLock()
	sessions := make([]*ViewerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	for _, s := range sessions {
		select {
		case s.SendChan <- data:
		default:
			// Channel full, drop packet for this session.
			sm.logger.Warn("broadcast dropped packet for slow client",
				zap.String("session_id", s.SessionID))
		}
	}
}

// BroadcastToAll sends a packet to every connected session (typed version).
func (sm *SessionManager) BroadcastToAll(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		sm.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	sm.BroadcastAll(data)
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sm.mu.Lock()
	sessions := make([]*ViewerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for all sessions to close (with timeout)
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		sm.mu.RLock()
		count := len(sm.sessions)
		sm.mu.RUnlock()
		if count == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
