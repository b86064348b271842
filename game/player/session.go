package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ViewerSession represents a connected viewer's WebSocket session. A viewer
// watches one district and, as the warden's quarry, reports its own position.
type ViewerSession struct {
	SessionID  string
	OperatorID int64
	Name       string

	Conn *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	// mu guards the fields below: the read pump writes them while the room
	// loop and admin endpoints read them.
	mu          sync.Mutex
	districtID  int
	X, Y        float64
	Dirty       bool // position changed this tick
	LastCommand time.Time

	logger *zap.Logger
}

// NewViewerSession creates a ViewerSession with the write goroutine started.
func NewViewerSession(sessionID string, operatorID int64, conn *websocket.Conn, logger *zap.Logger) *ViewerSession {
	s := &ViewerSession{
		SessionID:  sessionID,
		OperatorID: operatorID,
		Conn:       conn,
		SendChan:   make(chan []byte, sendChanBuf),
		Done:       make(chan struct{}),
		logger:     logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *ViewerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.String("session_id", s.SessionID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *ViewerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.String("session_id", s.SessionID),
				zap.String("type", pkt.Type))
		}
	}
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *ViewerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping raw packet",
				zap.String("session_id", s.SessionID))
		}
	}
}

// Close signals the writePump to shut down.
func (s *ViewerSession) Close() {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *ViewerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// District returns the district the viewer is currently watching, 0 if none.
func (s *ViewerSession) District() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.districtID
}

// SetDistrict records the district the viewer is watching.
func (s *ViewerSession) SetDistrict(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.districtID = id
}

// SetPosition updates the session position fields thread-safely.
func (s *ViewerSession) SetPosition(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.X = x
	s.Y = y
	s.Dirty = true
}

// Position returns the current position thread-safely.
func (s *ViewerSession) Position() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.X, s.Y
}

// ResetDirty clears the dirty flag and returns whether it was set.
func (s *ViewerSession) ResetDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.Dirty
	s.Dirty = false
	return d
}

// CheckCommandCooldown returns the time since the last route command.
func (s *ViewerSession) CheckCommandCooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastCommand)
}

// SetCommandCooldown marks the current time as last route command usage.
func (s *ViewerSession) SetCommandCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastCommand = time.Now()
}

// SendHeartbeatPong sends a pong packet in response to a client ping.
func (s *ViewerSession) SendHeartbeatPong(clientTS int64) {
	type pongPayload struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}
	payload, _ := json.Marshal(pongPayload{
		ClientTS: clientTS,
		ServerTS: time.Now().UnixMilli(),
	})
	s.Send(&Packet{Type: "pong", Payload: payload})
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *ViewerSession) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}
