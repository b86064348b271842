package world

import (
	"errors"
	"sync"

	"github.com/sumire-games/nightdistrict/server/game/ai"
	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

// ErrDistrictNotFound reports a room request for a district ID the loader
// has no file for.
var ErrDistrictNotFound = errors.New("world: district not found")

// Manager manages all active district Room instances.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[int]*Room
	loader   *resource.Loader
	chaseCfg ai.ChaseConfig
	pub      Publisher
	logger   *zap.Logger
}

// NewManager creates a Manager over the given district loader.
func NewManager(loader *resource.Loader, chaseCfg ai.ChaseConfig, pub Publisher, logger *zap.Logger) *Manager {
	return &Manager{
		rooms:    make(map[int]*Room),
		loader:   loader,
		chaseCfg: chaseCfg,
		pub:      pub,
		logger:   logger,
	}
}

// GetOrCreate returns the Room for districtID, creating and starting it
// if needed.
func (m *Manager) GetOrCreate(districtID int) (*Room, error) {
	// Fast path: room already exists.
	m.mu.RLock()
	room, ok := m.rooms[districtID]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}

	// Slow path: create a new room.
	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock.
	if room, ok = m.rooms[districtID]; ok {
		return room, nil
	}
	d, ok := m.loader.Districts[districtID]
	if !ok {
		return nil, ErrDistrictNotFound
	}
	room = newRoom(d, m.chaseCfg, m.pub, m.logger)
	m.rooms[districtID] = room
	go room.Run()
	m.logger.Info("district room created", zap.Int("district_id", districtID))
	return room, nil
}

// Get returns the Room for districtID, or nil if it does not exist.
func (m *Manager) Get(districtID int) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[districtID]
}

// All returns a snapshot slice of every active room.
func (m *Manager) All() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Reload rebuilds the room for districtID from the loader's current data.
// A district without an active room needs nothing.
func (m *Manager) Reload(districtID int) {
	m.mu.RLock()
	room := m.rooms[districtID]
	m.mu.RUnlock()
	if room == nil {
		return
	}
	d, ok := m.loader.Districts[districtID]
	if !ok {
		return
	}
	room.Rebuild(d)
}

// Destroy stops and removes the Room for districtID (used when the last
// viewer leaves).
func (m *Manager) Destroy(districtID int) {
	m.mu.Lock()
	room, ok := m.rooms[districtID]
	if ok {
		delete(m.rooms, districtID)
	}
	m.mu.Unlock()
	if ok {
		room.Stop()
		m.logger.Info("district room destroyed", zap.Int("district_id", districtID))
	}
}

// ActiveRoomCount returns the number of active district rooms.
func (m *Manager) ActiveRoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// StopAll stops all active rooms (used at server shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[int]*Room)
	m.mu.Unlock()
	for _, r := range rooms {
		r.Stop()
	}
}
