package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jakecoffman/cp"
	"github.com/sumire-games/nightdistrict/server/game/ai"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

const (
	tickInterval = 50 * time.Millisecond // 20 TPS
	tickSeconds  = 0.05
	tickMS       = 50
)

// ErrActorNotFound reports a route command aimed at an actor the room
// does not have.
var ErrActorNotFound = errors.New("world: actor not found")

// Publisher fans actor syncs out to interested non-WS consumers (SSE).
// Implemented by the cache layer's pub/sub; nil disables fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SyncChannel is the pub/sub channel carrying a district's actor syncs.
func SyncChannel(districtID int) string {
	return fmt.Sprintf("district:%d:sync", districtID)
}

// PresenceKey is the cache set holding the session IDs watching a district.
func PresenceKey(districtID int) string {
	return fmt.Sprintf("district:%d:viewers", districtID)
}

// StateKey is the cache hash holding the latest state of each actor in a
// district, keyed by actor ID. SSE consumers read it for catch-up.
func StateKey(districtID int) string {
	return fmt.Sprintf("district:%d:actors", districtID)
}

// Room manages a single district instance with its own simulation loop.
type Room struct {
	DistrictID int
	Name       string

	space       *cp.Space
	actors      map[int]*ActorRuntime
	nextActorID int
	viewers     map[string]*player.ViewerSession
	dispatch    *Dispatcher
	chase       *ai.ChaseController
	pub         Publisher
	broadcastQ  chan []byte
	mu          sync.RWMutex
	stopCh      chan struct{}
	logger      *zap.Logger
}

// newRoom creates a Room for the district but does not start the loop.
func newRoom(d *resource.District, chaseCfg ai.ChaseConfig, pub Publisher, logger *zap.Logger) *Room {
	room := &Room{
		DistrictID: d.ID,
		Name:       d.Name,
		space:      cp.NewSpace(),
		actors:     make(map[int]*ActorRuntime),
		viewers:    make(map[string]*player.ViewerSession),
		pub:        pub,
		broadcastQ: make(chan []byte, 512),
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
	room.dispatch = NewDispatcher(logger)
	room.chase = ai.NewChaseController(chaseCfg, logger)
	room.buildWalls(d.Width, d.Height)
	room.populateActors(d)
	return room
}

// Run starts the 20 TPS simulation loop. Call in a goroutine.
func (room *Room) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			room.tick()
		case data := <-room.broadcastQ:
			room.broadcastRaw(data)
		case <-room.stopCh:
			return
		}
	}
}

// Stop signals the simulation loop to exit.
func (room *Room) Stop() {
	select {
	case <-room.stopCh:
	default:
		close(room.stopCh)
	}
}

// StopChan returns a channel that is closed when this room is stopped.
// Use it to cancel goroutines that must not outlive the room.
func (room *Room) StopChan() <-chan struct{} {
	return room.stopCh
}

// tick is called every 50 ms (20 TPS).
func (room *Room) tick() {
	room.cleanStaleSessions()
	dirty := room.tickActors()
	room.chase.Tick(room, room.wardens(), tickMS)
	for _, st := range dirty {
		room.broadcastActorSync(st)
	}
	room.broadcastDirtyViewers()
}

// tickActors advances every non-drained route by one frame, dispatches the
// resolved behavior, and steps the physics space. Returns the snapshots of
// actors whose observable state changed.
func (room *Room) tickActors() []ActorState {
	room.mu.Lock()
	defer room.mu.Unlock()

	for _, a := range room.actors {
		if a.Route.Empty() {
			if !a.halted {
				// Route drained: come to a stop once.
				a.Body.SetVelocityVector(cp.Vector{})
				a.halted = true
				a.lastKind = ""
				a.dirty = true
			}
			continue
		}
		frame := a.Route.Advance()
		room.dispatch.Apply(a, frame)
	}
	room.space.Step(tickSeconds)

	var dirty []ActorState
	for _, a := range room.actors {
		if a.dirty {
			a.dirty = false
			dirty = append(dirty, a.State())
		}
	}
	return dirty
}

// broadcastActorSync sends one actor's state to every viewer and publishes
// it for SSE consumers.
func (room *Room) broadcastActorSync(st ActorState) {
	payload, _ := json.Marshal(st)
	pkt, _ := json.Marshal(&player.Packet{Type: "actor_sync", Payload: payload})
	room.broadcastRaw(pkt)
	if room.pub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := room.pub.Publish(ctx, SyncChannel(room.DistrictID), pkt); err != nil {
			room.logger.Warn("actor sync publish failed",
				zap.Int("district_id", room.DistrictID), zap.Error(err))
		}
	}
}

// broadcastDirtyViewers sends viewer_sync for any viewer whose position changed.
func (room *Room) broadcastDirtyViewers() {
	room.mu.RLock()
	defer room.mu.RUnlock()

	for _, s := range room.viewers {
		if !s.ResetDirty() {
			continue
		}
		x, y := s.Position()
		payload, _ := json.Marshal(map[string]interface{}{
			"session_id": s.SessionID,
			"name":       s.Name,
			"x":          x,
			"y":          y,
		})
		pkt, _ := json.Marshal(&player.Packet{Type: "viewer_sync", Payload: payload})
		for _, other := range room.viewers {
			other.SendRaw(pkt)
		}
	}
}

// cleanStaleSessions removes viewers whose connections have been closed.
// This is a safety net; the primary cleanup happens in handleDisconnect.
func (room *Room) cleanStaleSessions() {
	room.mu.Lock()
	var stale []string
	for id, s := range room.viewers {
		if s.IsClosed() {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(room.viewers, id)
	}
	room.mu.Unlock()

	// Broadcast viewer_leave outside the lock.
	for _, id := range stale {
		payload, _ := json.Marshal(map[string]interface{}{"session_id": id})
		pkt, _ := json.Marshal(&player.Packet{Type: "viewer_leave", Payload: payload})
		room.broadcastRaw(pkt)
		room.logger.Info("removed stale viewer from room",
			zap.String("session_id", id), zap.Int("district_id", room.DistrictID))
	}
}

// ---- route commands ----

// ForceRoute compiles records into an interrupt timeline and splices it
// ahead of the actor's current route.
func (room *Room) ForceRoute(actorID int, records []resource.RouteRecord, fromBeginning bool) error {
	tl, err := resource.BuildTimeline(records)
	if err != nil {
		return err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	a, ok := room.actors[actorID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrActorNotFound, actorID)
	}
	a.halted = false
	return a.Route.Force(tl, fromBeginning)
}

// ResetRoute cancels any forced interrupt and resumes the actor's authored
// pattern at its anchor.
func (room *Room) ResetRoute(actorID int) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	a, ok := room.actors[actorID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrActorNotFound, actorID)
	}
	a.Route.Reset()
	return nil
}

// Quarries returns the positions of connected viewers: the warden's targets.
func (room *Room) Quarries() []ai.QuarryInfo {
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]ai.QuarryInfo, 0, len(room.viewers))
	for _, s := range room.viewers {
		x, y := s.Position()
		out = append(out, ai.QuarryInfo{SessionID: s.SessionID, X: x, Y: y})
	}
	return out
}

// wardens returns the AI views of every warden-class actor.
func (room *Room) wardens() []ai.Warden {
	room.mu.RLock()
	defer room.mu.RUnlock()
	var out []ai.Warden
	for _, a := range room.actors {
		if a.Class == resource.ClassWarden {
			out = append(out, a)
		}
	}
	return out
}

// ---- viewer management ----

// AddViewer adds a ViewerSession to this Room and announces it.
func (room *Room) AddViewer(s *player.ViewerSession) {
	room.mu.Lock()
	room.viewers[s.SessionID] = s
	room.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{
		"session_id": s.SessionID,
		"name":       s.Name,
	})
	pkt, _ := json.Marshal(&player.Packet{Type: "viewer_join", Payload: payload})
	room.BroadcastExcept(pkt, s.SessionID)
}

// RemoveViewer removes a ViewerSession from the Room.
func (room *Room) RemoveViewer(sessionID string) {
	room.mu.Lock()
	delete(room.viewers, sessionID)
	room.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{"session_id": sessionID})
	pkt, _ := json.Marshal(&player.Packet{Type: "viewer_leave", Payload: payload})
	room.broadcastRaw(pkt)
}

// ViewerCount returns the current number of viewers in the room.
func (room *Room) ViewerCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.viewers)
}

// Broadcast enqueues data to be sent to all viewers in the room.
func (room *Room) Broadcast(data []byte) {
	select {
	case room.broadcastQ <- data:
	default:
		room.logger.Warn("broadcastQ full, dropping packet", zap.Int("district_id", room.DistrictID))
	}
}

// BroadcastExcept sends data to all viewers except the given session.
func (room *Room) BroadcastExcept(data []byte, excludeSessionID string) {
	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, s := range room.viewers {
		if s.SessionID != excludeSessionID {
			s.SendRaw(data)
		}
	}
}

// broadcastRaw delivers data to every viewer currently in the room.
func (room *Room) broadcastRaw(data []byte) {
	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, s := range room.viewers {
		s.SendRaw(data)
	}
}

// ---- snapshots ----

// GetActor returns the ActorRuntime for actorID, or nil.
func (room *Room) GetActor(actorID int) *ActorRuntime {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.actors[actorID]
}

// ActorCount returns the number of live actors.
func (room *Room) ActorCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.actors)
}

// ActorSnapshot returns the state of every actor, ordered by ID. Used for
// district_init payloads and periodic persistence.
func (room *Room) ActorSnapshot() []ActorState {
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]ActorState, 0, len(room.actors))
	for _, a := range room.actors {
		out = append(out, a.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ViewerSnapshot returns the connected viewers for district_init payloads.
func (room *Room) ViewerSnapshot() []map[string]interface{} {
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]map[string]interface{}, 0, len(room.viewers))
	for _, s := range room.viewers {
		x, y := s.Position()
		out = append(out, map[string]interface{}{
			"session_id": s.SessionID,
			"name":       s.Name,
			"x":          x,
			"y":          y,
		})
	}
	return out
}

// Rebuild replaces the room's actor set from a freshly loaded district.
// Viewers stay connected; they receive a district_reload notice and a new
// snapshot follows through the normal sync flow.
func (room *Room) Rebuild(d *resource.District) {
	room.mu.Lock()
	dropped := make([]int, 0, len(room.actors))
	for id, a := range room.actors {
		dropped = append(dropped, id)
		a.Route.Clear()
	}
	room.space = cp.NewSpace()
	room.actors = make(map[int]*ActorRuntime)
	room.nextActorID = 0
	room.Name = d.Name
	room.buildWalls(d.Width, d.Height)
	room.populateActors(d)
	room.mu.Unlock()

	// Forget outside room.mu: the tick goroutine holds the controller's lock
	// while forcing routes, which takes room.mu.
	for _, id := range dropped {
		room.chase.Forget(id)
	}

	payload, _ := json.Marshal(map[string]interface{}{"district_id": room.DistrictID})
	pkt, _ := json.Marshal(&player.Packet{Type: "district_reload", Payload: payload})
	room.broadcastRaw(pkt)
	room.logger.Info("district rebuilt", zap.Int("district_id", room.DistrictID))
}
