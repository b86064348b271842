package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/sumire-games/nightdistrict/server/audit"
	"github.com/sumire-games/nightdistrict/server/cache"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/game/world"
	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

// maxMoveStep bounds how far a viewer may move per message.
const maxMoveStep = 5.0

// DistrictHandlers bundles the dependencies needed by district WS handlers.
type DistrictHandlers struct {
	wm          *world.Manager
	sm          *player.SessionManager
	cache       cache.Cache
	audit       *audit.Service
	cmdCooldown time.Duration
	logger      *zap.Logger
}

// NewDistrictHandlers creates a new DistrictHandlers.
func NewDistrictHandlers(wm *world.Manager, sm *player.SessionManager, c cache.Cache, auditSvc *audit.Service, cmdCooldown time.Duration, logger *zap.Logger) *DistrictHandlers {
	return &DistrictHandlers{wm: wm, sm: sm, cache: c, audit: auditSvc, cmdCooldown: cmdCooldown, logger: logger}
}

// RegisterHandlers registers all district handlers on the given Router.
func (dh *DistrictHandlers) RegisterHandlers(r *Router) {
	r.On("ping", dh.HandlePing)
	r.On("join_district", dh.HandleJoinDistrict)
	r.On("leave_district", dh.HandleLeaveDistrict)
	r.On("viewer_move", dh.HandleViewerMove)
	r.On("actor_force", dh.HandleActorForce)
	r.On("actor_reset", dh.HandleActorReset)
	r.On("district_snapshot", dh.HandleDistrictSnapshot)
}

// ------------------------------------------------------------------ ping

type pingPayload struct {
	TS int64 `json:"ts"`
}

// HandlePing responds to client heartbeat pings.
func (dh *DistrictHandlers) HandlePing(_ context.Context, s *player.ViewerSession, raw json.RawMessage) error {
	var p pingPayload
	_ = json.Unmarshal(raw, &p)
	s.SendHeartbeatPong(p.TS)
	return nil
}

// ------------------------------------------------------------------ join_district

type joinDistrictReq struct {
	DistrictID int     `json:"district_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// HandleJoinDistrict moves the viewer into a district room, starting the
// room if it is the district's first viewer.
func (dh *DistrictHandlers) HandleJoinDistrict(_ context.Context, s *player.ViewerSession, raw json.RawMessage) error {
	var req joinDistrictReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if req.DistrictID <= 0 {
		sendError(s, "invalid district_id")
		return nil
	}

	room, err := dh.wm.GetOrCreate(req.DistrictID)
	if err != nil {
		if errors.Is(err, world.ErrDistrictNotFound) {
			sendError(s, "unknown district")
			return nil
		}
		return err
	}

	// Leave the previous district if any.
	if cur := s.District(); cur != 0 && cur != req.DistrictID {
		leaveDistrict(s, dh.wm, dh.cache, dh.logger)
	}

	s.SetDistrict(req.DistrictID)
	s.SetPosition(req.X, req.Y)
	room.AddViewer(s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dh.cache.SAdd(ctx, world.PresenceKey(req.DistrictID), s.SessionID); err != nil {
		dh.logger.Warn("presence add failed",
			zap.String("session_id", s.SessionID), zap.Error(err))
	}

	initPayload, _ := json.Marshal(map[string]interface{}{
		"district_id": room.DistrictID,
		"name":        room.Name,
		"self": map[string]interface{}{
			"session_id": s.SessionID,
			"name":       s.Name,
			"x":          req.X,
			"y":          req.Y,
		},
		"actors":  room.ActorSnapshot(),
		"viewers": room.ViewerSnapshot(),
	})
	s.Send(&player.Packet{Type: "district_init", Payload: initPayload})

	dh.logger.Info("viewer joined district",
		zap.String("session_id", s.SessionID),
		zap.Int("district_id", req.DistrictID))
	return nil
}

// ------------------------------------------------------------------ leave_district

// HandleLeaveDistrict removes the viewer from their current district.
func (dh *DistrictHandlers) HandleLeaveDistrict(_ context.Context, s *player.ViewerSession, _ json.RawMessage) error {
	if s.District() == 0 {
		sendError(s, "not in a district")
		return nil
	}
	leaveDistrict(s, dh.wm, dh.cache, dh.logger)
	return nil
}

// ------------------------------------------------------------------ viewer_move

type viewerMoveReq struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HandleViewerMove validates and applies a viewer position update. The new
// position is broadcast by the room loop on the next tick.
func (dh *DistrictHandlers) HandleViewerMove(_ context.Context, s *player.ViewerSession, raw json.RawMessage) error {
	var req viewerMoveReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if s.District() == 0 {
		sendError(s, "not in a district")
		return nil
	}

	curX, curY := s.Position()
	dx, dy := req.X-curX, req.Y-curY
	if math.Hypot(dx, dy) > maxMoveStep {
		dh.logger.Warn("oversized move rejected",
			zap.String("session_id", s.SessionID),
			zap.Float64("dx", dx), zap.Float64("dy", dy))
		sendError(s, "move rejected: step too large")
		return nil
	}

	s.SetPosition(req.X, req.Y)
	return nil
}

// ------------------------------------------------------------------ actor_force

type actorForceReq struct {
	ActorID       int                    `json:"actor_id"`
	Route         []resource.RouteRecord `json:"route"`
	FromBeginning bool                   `json:"from_beginning"`
}

// HandleActorForce splices an operator-authored route ahead of an actor's
// current pattern.
func (dh *DistrictHandlers) HandleActorForce(ctx context.Context, s *player.ViewerSession, raw json.RawMessage) error {
	var req actorForceReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if s.District() == 0 {
		sendError(s, "not in a district")
		return nil
	}
	if s.CheckCommandCooldown() < dh.cmdCooldown {
		sendError(s, "command cooldown")
		return nil
	}

	room := dh.wm.Get(s.District())
	if room == nil {
		sendError(s, "district not running")
		return nil
	}

	start := time.Now()
	err := room.ForceRoute(req.ActorID, req.Route, req.FromBeginning)
	dh.logCommand(ctx, s, "actor_force", req, err, time.Since(start))
	if err != nil {
		if errors.Is(err, world.ErrActorNotFound) {
			sendError(s, "unknown actor")
			return nil
		}
		sendError(s, "route rejected: "+err.Error())
		return nil
	}
	s.SetCommandCooldown()

	ack, _ := json.Marshal(map[string]interface{}{"actor_id": req.ActorID, "ok": true})
	s.Send(&player.Packet{Type: "actor_force", Payload: ack})
	return nil
}

// ------------------------------------------------------------------ actor_reset

type actorResetReq struct {
	ActorID int `json:"actor_id"`
}

// HandleActorReset cancels a forced route and resumes the authored pattern.
func (dh *DistrictHandlers) HandleActorReset(ctx context.Context, s *player.ViewerSession, raw json.RawMessage) error {
	var req actorResetReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if s.District() == 0 {
		sendError(s, "not in a district")
		return nil
	}

	room := dh.wm.Get(s.District())
	if room == nil {
		sendError(s, "district not running")
		return nil
	}

	start := time.Now()
	err := room.ResetRoute(req.ActorID)
	dh.logCommand(ctx, s, "actor_reset", req, err, time.Since(start))
	if err != nil {
		sendError(s, "unknown actor")
		return nil
	}

	ack, _ := json.Marshal(map[string]interface{}{"actor_id": req.ActorID, "ok": true})
	s.Send(&player.Packet{Type: "actor_reset", Payload: ack})
	return nil
}

// ------------------------------------------------------------------ district_snapshot

// HandleDistrictSnapshot replies with the full actor and viewer state of the
// viewer's current district.
func (dh *DistrictHandlers) HandleDistrictSnapshot(_ context.Context, s *player.ViewerSession, _ json.RawMessage) error {
	if s.District() == 0 {
		sendError(s, "not in a district")
		return nil
	}
	room := dh.wm.Get(s.District())
	if room == nil {
		sendError(s, "district not running")
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"district_id": room.DistrictID,
		"actors":      room.ActorSnapshot(),
		"viewers":     room.ViewerSnapshot(),
	})
	s.Send(&player.Packet{Type: "district_snapshot", Payload: payload})
	return nil
}

// ------------------------------------------------------------------ helpers

// logCommand records an operator route command in the audit trail.
func (dh *DistrictHandlers) logCommand(ctx context.Context, s *player.ViewerSession, action string, req interface{}, err error, took time.Duration) {
	if dh.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:    TraceIDFromCtx(ctx),
		OperatorID: &s.OperatorID,
		Action:     action,
		Request:    req,
		DistrictID: s.District(),
		DurationMs: int(took.Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	dh.audit.Log(entry)
}

// leaveDistrict removes the viewer from their current district room, drops
// their presence entry, and stops the room when it empties.
func leaveDistrict(s *player.ViewerSession, wm *world.Manager, c cache.Cache, logger *zap.Logger) {
	districtID := s.District()
	s.SetDistrict(0)
	room := wm.Get(districtID)
	if room == nil {
		return
	}
	room.RemoveViewer(s.SessionID)

	if c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.SRem(ctx, world.PresenceKey(districtID), s.SessionID); err != nil {
			logger.Warn("presence remove failed",
				zap.String("session_id", s.SessionID), zap.Error(err))
		}
	}

	if room.ViewerCount() == 0 {
		wm.Destroy(districtID)
	}

	logger.Info("viewer left district",
		zap.String("session_id", s.SessionID),
		zap.Int("district_id", districtID))
}

func sendError(s *player.ViewerSession, msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	s.Send(&player.Packet{Type: "error", Payload: payload})
}
