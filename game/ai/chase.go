package ai

import (
	"math"
	"sync"

	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

// ChaseConfig tunes the warden pursuit behavior.
type ChaseConfig struct {
	SightRadius  float64 // distance at which a quarry is spotted
	BurstFrames  int     // dash length of one pursuit burst
	RepathFrames int     // ticks between course corrections while engaged
}

// DefaultChaseConfig returns the tuning used when config omits the values.
func DefaultChaseConfig() ChaseConfig {
	return ChaseConfig{SightRadius: 40, BurstFrames: 20, RepathFrames: 10}
}

// ChaseController drives every warden in a room: spot the nearest quarry,
// force a pursuit burst (a turn toward it plus a dash), correct course while
// engaged, and fall back to the authored patrol when the quarry is lost.
//
// Pursuit bursts are forced with fromBeginning=false so a closer re-sighting
// stacks ahead of the previous burst instead of discarding patrol progress.
type ChaseController struct {
	cfg    ChaseConfig
	tree   *BehaviorTree
	logger *zap.Logger

	// mu guards engaged and cooldown. Tick runs on the room loop while
	// Forget arrives from reload and admin goroutines.
	mu       sync.Mutex
	engaged  map[int]bool
	cooldown map[int]int
}

// NewChaseController builds the controller and its behavior tree.
func NewChaseController(cfg ChaseConfig, logger *zap.Logger) *ChaseController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ChaseController{
		cfg:      cfg,
		logger:   logger,
		engaged:  make(map[int]bool),
		cooldown: make(map[int]int),
	}
	c.tree = &BehaviorTree{
		Root: &Selector{Children: []Node{
			&Sequence{Children: []Node{
				&ConditionNode{Fn: c.quarryInSight},
				&ActionNode{Fn: c.pursue},
			}},
			&Sequence{Children: []Node{
				&ConditionNode{Fn: c.isEngaged},
				&ActionNode{Fn: c.breakOff},
			}},
		}},
	}
	return c
}

// Tick runs one decision frame for every warden.
func (c *ChaseController) Tick(view WorldView, wardens []Warden, deltaMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range wardens {
		ctx := &Context{Warden: w, View: view, DeltaMS: deltaMS}
		c.tree.Tick(ctx)
	}
}

// Forget drops per-warden state for an actor that no longer exists.
func (c *ChaseController) Forget(actorID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.engaged, actorID)
	delete(c.cooldown, actorID)
}

// Engaged reports whether the warden is currently pursuing a quarry.
func (c *ChaseController) Engaged(actorID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged[actorID]
}

// quarryInSight finds the nearest quarry within sight and stashes it on ctx.
func (c *ChaseController) quarryInSight(ctx *Context) bool {
	wx, wy := ctx.Warden.Position()
	var best *QuarryInfo
	bestDist := c.cfg.SightRadius
	for _, q := range ctx.View.Quarries() {
		d := math.Hypot(q.X-wx, q.Y-wy)
		if d <= bestDist {
			q := q
			best = &q
			bestDist = d
		}
	}
	ctx.Quarry = best
	return best != nil
}

// pursue forces a turn-and-dash burst toward the sighted quarry. While the
// cooldown runs the current burst keeps going untouched.
func (c *ChaseController) pursue(ctx *Context) Status {
	id := ctx.Warden.ID()
	if c.engaged[id] && c.cooldown[id] > 0 {
		c.cooldown[id]--
		return StatusRunning
	}
	wx, wy := ctx.Warden.Position()
	heading := math.Atan2(ctx.Quarry.Y-wy, ctx.Quarry.X-wx) * 180 / math.Pi

	records := []resource.RouteRecord{
		{Kind: "turn", Length: 1, Param: heading},
		{Kind: "dash", Length: c.cfg.BurstFrames},
	}
	if err := ctx.View.ForceRoute(id, records, false); err != nil {
		c.logger.Warn("pursuit force failed", zap.Int("actor_id", id), zap.Error(err))
		return StatusFailure
	}
	if !c.engaged[id] {
		c.logger.Info("warden engaged quarry",
			zap.Int("actor_id", id),
			zap.String("quarry", ctx.Quarry.SessionID))
	}
	c.engaged[id] = true
	c.cooldown[id] = c.cfg.RepathFrames
	return StatusRunning
}

// isEngaged gates breakOff: only a warden that was chasing needs to reset.
func (c *ChaseController) isEngaged(ctx *Context) bool {
	return c.engaged[ctx.Warden.ID()]
}

// breakOff cancels the pursuit and resumes the authored patrol.
func (c *ChaseController) breakOff(ctx *Context) Status {
	id := ctx.Warden.ID()
	if err := ctx.View.ResetRoute(id); err != nil {
		c.logger.Warn("pursuit reset failed", zap.Int("actor_id", id), zap.Error(err))
	}
	delete(c.engaged, id)
	delete(c.cooldown, id)
	c.logger.Info("warden lost quarry", zap.Int("actor_id", id))
	return StatusSuccess
}
