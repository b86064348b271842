package world

import (
	"math"

	"github.com/jakecoffman/cp"
	"github.com/sumire-games/nightdistrict/server/game/timeline"
	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

// Movement tuning per actor class. Speeds are world units per second.
var classSpeed = map[string]float64{
	resource.ClassPedestrian: 2.5,
	resource.ClassVehicle:    12.0,
	resource.ClassWarden:     4.0,
}

var classRadius = map[string]float64{
	resource.ClassPedestrian: 0.4,
	resource.ClassVehicle:    1.2,
	resource.ClassWarden:     0.5,
}

const dashMultiplier = 1.8

// ActorRuntime holds the server-side runtime state for a single scripted
// actor: its route timeline, its physics body, and its facing.
type ActorRuntime struct {
	ActorID int
	Name    string
	Class   string
	Heading float64 // degrees, 0 = +x, counterclockwise

	Route *timeline.Timeline
	Body  *cp.Body

	// Dirty flag: set when observable state changes, cleared after broadcast.
	dirty    bool
	halted   bool // route drained and velocity already zeroed
	lastKind timeline.Kind
}

// ID implements the AI layer's actor view.
func (a *ActorRuntime) ID() int { return a.ActorID }

// Position returns the physics body position.
func (a *ActorRuntime) Position() (x, y float64) {
	p := a.Body.Position()
	return p.X, p.Y
}

// speed returns the class base speed.
func (a *ActorRuntime) speed() float64 {
	return classSpeed[a.Class]
}

// State builds the client-visible snapshot of this actor.
func (a *ActorRuntime) State() ActorState {
	x, y := a.Position()
	return ActorState{
		ID:      a.ActorID,
		Name:    a.Name,
		Class:   a.Class,
		X:       x,
		Y:       y,
		Heading: a.Heading,
		Kind:    string(a.lastKind),
	}
}

// ActorState is the client-visible actor state for district_init and
// actor_sync payloads.
type ActorState struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Class   string  `json:"class"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Kind    string  `json:"kind"`
}

// populateActors creates an ActorRuntime (body + cloned route) for every
// loadable actor in the district. Actors whose route failed to compile at
// load time have a nil Proto and are skipped.
func (room *Room) populateActors(d *resource.District) {
	for _, da := range d.Actors {
		if da == nil || da.Proto == nil {
			continue
		}
		room.nextActorID++
		a := &ActorRuntime{
			ActorID: room.nextActorID,
			Name:    da.Name,
			Class:   da.Class,
			Route:   da.Proto.Clone(),
		}
		a.Body = cp.NewBody(1, cp.INFINITY)
		a.Body.SetPosition(cp.Vector{X: da.X, Y: da.Y})
		room.space.AddBody(a.Body)
		shape := cp.NewCircle(a.Body, classRadius[da.Class], cp.Vector{})
		shape.SetFriction(0)
		shape.SetElasticity(0)
		room.space.AddShape(shape)
		room.actors[a.ActorID] = a
	}
	room.logger.Info("populated actors",
		zap.Int("district_id", room.DistrictID),
		zap.Int("count", len(room.actors)))
}

// buildWalls adds static segments along the district bounds so actors
// cannot leave the simulated area.
func (room *Room) buildWalls(w, h float64) {
	walls := []struct{ a, b cp.Vector }{
		{a: cp.Vector{X: 0, Y: 0}, b: cp.Vector{X: w, Y: 0}}, // top
		{a: cp.Vector{X: 0, Y: h}, b: cp.Vector{X: w, Y: h}}, // bottom
		{a: cp.Vector{X: 0, Y: 0}, b: cp.Vector{X: 0, Y: h}}, // left
		{a: cp.Vector{X: w, Y: 0}, b: cp.Vector{X: w, Y: h}}, // right
	}
	for _, seg := range walls {
		shape := cp.NewSegment(room.space.StaticBody, seg.a, seg.b, 0)
		shape.SetFriction(0)
		shape.SetElasticity(0)
		room.space.AddShape(shape)
	}
}

// ---- behavior dispatch ----

// BehaviorFunc applies one resolved timeline frame to an actor.
type BehaviorFunc func(a *ActorRuntime, param float64)

// Dispatcher maps behavior kinds to their effect on the actor body. One
// table serves every actor class; class differences live in the speed map.
type Dispatcher struct {
	table   map[timeline.Kind]BehaviorFunc
	unknown map[timeline.Kind]bool // kinds already logged once
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher with the built-in kinds registered.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		table:   make(map[timeline.Kind]BehaviorFunc),
		unknown: make(map[timeline.Kind]bool),
		logger:  logger,
	}
	d.Register("idle", behaviorIdle)
	d.Register("turn", behaviorTurn)
	d.Register("walk", behaviorMove(1))
	d.Register("drive", behaviorMove(1))
	d.Register("dash", behaviorMove(dashMultiplier))
	return d
}

// Register adds or replaces the behavior for a kind.
func (d *Dispatcher) Register(kind timeline.Kind, fn BehaviorFunc) {
	d.table[kind] = fn
}

// Apply dispatches one frame to the actor. An unknown kind halts the actor
// for the frame and is logged once per kind.
func (d *Dispatcher) Apply(a *ActorRuntime, f timeline.Frame) {
	fn, ok := d.table[f.Kind]
	if !ok {
		if !d.unknown[f.Kind] {
			d.unknown[f.Kind] = true
			d.logger.Warn("unknown behavior kind", zap.String("kind", string(f.Kind)))
		}
		behaviorIdle(a, f.Param)
	} else {
		fn(a, f.Param)
	}
	if a.lastKind != f.Kind {
		a.lastKind = f.Kind
		a.dirty = true
	}
	a.halted = false
}

func behaviorIdle(a *ActorRuntime, _ float64) {
	a.Body.SetVelocityVector(cp.Vector{})
}

func behaviorTurn(a *ActorRuntime, param float64) {
	a.Body.SetVelocityVector(cp.Vector{})
	if a.Heading != param {
		a.Heading = param
		a.dirty = true
	}
}

// behaviorMove returns a behavior that moves along the current heading at
// the class speed scaled by mult.
func behaviorMove(mult float64) BehaviorFunc {
	return func(a *ActorRuntime, _ float64) {
		rad := a.Heading * math.Pi / 180
		speed := a.speed() * mult
		a.Body.SetVelocityVector(cp.Vector{
			X: math.Cos(rad) * speed,
			Y: math.Sin(rad) * speed,
		})
		a.dirty = true
	}
}
