package ai

import (
	"github.com/sumire-games/nightdistrict/server/resource"
)

// Context is passed to every behavior tree node during a tick.
// It carries the warden being driven, the world view, and scratch state
// that condition nodes fill in for the action nodes that follow them.
type Context struct {
	Warden  Warden
	View    WorldView
	DeltaMS int64 // milliseconds since last tick

	// Quarry is set by the sighting condition for downstream actions.
	Quarry *QuarryInfo
}

// Warden is the minimal actor view the AI drives.
type Warden interface {
	ID() int
	Position() (x, y float64)
}

// WorldView abstracts room access for the AI layer.
// Implemented by *world.Room; declared here to avoid an import cycle.
type WorldView interface {
	Quarries() []QuarryInfo
	ForceRoute(actorID int, records []resource.RouteRecord, fromBeginning bool) error
	ResetRoute(actorID int) error
}

// QuarryInfo is the minimal quarry data the AI needs.
type QuarryInfo struct {
	SessionID string
	X, Y      float64
}
