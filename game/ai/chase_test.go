package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumire-games/nightdistrict/server/resource"
	"go.uber.org/zap"
)

type fakeWarden struct {
	id   int
	x, y float64
}

func (f *fakeWarden) ID() int                      { return f.id }
func (f *fakeWarden) Position() (float64, float64) { return f.x, f.y }

type fakeView struct {
	quarries []QuarryInfo
	forced   []struct {
		actorID       int
		records       []resource.RouteRecord
		fromBeginning bool
	}
	resets []int
}

func (f *fakeView) Quarries() []QuarryInfo { return f.quarries }

func (f *fakeView) ForceRoute(actorID int, records []resource.RouteRecord, fromBeginning bool) error {
	f.forced = append(f.forced, struct {
		actorID       int
		records       []resource.RouteRecord
		fromBeginning bool
	}{actorID, records, fromBeginning})
	return nil
}

func (f *fakeView) ResetRoute(actorID int) error {
	f.resets = append(f.resets, actorID)
	return nil
}

func TestChaseEngagesQuarryInSight(t *testing.T) {
	c := NewChaseController(ChaseConfig{SightRadius: 10, BurstFrames: 20, RepathFrames: 5}, zap.NewNop())
	w := &fakeWarden{id: 7, x: 0, y: 0}
	view := &fakeView{quarries: []QuarryInfo{{SessionID: "s1", X: 3, Y: 4}}}

	c.Tick(view, []Warden{w}, 50)

	require.Len(t, view.forced, 1)
	f := view.forced[0]
	assert.Equal(t, 7, f.actorID)
	assert.False(t, f.fromBeginning)
	require.Len(t, f.records, 2)
	assert.Equal(t, "turn", f.records[0].Kind)
	assert.InDelta(t, 53.13, f.records[0].Param, 0.01) // atan2(4,3)
	assert.Equal(t, "dash", f.records[1].Kind)
	assert.Equal(t, 20, f.records[1].Length)
	assert.True(t, c.Engaged(7))
}

func TestChaseIgnoresQuarryOutOfSight(t *testing.T) {
	c := NewChaseController(ChaseConfig{SightRadius: 4, BurstFrames: 20, RepathFrames: 5}, zap.NewNop())
	w := &fakeWarden{id: 1}
	view := &fakeView{quarries: []QuarryInfo{{X: 3, Y: 4}}} // dist 5 > 4

	c.Tick(view, []Warden{w}, 50)

	assert.Empty(t, view.forced)
	assert.False(t, c.Engaged(1))
}

func TestChaseCooldownHoldsCourse(t *testing.T) {
	c := NewChaseController(ChaseConfig{SightRadius: 10, BurstFrames: 20, RepathFrames: 3}, zap.NewNop())
	w := &fakeWarden{id: 2}
	view := &fakeView{quarries: []QuarryInfo{{X: 1, Y: 1}}}

	for i := 0; i < 4; i++ {
		c.Tick(view, []Warden{w}, 50)
	}
	// First tick forces, the next three ride the cooldown.
	assert.Len(t, view.forced, 1)

	c.Tick(view, []Warden{w}, 50)
	assert.Len(t, view.forced, 2)
}

func TestChaseBreaksOffWhenQuarryLost(t *testing.T) {
	c := NewChaseController(ChaseConfig{SightRadius: 10, BurstFrames: 20, RepathFrames: 5}, zap.NewNop())
	w := &fakeWarden{id: 3}
	view := &fakeView{quarries: []QuarryInfo{{X: 2, Y: 0}}}

	c.Tick(view, []Warden{w}, 50)
	require.True(t, c.Engaged(3))

	view.quarries = nil
	c.Tick(view, []Warden{w}, 50)

	assert.Equal(t, []int{3}, view.resets)
	assert.False(t, c.Engaged(3))

	// A second quiet tick does nothing.
	c.Tick(view, []Warden{w}, 50)
	assert.Len(t, view.resets, 1)
}

func TestChaseForgetDuringTicks(t *testing.T) {
	c := NewChaseController(ChaseConfig{SightRadius: 10, BurstFrames: 5, RepathFrames: 2}, zap.NewNop())
	w := &fakeWarden{id: 9}
	view := &fakeView{quarries: []QuarryInfo{{SessionID: "s1", X: 1, Y: 1}}}

	// A district reload drops warden state from another goroutine while the
	// room loop keeps ticking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Forget(9)
		}
	}()
	for i := 0; i < 500; i++ {
		c.Tick(view, []Warden{w}, 50)
	}
	<-done

	c.Tick(view, []Warden{w}, 50)
	assert.True(t, c.Engaged(9), "warden re-engages after its state was dropped")
}

func TestChasePicksNearestQuarry(t *testing.T) {
	c := NewChaseController(DefaultChaseConfig(), zap.NewNop())
	ctx := &Context{
		Warden: &fakeWarden{id: 4},
		View: &fakeView{quarries: []QuarryInfo{
			{SessionID: "far", X: 30, Y: 0},
			{SessionID: "near", X: 5, Y: 0},
		}},
	}
	require.True(t, c.quarryInSight(ctx))
	assert.Equal(t, "near", ctx.Quarry.SessionID)
}
