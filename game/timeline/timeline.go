// Package timeline implements scripted, frame-stepped behavior schedules
// for simulated actors. A Timeline is an ordered, possibly cyclic chain of
// Steps; each Step runs for a fixed number of simulation frames. Timelines
// may be interrupted with a forced sequence and later fall back to their
// authored repeating pattern without losing their place in it.
//
// Steps live in a per-Timeline arena addressed by generational index, so a
// cyclic chain is reclaimed by dropping the Timeline's handles (or calling
// Clear) — no manual unlinking is needed to break reference cycles.
package timeline

import (
	"errors"
	"fmt"
)

// Kind is an opaque behavior tag. The engine never interprets it; the
// actor-binding layer owns the dispatch table.
type Kind string

// Step is one scheduled behavior: run for Length frames, counting Counter
// down by one each frame it is current. Param is behavior-specific (for
// movement kinds it carries the heading in degrees).
type Step struct {
	Kind    Kind
	Length  int
	Counter int
	Param   float64
}

var (
	// ErrInvalidStep reports a non-positive length or an out-of-range counter.
	ErrInvalidStep = errors.New("timeline: invalid step")
	// ErrMalformedCycle reports a cyclic chain whose tail does not link back
	// to its declared anchor.
	ErrMalformedCycle = errors.New("timeline: malformed cycle")
)

// NewStep builds a fully-armed Step (counter = length).
func NewStep(kind Kind, length int, param float64) (Step, error) {
	return NewStepCounter(kind, length, length, param)
}

// NewStepCounter builds a Step with an explicit starting counter.
func NewStepCounter(kind Kind, length, counter int, param float64) (Step, error) {
	if length <= 0 {
		return Step{}, fmt.Errorf("%w: length %d", ErrInvalidStep, length)
	}
	if counter < 1 || counter > length {
		return Step{}, fmt.Errorf("%w: counter %d outside [1, %d]", ErrInvalidStep, counter, length)
	}
	return Step{Kind: kind, Length: length, Counter: counter, Param: param}, nil
}

// Frame is the resolved behavior for one simulation frame.
type Frame struct {
	Kind      Kind
	Param     float64
	Completed bool // the executing step finished on this frame
}

// ref addresses a step slot in a Timeline's arena. The generation guards
// against refs to recycled slots.
type ref struct {
	idx int
	gen uint32
}

var noRef = ref{idx: -1}

func (r ref) valid() bool { return r.idx >= 0 }

type slot struct {
	step Step
	next ref
	gen  uint32
	live bool
}

// Timeline is an ordered chain of Steps with head/tail/anchor bookkeeping.
//
//   - head is the currently-executing Step.
//   - tail is the last Step reachable from head without re-entering the
//     anchor; tail's next is either nothing (finite timeline) or the anchor
//     (cyclic timeline).
//   - anchor marks where the default repeating pattern begins. It differs
//     from head only while a forced interruption is ahead of the pattern.
//
// A Timeline is owned by a single actor; Concat and Force hand steps off
// between timelines rather than aliasing them.
type Timeline struct {
	slots []slot
	free  []int

	head   ref
	tail   ref
	anchor ref
}

// New returns an empty Timeline.
func New() *Timeline {
	return &Timeline{head: noRef, tail: noRef, anchor: noRef}
}

// Empty reports whether the timeline has no steps. Callers must check this
// before Advance.
func (t *Timeline) Empty() bool { return !t.head.valid() }

// Cyclic reports whether the timeline repeats: some step's next link
// closes back on the chain.
func (t *Timeline) Cyclic() bool {
	return t.loopSet() != nil
}

// Len returns the number of steps reachable from head.
func (t *Timeline) Len() int {
	n := 0
	t.walk(func(ref) bool {
		n++
		return true
	})
	return n
}

// ---- arena ----

func (t *Timeline) alloc(s Step) ref {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		sl := &t.slots[idx]
		sl.step = s
		sl.next = noRef
		sl.live = true
		return ref{idx: idx, gen: sl.gen}
	}
	t.slots = append(t.slots, slot{step: s, next: noRef, live: true})
	return ref{idx: len(t.slots) - 1}
}

func (t *Timeline) release(r ref) {
	sl := t.at(r)
	sl.live = false
	sl.next = noRef
	sl.gen++
	t.free = append(t.free, r.idx)
}

func (t *Timeline) at(r ref) *slot {
	sl := &t.slots[r.idx]
	if !sl.live || sl.gen != r.gen {
		panic("timeline: stale step ref")
	}
	return sl
}

// walk visits each step reachable from head exactly once, in chain order,
// until fn returns false.
func (t *Timeline) walk(fn func(ref) bool) {
	seen := make(map[int]bool)
	cur := t.head
	for cur.valid() && !seen[cur.idx] {
		seen[cur.idx] = true
		if !fn(cur) {
			return
		}
		cur = t.at(cur).next
	}
}

// loopSet returns the slot indexes on the timeline's cycle, or nil when the
// chain never closes on itself.
func (t *Timeline) loopSet() map[int]bool {
	pos := make(map[int]int)
	var order []int
	cur := t.head
	for cur.valid() {
		if p, ok := pos[cur.idx]; ok {
			loop := make(map[int]bool, len(order)-p)
			for _, idx := range order[p:] {
				loop[idx] = true
			}
			return loop
		}
		pos[cur.idx] = len(order)
		order = append(order, cur.idx)
		cur = t.at(cur).next
	}
	return nil
}

// resetTail repositions tail: the last step reachable from head without
// re-entering the anchor or revisiting a step.
func (t *Timeline) resetTail() {
	if !t.head.valid() {
		t.tail = noRef
		return
	}
	seen := make(map[int]bool)
	cur := t.head
	for {
		seen[cur.idx] = true
		next := t.at(cur).next
		if !next.valid() || next == t.anchor || seen[next.idx] {
			t.tail = cur
			return
		}
		cur = next
	}
}

func (t *Timeline) rearmHead() {
	sl := t.at(t.head)
	sl.step.Counter = sl.step.Length
}

// rewindToAnchor abandons the in-progress run: forced prefix steps between
// head and anchor are freed, cycle members passed over are re-armed, and
// head moves back to the anchor.
func (t *Timeline) rewindToAnchor() {
	if t.head == t.anchor {
		t.rearmHead()
		return
	}
	loop := t.loopSet()
	seen := make(map[int]bool)
	cur := t.head
	for cur.valid() && cur != t.anchor && !seen[cur.idx] {
		seen[cur.idx] = true
		sl := t.at(cur)
		next := sl.next
		if loop[cur.idx] {
			sl.step.Counter = sl.step.Length
		} else {
			t.release(cur)
		}
		cur = next
	}
	t.head = t.anchor
}

// adopt moves every step of other into t's arena, preserving chain order
// and links (including a cycle-back link). other is left empty. Returns
// the moved chain's head, tail, and anchor as refs into t.
func (t *Timeline) adopt(other *Timeline) (head, tail, anchor ref) {
	mapping := make(map[int]ref)
	var moved []ref
	other.walk(func(r ref) bool {
		mapping[r.idx] = t.alloc(other.at(r).step)
		moved = append(moved, r)
		return true
	})
	for _, r := range moved {
		next := other.at(r).next
		if next.valid() {
			if m, ok := mapping[next.idx]; ok {
				t.at(mapping[r.idx]).next = m
			}
		}
	}
	head, tail, anchor = noRef, noRef, noRef
	if m, ok := mapping[other.head.idx]; ok {
		head = m
	}
	if other.tail.valid() {
		if m, ok := mapping[other.tail.idx]; ok {
			tail = m
		}
	}
	if other.anchor.valid() {
		if m, ok := mapping[other.anchor.idx]; ok {
			anchor = m
		}
	}
	other.slots = nil
	other.free = nil
	other.head, other.tail, other.anchor = noRef, noRef, noRef
	return head, tail, anchor
}

// ---- operations ----

// Append adds one step at the end of the timeline. A zero Counter arms the
// step at its full Length. Appending to a cyclic timeline inserts the step
// before the anchor, keeping the loop closed.
func (t *Timeline) Append(s Step) error {
	if s.Counter == 0 {
		s.Counter = s.Length
	}
	if _, err := NewStepCounter(s.Kind, s.Length, s.Counter, s.Param); err != nil {
		return err
	}
	r := t.alloc(s)
	if t.Empty() {
		t.head = r
		t.anchor = r
		t.resetTail()
		return nil
	}
	wasCyclic := t.Cyclic()
	t.at(t.tail).next = r
	t.tail = r
	if wasCyclic {
		t.at(r).next = t.anchor
	}
	return nil
}

// Concat splices other's chain onto the end of t, taking ownership of its
// steps; other is left empty. If other is cyclic, the appended material
// defines t's new repeating pattern.
func (t *Timeline) Concat(other *Timeline) {
	if other == nil || other.Empty() {
		return
	}
	otherCyclic := other.Cyclic()
	ohead, otail, oanchor := t.adopt(other)
	if t.Empty() {
		t.head = ohead
		t.anchor = oanchor
		t.resetTail()
		return
	}
	t.at(t.tail).next = ohead
	if otherCyclic && oanchor.valid() {
		t.anchor = oanchor
	} else {
		t.tail = otail
		if t.anchor.valid() && !t.reachable(t.anchor) {
			t.anchor = noRef
		}
		return
	}
	t.resetTail()
}

func (t *Timeline) reachable(target ref) bool {
	found := false
	t.walk(func(r ref) bool {
		if r == target {
			found = true
			return false
		}
		return true
	})
	return found
}

// Advance runs one simulation frame: it resolves the current head for
// execution, counts it down, and on completion either re-arms it (cycle
// member), frees it (one-shot step), or drains the timeline (finite end).
//
// Advance panics on an empty timeline; that is a driver bug — callers gate
// on Empty().
func (t *Timeline) Advance() Frame {
	if t.Empty() {
		panic("timeline: Advance on empty timeline")
	}
	cur := t.head
	sl := t.at(cur)
	frame := Frame{Kind: sl.step.Kind, Param: sl.step.Param}
	sl.step.Counter--
	if sl.step.Counter > 0 {
		return frame
	}
	frame.Completed = true
	next := sl.next
	if !next.valid() {
		// Finite timeline drained.
		t.release(cur)
		t.head, t.tail, t.anchor = noRef, noRef, noRef
		return frame
	}
	if loop := t.loopSet(); loop[cur.idx] {
		// Cycle member: re-arm for the next lap.
		sl.step.Counter = sl.step.Length
		t.head = next
		return frame
	}
	// One-shot prefix step: dispose of it. If it carried the anchor, the
	// resume point moves forward with it.
	if t.anchor == cur {
		t.anchor = next
	}
	wasTail := t.tail == cur
	t.release(cur)
	t.head = next
	if wasTail {
		t.resetTail()
	}
	return frame
}

// Force splices interrupt ahead of the current execution point; interrupt
// hands its steps off and is left empty.
//
// A cyclic interrupt replaces the default pattern outright (the old chain
// is torn down). A finite interrupt plays once and then resumes the
// default pattern: with fromBeginning the resume point is the pattern's
// anchor and any unexecuted forced prefix is discarded; without it the
// resume point is pinned to the current head, so nested interrupts stack
// ahead of one another.
func (t *Timeline) Force(interrupt *Timeline, fromBeginning bool) error {
	if interrupt == nil || interrupt.Empty() || interrupt == t {
		return nil
	}
	interruptCyclic := false
	if n := interrupt.at(interrupt.tail).next; n.valid() {
		if n != interrupt.anchor {
			return fmt.Errorf("%w: tail does not close on the declared anchor", ErrMalformedCycle)
		}
		interruptCyclic = true
	}

	if t.Empty() {
		t.head, _, t.anchor = t.adopt(interrupt)
		t.resetTail()
		return nil
	}

	if interruptCyclic {
		// The forced cycle becomes the entire content; the old chain,
		// forced prefix and all, is torn down.
		t.Clear()
		t.head, _, t.anchor = t.adopt(interrupt)
		t.resetTail()
		return nil
	}

	if !t.anchor.valid() {
		// No repeating pattern to fall back to: the remainder of this
		// finite timeline is the resume point.
		t.anchor = t.head
	}
	if fromBeginning {
		t.rewindToAnchor()
	} else {
		t.rearmHead()
		t.anchor = t.head
	}
	ihead, itail, _ := t.adopt(interrupt)
	t.at(itail).next = t.anchor
	t.head = ihead
	t.resetTail()
	return nil
}

// Reset cancels any in-progress interruption and resumes the default
// pattern at its anchor. A timeline with no anchor is left untouched.
func (t *Timeline) Reset() {
	if t.Empty() || !t.anchor.valid() {
		return
	}
	t.rewindToAnchor()
	t.resetTail()
}

// SetCycling closes the loop at the current head (which becomes the new
// anchor), or opens it so the timeline terminates after one more lap.
func (t *Timeline) SetCycling(on bool) {
	if t.Empty() {
		return
	}
	if on {
		t.anchor = t.head
		t.resetTail()
		t.at(t.tail).next = t.head
		return
	}
	if t.tail.valid() {
		t.at(t.tail).next = noRef
	}
	t.anchor = noRef
}

// Clone returns a structurally independent copy with identical behavior.
// Used when several actors share one authored pattern but must run
// independent counters.
func (t *Timeline) Clone() *Timeline {
	c := New()
	if t.Empty() {
		return c
	}
	mapping := make(map[int]ref)
	var copied []ref
	t.walk(func(r ref) bool {
		mapping[r.idx] = c.alloc(t.at(r).step)
		copied = append(copied, r)
		return true
	})
	for _, r := range copied {
		next := t.at(r).next
		if next.valid() {
			if m, ok := mapping[next.idx]; ok {
				c.at(mapping[r.idx]).next = m
			}
		}
	}
	c.head = mapping[t.head.idx]
	if t.anchor.valid() {
		if m, ok := mapping[t.anchor.idx]; ok {
			c.anchor = m
		}
	}
	c.resetTail()
	return c
}

// Clear tears down the whole chain, cyclic or not. With the arena design
// this is the one explicit teardown operation: every slot is dropped at
// once, self-links included.
func (t *Timeline) Clear() {
	t.slots = nil
	t.free = nil
	t.head, t.tail, t.anchor = noRef, noRef, noRef
}
