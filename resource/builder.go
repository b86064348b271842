package resource

import (
	"fmt"

	"github.com/sumire-games/nightdistrict/server/game/timeline"
)

// routeError tags a record-level failure with the field that caused it,
// so LoadError can surface "route[2].length" instead of a bare message.
type routeError struct {
	field string
	err   error
}

func (e *routeError) Error() string { return fmt.Sprintf("%s: %v", e.field, e.err) }
func (e *routeError) Unwrap() error { return e.err }

// BuildTimeline compiles authored route records into a runnable timeline.
//
// Records before the first Cyclic=true run once as a prefix; that record and
// everything after it form the repeating pattern. With no cyclic record the
// route is a plain one-shot sequence. An empty record list yields an empty
// timeline (the actor just stands there).
func BuildTimeline(records []RouteRecord) (*timeline.Timeline, error) {
	cycleAt := -1
	for i, r := range records {
		if r.Cyclic {
			cycleAt = i
			break
		}
	}

	prefix := timeline.New()
	suffix := timeline.New()
	for i, r := range records {
		if r.Kind == "" {
			return nil, &routeError{field: fmt.Sprintf("route[%d].kind", i), err: fmt.Errorf("required")}
		}
		counter := r.Counter
		if counter == 0 {
			counter = r.Length
		}
		step, err := timeline.NewStepCounter(timeline.Kind(r.Kind), r.Length, counter, r.Param)
		if err != nil {
			return nil, &routeError{field: fmt.Sprintf("route[%d].length", i), err: err}
		}
		dst := prefix
		if cycleAt >= 0 && i >= cycleAt {
			dst = suffix
		}
		if err := dst.Append(step); err != nil {
			return nil, &routeError{field: fmt.Sprintf("route[%d]", i), err: err}
		}
	}

	if cycleAt >= 0 {
		suffix.SetCycling(true)
		prefix.Concat(suffix)
	}
	return prefix, nil
}
