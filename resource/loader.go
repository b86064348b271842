package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sumire-games/nightdistrict/server/game/timeline"
	"go.uber.org/zap"
)

// Actor classes accepted in district files. The world layer maps these to
// movement speeds and physics body setup.
const (
	ClassPedestrian = "pedestrian"
	ClassVehicle    = "vehicle"
	ClassWarden     = "warden"
)

func validClass(c string) bool {
	switch c {
	case ClassPedestrian, ClassVehicle, ClassWarden:
		return true
	}
	return false
}

// RouteRecord is one authored step in an actor's route.
// Counter defaults to Length when omitted; Param defaults to 0.
// The first record with Cyclic=true marks the start of the repeating
// suffix; everything before it runs once as a prefix.
type RouteRecord struct {
	Kind    string  `json:"kind"`
	Length  int     `json:"length"`
	Counter int     `json:"counter"`
	Param   float64 `json:"param"`
	Cyclic  bool    `json:"cyclic"`
}

// DistrictActor is one scripted actor placed in a district.
type DistrictActor struct {
	Name  string        `json:"name"`
	Class string        `json:"class"`
	X     float64       `json:"x"`
	Y     float64       `json:"y"`
	Route []RouteRecord `json:"route"`

	// Proto is the compiled route, built once at load time.
	// Spawners must Clone it, never advance it directly.
	// Nil when the actor's route failed to compile (actor is skipped).
	Proto *timeline.Timeline `json:"-"`
}

// District represents one District*.json level file.
type District struct {
	ID     int              `json:"id"` // set after load from filename
	Name   string           `json:"name"`
	Width  float64          `json:"width"`
	Height float64          `json:"height"`
	Actors []*DistrictActor `json:"actors"`
}

// LoadError is a structured district load failure: which file, which actor
// (index into the actors array, -1 for file-level problems), which field.
type LoadError struct {
	File       string
	ActorIndex int
	Field      string
	Err        error
}

func (e *LoadError) Error() string {
	if e.ActorIndex >= 0 {
		return fmt.Sprintf("resource: %s: actor %d: %s: %v", e.File, e.ActorIndex, e.Field, e.Err)
	}
	return fmt.Sprintf("resource: %s: %s: %v", e.File, e.Field, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader reads and holds all district files for a data directory.
type Loader struct {
	DataPath  string
	Districts map[int]*District

	logger *zap.Logger
}

// NewLoader creates a Loader for the given district data directory.
func NewLoader(dataPath string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		DataPath:  dataPath,
		Districts: make(map[int]*District),
		logger:    logger,
	}
}

var districtFileRegex = regexp.MustCompile(`^District(\d+)\.json$`)

// Load reads every District*.json in the data directory. A file that fails
// to load is skipped with a logged error; the remaining districts still load.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.DataPath)
	if err != nil {
		return fmt.Errorf("resource: readdir %s: %w", l.DataPath, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := districtFileRegex.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		var id int
		fmt.Sscanf(m[1], "%d", &id)

		d, err := l.LoadDistrict(filepath.Join(l.DataPath, e.Name()))
		if err != nil {
			l.logger.Error("district load failed", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		d.ID = id
		l.Districts[id] = d
	}
	return nil
}

// LoadDistrict reads and compiles a single district file. File-level problems
// (unreadable, bad JSON, bad dimensions) fail the whole file. A bad actor
// route aborts only that actor: it is logged, its Proto stays nil, and the
// rest of the district still loads.
func (l *Loader) LoadDistrict(path string) (*District, error) {
	file := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: file, ActorIndex: -1, Field: "file", Err: err}
	}
	d := &District{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, &LoadError{File: file, ActorIndex: -1, Field: "json", Err: err}
	}
	if d.Width <= 0 || d.Height <= 0 {
		return nil, &LoadError{File: file, ActorIndex: -1, Field: "width/height",
			Err: fmt.Errorf("must be positive, got %gx%g", d.Width, d.Height)}
	}
	for i, a := range d.Actors {
		if le := compileActor(file, i, a); le != nil {
			l.logger.Warn("actor route rejected",
				zap.String("file", le.File),
				zap.Int("actor", le.ActorIndex),
				zap.String("field", le.Field),
				zap.Error(le.Err))
		}
	}
	return d, nil
}

// compileActor validates one actor entry and compiles its route into
// a.Proto. Returns the failure (and leaves Proto nil) if anything is off.
func compileActor(file string, idx int, a *DistrictActor) *LoadError {
	fail := func(field string, err error) *LoadError {
		return &LoadError{File: file, ActorIndex: idx, Field: field, Err: err}
	}
	if a == nil {
		return fail("actor", fmt.Errorf("null entry"))
	}
	if a.Name == "" {
		return fail("name", fmt.Errorf("required"))
	}
	if !validClass(a.Class) {
		return fail("class", fmt.Errorf("unknown class %q", a.Class))
	}
	tl, err := BuildTimeline(a.Route)
	if err != nil {
		le := &LoadError{File: file, ActorIndex: idx, Err: err}
		if re, ok := err.(*routeError); ok {
			le.Field = re.field
			le.Err = re.err
		}
		return le
	}
	a.Proto = tl
	return nil
}

// Reload re-reads a single district file and swaps it into the loader.
// Used by the file watcher; the returned district carries the new routes.
func (l *Loader) Reload(path string) (*District, error) {
	m := districtFileRegex.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("resource: not a district file: %s", path)
	}
	var id int
	fmt.Sscanf(m[1], "%d", &id)

	d, err := l.LoadDistrict(path)
	if err != nil {
		return nil, err
	}
	d.ID = id
	l.Districts[id] = d
	return d, nil
}
