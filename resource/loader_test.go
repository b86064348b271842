package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumire-games/nightdistrict/server/game/timeline"
	"go.uber.org/zap"
)

func writeDistrict(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const goodDistrict = `{
	"name": "harbor",
	"width": 200,
	"height": 120,
	"actors": [
		{
			"name": "dockworker", "class": "pedestrian", "x": 10, "y": 20,
			"route": [
				{"kind": "walk", "length": 30, "param": 90},
				{"kind": "idle", "length": 10, "cyclic": true},
				{"kind": "walk", "length": 20, "param": 270}
			]
		},
		{
			"name": "patrol-car", "class": "vehicle", "x": 50, "y": 5,
			"route": [{"kind": "drive", "length": 60, "cyclic": true}]
		}
	]
}`

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeDistrict(t, dir, "District3.json", goodDistrict)
	writeDistrict(t, dir, "notes.txt", "ignore me")

	l := NewLoader(dir, zap.NewNop())
	require.NoError(t, l.Load())

	require.Len(t, l.Districts, 1)
	d := l.Districts[3]
	require.NotNil(t, d)
	assert.Equal(t, 3, d.ID)
	assert.Equal(t, "harbor", d.Name)
	require.Len(t, d.Actors, 2)
	require.NotNil(t, d.Actors[0].Proto)
	assert.True(t, d.Actors[0].Proto.Cyclic())
	assert.Equal(t, 3, d.Actors[0].Proto.Len())
}

func TestLoaderSkipsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeDistrict(t, dir, "District1.json", goodDistrict)
	writeDistrict(t, dir, "District2.json", "{not json")

	l := NewLoader(dir, zap.NewNop())
	require.NoError(t, l.Load())
	assert.Len(t, l.Districts, 1)
	assert.Contains(t, l.Districts, 1)
}

func TestLoadDistrictFileErrors(t *testing.T) {
	dir := t.TempDir()

	badJSON := writeDistrict(t, dir, "District5.json", "{oops")
	l := NewLoader(dir, zap.NewNop())
	_, err := l.LoadDistrict(badJSON)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "District5.json", le.File)
	assert.Equal(t, -1, le.ActorIndex)
	assert.Equal(t, "json", le.Field)

	badDims := writeDistrict(t, dir, "District6.json", `{"name":"x","width":0,"height":50}`)
	_, err = l.LoadDistrict(badDims)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "width/height", le.Field)
}

func TestCompileActorErrors(t *testing.T) {
	tests := []struct {
		name  string
		actor *DistrictActor
		field string
	}{
		{"missing name", &DistrictActor{Class: ClassPedestrian}, "name"},
		{"unknown class", &DistrictActor{Name: "a", Class: "dragon"}, "class"},
		{"missing kind", &DistrictActor{Name: "a", Class: ClassWarden,
			Route: []RouteRecord{{Length: 5}}}, "route[0].kind"},
		{"bad length", &DistrictActor{Name: "a", Class: ClassVehicle,
			Route: []RouteRecord{
				{Kind: "drive", Length: 10},
				{Kind: "turn", Length: 0},
			}}, "route[1].length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			le := compileActor("District9.json", 4, tt.actor)
			require.NotNil(t, le)
			assert.Equal(t, "District9.json", le.File)
			assert.Equal(t, 4, le.ActorIndex)
			assert.Equal(t, tt.field, le.Field)
			assert.Nil(t, tt.actor.Proto)
		})
	}
}

func TestCompileActorBadLengthWrapsInvalidStep(t *testing.T) {
	a := &DistrictActor{Name: "a", Class: ClassPedestrian,
		Route: []RouteRecord{{Kind: "walk", Length: -3}}}
	le := compileActor("District9.json", 0, a)
	require.NotNil(t, le)
	assert.True(t, errors.Is(le, timeline.ErrInvalidStep))
}

func TestBadActorDoesNotFailDistrict(t *testing.T) {
	dir := t.TempDir()
	path := writeDistrict(t, dir, "District7.json", `{
		"name": "mixed", "width": 100, "height": 100,
		"actors": [
			{"name": "ok", "class": "pedestrian",
			 "route": [{"kind": "walk", "length": 10, "cyclic": true}]},
			{"name": "broken", "class": "pedestrian",
			 "route": [{"kind": "walk", "length": 0}]}
		]
	}`)
	l := NewLoader(dir, zap.NewNop())
	d, err := l.LoadDistrict(path)
	require.NoError(t, err)
	require.Len(t, d.Actors, 2)
	assert.NotNil(t, d.Actors[0].Proto)
	assert.Nil(t, d.Actors[1].Proto)
}

func TestReloadSwapsDistrict(t *testing.T) {
	dir := t.TempDir()
	path := writeDistrict(t, dir, "District4.json", goodDistrict)

	l := NewLoader(dir, zap.NewNop())
	require.NoError(t, l.Load())
	require.Equal(t, "harbor", l.Districts[4].Name)

	writeDistrict(t, dir, "District4.json", `{"name":"harbor-v2","width":200,"height":120}`)
	d, err := l.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, "harbor-v2", d.Name)
	assert.Equal(t, 4, d.ID)
	assert.Same(t, d, l.Districts[4])
}
