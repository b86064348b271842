package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsDistrictWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "District2.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"width":10,"height":10}`), 0644))

	select {
	case got := <-w.Events:
		assert.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for district write")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644))

	select {
	case got := <-w.Events:
		t.Fatalf("unexpected event: %s", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCloseWithUndrainedEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)

	// Fill the event buffer past its capacity without draining, so the run
	// goroutine is parked on a send when Close arrives.
	for i := 0; i < 20; i++ {
		path := filepath.Join(dir, fmt.Sprintf("District%d.json", i))
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))
	}
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, w.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Events:
			if !ok {
				return // drained and closed cleanly
			}
		case <-deadline:
			t.Fatal("Events not closed after Close")
		}
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestIsDistrictFile(t *testing.T) {
	assert.True(t, isDistrictFile("/data/District12.json"))
	assert.False(t, isDistrictFile("/data/district12.json"))
	assert.False(t, isDistrictFile("/data/Map12.json"))
}
