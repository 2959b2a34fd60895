package vigil

import (
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestWatchMode(t *testing.T) *WatchMode {
	t.Helper()

	wm, err := NewWatchMode(WatchConfig{
		FS:           afero.NewMemMapFs(),
		Logger:       testLogger(),
		DebounceTime: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wm.Stop() })
	return wm
}

func TestWatchMode_DebounceCoalescesBursts(t *testing.T) {
	wm := newTestWatchMode(t)

	// An editor save typically fires several events in quick succession.
	for i := 0; i < 5; i++ {
		wm.handleEvent(fsnotify.Event{Name: "main.go", Op: fsnotify.Write})
	}

	select {
	case <-wm.rerun:
	case <-time.After(time.Second):
		t.Fatal("expected a rerun signal after the debounce window")
	}

	select {
	case <-wm.rerun:
		t.Fatal("a burst of events must collapse into a single rerun")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchMode_IgnoresIrrelevantEvents(t *testing.T) {
	wm := newTestWatchMode(t)

	wm.handleEvent(fsnotify.Event{Name: "main.go", Op: fsnotify.Chmod})
	wm.handleEvent(fsnotify.Event{Name: ".DS_Store", Op: fsnotify.Write})

	select {
	case <-wm.rerun:
		t.Fatal("chmod and dotfile events must not trigger a rerun")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchMode_RelevantEventKinds(t *testing.T) {
	for _, op := range []fsnotify.Op{fsnotify.Write, fsnotify.Create, fsnotify.Rename, fsnotify.Remove} {
		wm := newTestWatchMode(t)
		wm.handleEvent(fsnotify.Event{Name: "main.go", Op: op})

		select {
		case <-wm.rerun:
		case <-time.After(time.Second):
			t.Fatalf("%v event must trigger a rerun", op)
		}
	}
}
