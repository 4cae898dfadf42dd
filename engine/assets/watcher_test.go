package assets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/prism/engine/core"
)

func init() {
	core.LogSetOutput(io.Discard)
}

func TestDetermineKind(t *testing.T) {
	cases := []struct {
		path string
		want Kind
	}{
		{"shaders/raster.vert", KindShader},
		{"shaders/post.wgsl", KindShader},
		{"shaders/raytrace.rchit", KindShader},
		{"shaders/common.glsl", KindShader},
		{"textures/wood.png", KindTexture},
		{"textures/wood.tiff", KindTexture},
		{"scene.yaml", KindManifest},
		{"shaders/raster.vert.spv", KindNone},
		{"README", KindNone},
	}
	for _, c := range cases {
		if got := DetermineKind(c.path); got != c.want {
			t.Errorf("%s: expected %d, got %d", c.path, c.want, got)
		}
	}
}

func newWatched(t *testing.T) (string, chan string) {
	t.Helper()
	dir := t.TempDir()
	bus := core.NewEventBus()
	reloads := make(chan string, 8)
	bus.Register(core.EVENT_CODE_SHADER_RELOAD, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		reloads <- data.Data.S
		return true
	})

	w, err := NewWatcher(bus, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	return dir, reloads
}

func TestShaderWritesAreCoalesced(t *testing.T) {
	dir, reloads := newWatched(t)
	path := filepath.Join(dir, "raster.frag")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("void main() {}"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	select {
	case got := <-reloads:
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a reload request")
	}
	select {
	case got := <-reloads:
		t.Errorf("expected a single reload for one burst, got another for %s", got)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNonShaderChangesDoNotReload(t *testing.T) {
	dir, reloads := newWatched(t)
	if err := os.WriteFile(filepath.Join(dir, "wood.png"), []byte{0}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case got := <-reloads:
		t.Errorf("expected no reload, got one for %s", got)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	dir, reloads := newWatched(t)
	sub := filepath.Join(dir, "raytrace")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	// give the event loop time to add the new directory
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "shadow.rmiss")
	if err := os.WriteFile(path, []byte("void main() {}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case got := <-reloads:
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a reload request for a file in a new directory")
	}
}

func TestWatchAfterClose(t *testing.T) {
	w, err := NewWatcher(core.NewEventBus(), time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Watch(context.Background(), t.TempDir()); err != ErrWatcherClosed {
		t.Errorf("expected ErrWatcherClosed, got %v", err)
	}
}
