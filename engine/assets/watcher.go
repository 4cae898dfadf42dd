// Package assets watches the asset directories for changes and turns them into bus events.
package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/prism/engine/core"
)

// Kind classifies a file by extension.
type Kind uint8

const (
	KindNone Kind = iota
	KindShader
	KindTexture
	KindManifest
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

// Watcher coalesces bursts of file system events (editors write, rename and chmod in quick
// succession) and fires EVENT_CODE_SHADER_RELOAD once per burst that touched a shader source.
type Watcher struct {
	bus      *core.EventBus
	debounce time.Duration
	fsnotify *fsnotify.Watcher

	mutex    sync.Mutex
	pending  map[string]Kind
	timer    *time.Timer
	isClosed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(bus *core.EventBus, debounce time.Duration) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		bus:      bus,
		debounce: debounce,
		fsnotify: fsWatch,
		pending:  make(map[string]Kind),
		done:     make(chan struct{}),
	}, nil
}

// Watch adds every directory under each of dirs and starts delivering events until ctx is
// done or Close is called.
func (w *Watcher) Watch(ctx context.Context, dirs ...string) error {
	w.mutex.Lock()
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return ErrWatcherClosed
	}
	for _, dir := range dirs {
		if err := w.addRecursive(dir); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.start(ctx)
	core.LogInfo("watching %v for changes", dirs)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mutex.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := w.addRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.handleFileEvent(e.Name)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

// addRecursive adds all directories under the given one to the watch list.
func (w *Watcher) addRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (w *Watcher) handleFileEvent(path string) {
	kind := DetermineKind(path)
	if kind == KindNone {
		return
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return
	}
	w.pending[path] = kind
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush() {
	w.mutex.Lock()
	pending := w.pending
	w.pending = make(map[string]Kind)
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return
	}

	var shader string
	for path, kind := range pending {
		switch kind {
		case KindShader:
			shader = path
		default:
			core.LogDebug("%s changed, restart to pick it up", path)
		}
	}
	if shader == "" {
		return
	}
	core.LogInfo("shader source %s changed, requesting reload", shader)
	ctx := core.EventContext{}
	ctx.Data.S = shader
	w.bus.Fire(core.EVENT_CODE_SHADER_RELOAD, w, ctx)
}

func DetermineKind(path string) Kind {
	switch filepath.Ext(path) {
	case ".vert", ".frag", ".rgen", ".rmiss", ".rchit", ".rahit", ".wgsl", ".glsl":
		return KindShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif":
		return KindTexture
	case ".yaml", ".yml":
		return KindManifest
	default:
		return KindNone
	}
}
