package engine

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/record"
	"github.com/spaghettifunk/prism/engine/scene"
)

// Game is the set of hooks the engine drives. Every hook runs on the render thread.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	// GUI is composited over every frame. It may be nil.
	GUI          record.GUI
	FnBuildScene BuildScene
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// BuildScene supplies the scene when no manifest is configured.
type BuildScene func() (*scene.Scene, error)
type Initialize func(s *scene.Scene, input *core.Input) error

// Update advances the game by deltaTime seconds. moved reports that a model transform
// changed, so the top level acceleration structure must be refit.
type Update func(deltaTime float64) (moved bool, err error)
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
