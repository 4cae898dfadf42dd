package engine

import (
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name string
	// Render path the first frame uses.
	StartMode  metadata.RenderMode
	ClearColor math.Vec4
}

// NewApplicationConfig derives the application settings from a validated Config.
func NewApplicationConfig(cfg *config.Config) *ApplicationConfig {
	mode, ok := metadata.ParseRenderMode(cfg.Renderer.Mode)
	if !ok {
		mode = metadata.RenderModeRaster
	}
	c := cfg.Renderer.ClearColor
	return &ApplicationConfig{
		StartPosX:   cfg.Window.X,
		StartPosY:   cfg.Window.Y,
		StartWidth:  cfg.Window.Width,
		StartHeight: cfg.Window.Height,
		Name:        cfg.Window.Title,
		StartMode:   mode,
		ClearColor:  math.NewVec4(c[0], c[1], c[2], c[3]),
	}
}
