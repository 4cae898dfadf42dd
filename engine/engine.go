package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/config"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/jobs"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/pipeline"
	"github.com/spaghettifunk/prism/engine/renderer/vulkan"
	"github.com/spaghettifunk/prism/engine/scene"
	"go.uber.org/multierr"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const (
	watchDebounce = 200 * time.Millisecond
	jobQueueSize  = 64
	// metricsInterval is how often frame timings are logged at debug level.
	metricsInterval = 5.0
)

type Engine struct {
	currentStage Stage
	cfg          *config.Config
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  atomic.Bool

	bus      *core.EventBus
	input    *core.Input
	platform *platform.Platform
	jobs     *jobs.JobSystem
	watcher  *assets.Watcher
	device   *vulkan.Device
	renderer *renderer.Renderer
	scene    *scene.Scene

	width    uint32
	height   uint32
	clock    *core.Clock
	lastTime float64
}

func New(cfg *config.Config, g *Game) (*Engine, error) {
	if err := core.LogConfigure(cfg.Logging.Level, core.LogFileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = NewApplicationConfig(cfg)
	}

	bus := core.NewEventBus()
	input := core.NewInput(bus)
	return &Engine{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		gameInstance: g,
		bus:          bus,
		input:        input,
		platform:     platform.New(bus, input),
		clock:        core.NewClock(),
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}, nil
}

/**
 * @brief Opens the window, loads the scene, creates the Vulkan device and the renderer, then
 * starts the shader watcher. Call Shutdown even when this fails.
 */
func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing
	app := e.gameInstance.ApplicationConfig

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
		return err
	}

	js, err := jobs.NewJobSystem(runtime.NumCPU(), jobQueueSize)
	if err != nil {
		return err
	}
	e.jobs = js

	if e.scene, err = e.loadScene(); err != nil {
		return err
	}

	e.device, err = vulkan.New(e.platform, vulkan.Options{
		AppName:    app.Name,
		Validation: e.cfg.Renderer.Validation,
		VSync:      e.cfg.Renderer.VSync,
	})
	if err != nil {
		return err
	}

	e.renderer = renderer.New(e.device, e.platform, e.bus, e.gameInstance.GUI, renderer.Options{
		Mode:       app.StartMode,
		ClearColor: app.ClearColor,
		ShaderDir:  e.cfg.Shaders.SourceDir,
		Shaders:    pipeline.DefaultShaders(),
		Compiler:   pipeline.NewCompiler(e.cfg.Shaders.Glslc, e.cfg.Shaders.OutputDir),
	})
	if err := e.renderer.Initialize(ctx, e.scene); err != nil {
		return err
	}

	if e.cfg.Shaders.HotReload {
		if e.watcher, err = assets.NewWatcher(e.bus, watchDebounce); err != nil {
			return err
		}
		if err := e.watcher.Watch(ctx, e.cfg.Shaders.SourceDir); err != nil {
			return err
		}
		core.LogInfo("watching %s for shader changes", e.cfg.Shaders.SourceDir)
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.scene, e.input); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) loadScene() (*scene.Scene, error) {
	if path := e.cfg.Scene.Manifest; path != "" {
		core.LogInfo("loading scene manifest %s", path)
		return scene.Load(path, e.jobs, e.cfg.Renderer.MaxTextureSize)
	}
	if e.gameInstance.FnBuildScene == nil {
		return nil, fmt.Errorf("no scene manifest configured and the game builds no scene: %w", core.ErrContractViolation)
	}
	return e.gameInstance.FnBuildScene()
}

// Run drives frames until the window closes, a quit event arrives or ctx is done. A fatal
// renderer error or a contract violation ends the loop and is returned.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	lastReport := e.lastTime

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if !e.platform.PumpMessages() {
			break
		}
		if e.isSuspended.Load() {
			e.platform.WaitEvents()
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			moved, err := e.gameInstance.FnUpdate(delta)
			if err != nil {
				core.LogError("Game update failed, shutting down: %v", err)
				return err
			}
			if moved {
				e.renderer.UpdateTransforms()
			}
		}

		if err := e.renderer.Render(ctx, delta); err != nil {
			if !recoverable(err) {
				core.LogError("Render failed, shutting down: %v", err)
				return err
			}
			core.LogWarn("frame dropped: %v", err)
		}

		if currentTime-lastReport >= metricsInterval {
			m := e.renderer.Metrics()
			core.LogDebug("%.1f fps, %.2f ms/frame, mode %s", m.FPS(), m.FrameTime()*1000, e.renderer.Mode())
			lastReport = currentTime
		}

		// Input state is copied last, after everything this frame read it.
		e.input.Update()
		e.lastTime = currentTime
	}
	return nil
}

// recoverable reports whether the loop may drop the frame and go on. Device failures and
// broken caller contracts end the loop.
func recoverable(err error) bool {
	return !errors.Is(err, core.ErrFatal) && !errors.Is(err, core.ErrContractViolation)
}

// Shutdown releases everything Initialize created, in reverse order. It is safe after a
// partial Initialize.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs error
	if e.watcher != nil {
		errs = multierr.Append(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.gameInstance.FnShutdown != nil {
		errs = multierr.Append(errs, e.gameInstance.FnShutdown())
	}
	if e.renderer != nil {
		errs = multierr.Append(errs, e.renderer.Shutdown())
		e.renderer = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	if e.jobs != nil {
		errs = multierr.Append(errs, e.jobs.Shutdown())
		e.jobs = nil
	}
	if e.platform.Window != nil {
		errs = multierr.Append(errs, e.platform.Shutdown())
	}
	e.bus.Shutdown()
	e.currentStage = EngineStageUninitialized
	return errs
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch core.KeyCode(data.Data.U32[0]) {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	case core.KEY_T:
		e.bus.Fire(core.EVENT_CODE_TOGGLE_RENDER_MODE, e, core.EventContext{})
		return true
	case core.KEY_F5:
		var ctx core.EventContext
		ctx.Data.S = e.cfg.Shaders.SourceDir
		e.bus.Fire(core.EVENT_CODE_SHADER_RELOAD, e, ctx)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended.Store(true)
		return false
	}
	if e.isSuspended.Swap(false) {
		core.LogInfo("Window restored, resuming application.")
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %v", err)
		}
	}
	// The renderer listens for the same event.
	return false
}
