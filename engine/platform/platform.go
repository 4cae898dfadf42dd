// Package platform owns the glfw window: it feeds keys and resizes into the event bus and
// hands the Vulkan backend its loader entry point and surface.
package platform

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var keyMap = map[glfw.Key]core.KeyCode{
	glfw.KeyTab:    core.KEY_TAB,
	glfw.KeyEscape: core.KEY_ESCAPE,
	glfw.KeySpace:  core.KEY_SPACE,
	glfw.KeyLeft:   core.KEY_LEFT,
	glfw.KeyUp:     core.KEY_UP,
	glfw.KeyRight:  core.KEY_RIGHT,
	glfw.KeyDown:   core.KEY_DOWN,
	glfw.KeyA:      core.KEY_A,
	glfw.KeyD:      core.KEY_D,
	glfw.KeyE:      core.KEY_E,
	glfw.KeyQ:      core.KEY_Q,
	glfw.KeyR:      core.KEY_R,
	glfw.KeyS:      core.KEY_S,
	glfw.KeyT:      core.KEY_T,
	glfw.KeyW:      core.KEY_W,
	glfw.KeyF5:     core.KEY_F5,
}

type Platform struct {
	Window *glfw.Window
	bus    *core.EventBus
	input  *core.Input
}

func New(bus *core.EventBus, input *core.Input) *Platform {
	return &Platform{bus: bus, input: input}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return fmt.Errorf("glfw: %w: no Vulkan loader found", core.ErrFatal)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create window: %w", err)
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It reports false once the window should close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

func (p *Platform) FramebufferExtent() gpu.Extent2D {
	w, h := p.Window.GetFramebufferSize()
	return gpu.Extent2D{Width: uint32(w), Height: uint32(h)}
}

// WaitEvents blocks until the window system has something to deliver, e.g. while minimized.
func (p *Platform) WaitEvents() {
	glfw.WaitEvents()
}

func (p *Platform) InstanceProcAddress() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, fmt.Errorf("vkCreateWindowSurface failed: %w", err)
	}
	return vk.SurfaceFromPointer(surface), nil
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code, ok := keyMap[key]
	if !ok || action == glfw.Repeat {
		return
	}
	p.input.ProcessKey(code, action == glfw.Press)
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	p.bus.Fire(core.EVENT_CODE_RESIZED, p, ctx)
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}
