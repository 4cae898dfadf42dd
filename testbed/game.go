package testbed

import (
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	scene *scene.Scene
	input *core.Input

	width  uint32
	height uint32

	// spinning is the model rotated every frame; nil when the scene has none.
	spinning *math.Transform
	paused   bool
}

var (
	tempMoveSpeed float32 = 5.0
	turnSpeed     float32 = 1.0
	spinSpeed     float32 = 0.5
)

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{},
			GUI:   hud{},
		},
	}

	tg.FnBuildScene = tg.BuildScene
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

// BuildScene is the built-in demo: a floor, a spinning cube and a glass-like sphere.
func (g *TestGame) BuildScene() (*scene.Scene, error) {
	s := scene.New()
	s.Camera.SetPosition(math.NewVec3(0, 2, 8))
	s.Camera.SetEulerRotation(math.NewVec3(math.DegToRad(-10), 0, 0))

	floor := metadata.DefaultMaterial()
	floor.Diffuse = math.NewVec3(0.8, 0.8, 0.8)
	if err := s.AddModel(&scene.Model{
		Name:      "floor",
		Mesh:      scene.NewPlane("floor", 20, 10, floor),
		Transform: math.TransformCreate(),
	}); err != nil {
		return nil, err
	}

	cube := metadata.DefaultMaterial()
	cube.Diffuse = math.NewVec3(0.8, 0.2, 0.2)
	cube.Specular = math.NewVec3(0.5, 0.5, 0.5)
	cube.Shininess = 32
	if err := s.AddModel(&scene.Model{
		Name:      "cube",
		Mesh:      scene.NewCube("cube", 2, cube),
		Transform: math.TransformFromPosition(math.NewVec3(-2, 1, 0)),
	}); err != nil {
		return nil, err
	}

	sphere := metadata.DefaultMaterial()
	sphere.Diffuse = math.NewVec3(0.2, 0.4, 0.9)
	sphere.IOR = 1.5
	sphere.Dissolve = 0.3
	sphere.Illum = 4
	if err := s.AddModel(&scene.Model{
		Name:      "sphere",
		Mesh:      scene.NewSphere("sphere", 1, 32, 16, sphere),
		Transform: math.TransformFromPosition(math.NewVec3(2, 1, 0)),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (g *TestGame) Initialize(s *scene.Scene, input *core.Input) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)
	state.scene = s
	state.input = input
	for _, m := range s.Models {
		if m.Name == "cube" {
			state.spinning = m.Transform
		}
	}
	return nil
}

func (g *TestGame) Update(deltaTime float64) (bool, error) {
	state := g.State.(*gameState)
	in := state.input
	camera := state.scene.Camera
	dt := float32(deltaTime)

	if in.IsKeyDown(core.KEY_A) {
		camera.MoveLeft(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_D) {
		camera.MoveRight(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_W) {
		camera.MoveForward(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_S) {
		camera.MoveBackward(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_Q) {
		camera.MoveDown(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_E) {
		camera.MoveUp(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_LEFT) {
		camera.Yaw(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_RIGHT) {
		camera.Yaw(-turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_UP) {
		camera.Pitch(turnSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		camera.Pitch(-turnSpeed * dt)
	}
	if in.Pressed(core.KEY_SPACE) {
		state.paused = !state.paused
		core.LogInfo("animation paused: %t", state.paused)
	}

	if state.spinning == nil || state.paused {
		return false, nil
	}
	rotation := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), spinSpeed*dt, false)
	state.spinning.Rotate(rotation)
	return true, nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogDebug("TestGame Shutdown fn....")
	return nil
}

// hud is the testbed's GUI layer. It draws nothing; a real overlay records its draw data
// into the post pass through the same interface.
type hud struct{}

func (hud) DrawData(slot int) []byte { return nil }

func (hud) Record(cmd gpu.CommandBuffer, data []byte) {}
