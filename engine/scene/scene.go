// Package scene holds the models the renderer draws: procedural or manifest-described meshes,
// their transforms and materials, the texture table and the camera.
package scene

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Model is one drawn instance. Its position in Scene.Models is its ObjectDescription slot.
type Model struct {
	Name      string
	Mesh      *MeshData
	Transform *math.Transform
	// Texture indexes Scene.Textures.
	Texture int
}

type Scene struct {
	Camera   *Camera
	LightDir math.Vec3
	Models   []*Model
	// Textures[0] is always the fallback checkerboard.
	Textures []*loaders.TextureData
}

func New() *Scene {
	return &Scene{
		Camera:   NewCamera(),
		LightDir: math.NewVec3(0.2, -1, -0.3).Normalized(),
		Textures: []*loaders.TextureData{
			loaders.Checkerboard(64, 8, [4]uint8{230, 230, 230, 255}, [4]uint8{40, 40, 40, 255}),
		},
	}
}

// AddTexture appends a texture and returns its index.
func (s *Scene) AddTexture(t *loaders.TextureData) (int, error) {
	if len(s.Textures) >= metadata.MaxTextureCount {
		return -1, fmt.Errorf("scene already holds %d textures: %w", len(s.Textures), core.ErrContractViolation)
	}
	s.Textures = append(s.Textures, t)
	return len(s.Textures) - 1, nil
}

func (s *Scene) AddModel(m *Model) error {
	if err := m.Mesh.Validate(); err != nil {
		return err
	}
	if m.Texture < 0 || m.Texture >= len(s.Textures) {
		return fmt.Errorf("model %s uses texture %d of %d: %w", m.Name, m.Texture, len(s.Textures), core.ErrContractViolation)
	}
	if m.Transform == nil {
		m.Transform = math.TransformCreate()
	}
	s.Models = append(s.Models, m)
	return nil
}

// Transforms returns the world matrix of every model in model order.
func (s *Scene) Transforms() []math.Mat4 {
	out := make([]math.Mat4, len(s.Models))
	for i, m := range s.Models {
		out[i] = m.Transform.GetWorld()
	}
	return out
}

func (s *Scene) GlobalUBO(aspect float32) metadata.GlobalUBO {
	return metadata.GlobalUBO{
		Projection: s.Camera.Projection(aspect),
		View:       s.Camera.View(),
	}
}

func (s *Scene) SceneUBO() metadata.SceneUBO {
	return metadata.SceneUBO{
		LightDir: s.LightDir.ToVec4(0),
		ViewDir:  s.Camera.Forward().ToVec4(0),
		CamPos:   s.Camera.Position.ToVec4(1),
	}
}
