package scene

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/jobs"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML description of a scene. Angles are in degrees.
type Manifest struct {
	Camera struct {
		Position [3]float32 `yaml:"position"`
		Rotation [3]float32 `yaml:"rotation"`
		FOV      float32    `yaml:"fov"`
	} `yaml:"camera"`
	Light struct {
		Direction [3]float32 `yaml:"direction"`
	} `yaml:"light"`
	Textures []TextureEntry `yaml:"textures"`
	Models   []ModelEntry   `yaml:"models"`
}

type TextureEntry struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"path"`
	FlipY bool   `yaml:"flip_y"`
}

type ModelEntry struct {
	Name string `yaml:"name"`
	// Mesh is one of cube, plane, sphere.
	Mesh      string         `yaml:"mesh"`
	Size      float32        `yaml:"size"`
	Divisions int            `yaml:"divisions"`
	Segments  int            `yaml:"segments"`
	Rings     int            `yaml:"rings"`
	Texture   string         `yaml:"texture"`
	Material  *MaterialEntry `yaml:"material"`
	Position  [3]float32     `yaml:"position"`
	Rotation  [3]float32     `yaml:"rotation"`
	Scale     *[3]float32    `yaml:"scale"`
}

type MaterialEntry struct {
	Ambient   *[3]float32 `yaml:"ambient"`
	Diffuse   *[3]float32 `yaml:"diffuse"`
	Specular  *[3]float32 `yaml:"specular"`
	Emission  *[3]float32 `yaml:"emission"`
	Shininess float32     `yaml:"shininess"`
	IOR       *float32    `yaml:"ior"`
	Dissolve  *float32    `yaml:"dissolve"`
	Illum     int32       `yaml:"illum"`
}

func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse scene manifest: %w", err)
	}
	return m, nil
}

// Load reads a manifest and builds the scene it describes. Texture paths are relative to the
// manifest's directory.
func Load(path string, js *jobs.JobSystem, maxTextureSize int) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return Build(m, filepath.Dir(path), js, maxTextureSize)
}

// Build decodes the textures on the job system, then generates every mesh in model order.
func Build(m *Manifest, baseDir string, js *jobs.JobSystem, maxTextureSize int) (*Scene, error) {
	s := New()
	s.Camera.SetPosition(vec3(m.Camera.Position))
	s.Camera.SetEulerRotation(math.NewVec3(
		math.DegToRad(m.Camera.Rotation[0]),
		math.DegToRad(m.Camera.Rotation[1]),
		math.DegToRad(m.Camera.Rotation[2]),
	))
	if m.Camera.FOV > 0 {
		s.Camera.FOV = math.DegToRad(m.Camera.FOV)
	}
	if d := vec3(m.Light.Direction); d.LengthSquared() > 0 {
		s.LightDir = d.Normalized()
	}

	if len(s.Textures)+len(m.Textures) > metadata.MaxTextureCount {
		return nil, fmt.Errorf("manifest names %d textures, at most %d fit: %w",
			len(m.Textures), metadata.MaxTextureCount-len(s.Textures), core.ErrContractViolation)
	}
	decoded := make([]*loaders.TextureData, len(m.Textures))
	batch := make([]jobs.Job, len(m.Textures))
	for i, entry := range m.Textures {
		i, entry := i, entry
		batch[i] = jobs.Job{
			Name: "texture " + entry.Name,
			Run: func() error {
				tex, err := loaders.LoadTexture(filepath.Join(baseDir, entry.Path), loaders.TextureOptions{FlipY: entry.FlipY, MaxSize: maxTextureSize})
				if err != nil {
					return err
				}
				tex.Name = entry.Name
				decoded[i] = tex
				return nil
			},
		}
	}
	if err := js.RunAll(batch); err != nil {
		return nil, err
	}

	textures := map[string]int{}
	for _, tex := range decoded {
		idx, err := s.AddTexture(tex)
		if err != nil {
			return nil, err
		}
		textures[tex.Name] = idx
	}

	for _, entry := range m.Models {
		model, err := buildModel(entry, textures)
		if err != nil {
			return nil, err
		}
		if err := s.AddModel(model); err != nil {
			return nil, err
		}
	}
	core.LogInfo("scene built: %d models, %d textures", len(s.Models), len(s.Textures))
	return s, nil
}

func buildModel(e ModelEntry, textures map[string]int) (*Model, error) {
	mat := e.Material.material()
	texture := 0
	if e.Texture != "" {
		idx, ok := textures[e.Texture]
		if !ok {
			return nil, fmt.Errorf("model %s references unknown texture %q: %w", e.Name, e.Texture, core.ErrContractViolation)
		}
		texture = idx
		mat.TextureID = int32(idx)
	}

	size := e.Size
	if size == 0 {
		size = 1
	}
	var mesh *MeshData
	switch e.Mesh {
	case "cube":
		mesh = NewCube(e.Name, size, mat)
	case "plane":
		mesh = NewPlane(e.Name, size, e.Divisions, mat)
	case "sphere":
		mesh = NewSphere(e.Name, size*0.5, e.Segments, e.Rings, mat)
	default:
		return nil, fmt.Errorf("model %s has unknown mesh %q", e.Name, e.Mesh)
	}

	scale := math.NewVec3One()
	if e.Scale != nil {
		scale = vec3(*e.Scale)
	}
	rotation := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), math.DegToRad(e.Rotation[0]), false).
		Mul(math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), math.DegToRad(e.Rotation[1]), false)).
		Mul(math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.DegToRad(e.Rotation[2]), false))

	return &Model{
		Name:      e.Name,
		Mesh:      mesh,
		Transform: math.TransformFromPositionRotationScale(vec3(e.Position), rotation, scale),
		Texture:   texture,
	}, nil
}

func (e *MaterialEntry) material() metadata.Material {
	mat := metadata.DefaultMaterial()
	if e == nil {
		return mat
	}
	set := func(dst *math.Vec3, src *[3]float32) {
		if src != nil {
			*dst = vec3(*src)
		}
	}
	set(&mat.Ambient, e.Ambient)
	set(&mat.Diffuse, e.Diffuse)
	set(&mat.Specular, e.Specular)
	set(&mat.Emission, e.Emission)
	mat.Shininess = e.Shininess
	mat.Illum = e.Illum
	if e.IOR != nil {
		mat.IOR = *e.IOR
	}
	if e.Dissolve != nil {
		mat.Dissolve = *e.Dissolve
	}
	return mat
}

func vec3(v [3]float32) math.Vec3 {
	return math.NewVec3(v[0], v[1], v[2])
}
