package scene

import (
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// MeshData is CPU-side geometry. MaterialIndices holds one entry per triangle into Materials.
type MeshData struct {
	Name            string
	Vertices        []math.Vertex3D
	Indices         []uint32
	MaterialIndices []uint32
	Materials       []metadata.Material
}

func (m *MeshData) TriangleCount() int {
	return len(m.Indices) / 3
}

// Validate checks the invariants the acceleration structure build and the hit shader rely on.
func (m *MeshData) Validate() error {
	switch {
	case len(m.Indices) == 0 || len(m.Indices)%3 != 0:
		return fmt.Errorf("mesh %s has %d indices: %w", m.Name, len(m.Indices), core.ErrContractViolation)
	case len(m.MaterialIndices) != m.TriangleCount():
		return fmt.Errorf("mesh %s has %d material indices for %d triangles: %w", m.Name, len(m.MaterialIndices), m.TriangleCount(), core.ErrContractViolation)
	case len(m.Materials) == 0:
		return fmt.Errorf("mesh %s has no material: %w", m.Name, core.ErrContractViolation)
	}
	for _, i := range m.Indices {
		if int(i) >= len(m.Vertices) {
			return fmt.Errorf("mesh %s index %d out of %d vertices: %w", m.Name, i, len(m.Vertices), core.ErrContractViolation)
		}
	}
	for _, i := range m.MaterialIndices {
		if int(i) >= len(m.Materials) {
			return fmt.Errorf("mesh %s material %d out of %d: %w", m.Name, i, len(m.Materials), core.ErrContractViolation)
		}
	}
	return nil
}

// withMaterial fills the per-triangle material table with a single material.
func (m *MeshData) withMaterial(mat metadata.Material) *MeshData {
	m.Materials = []metadata.Material{mat}
	m.MaterialIndices = make([]uint32, m.TriangleCount())
	return m
}

type face struct {
	normal, right, up math.Vec3
}

// NewCube returns an axis aligned cube centered at the origin, four vertices per face so
// every face has its own normal and uv.
func NewCube(name string, size float32, mat metadata.Material) *MeshData {
	h := size * 0.5
	faces := []face{
		{math.NewVec3(0, 0, 1), math.NewVec3(1, 0, 0), math.NewVec3(0, 1, 0)},
		{math.NewVec3(0, 0, -1), math.NewVec3(-1, 0, 0), math.NewVec3(0, 1, 0)},
		{math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1), math.NewVec3(0, 1, 0)},
		{math.NewVec3(-1, 0, 0), math.NewVec3(0, 0, 1), math.NewVec3(0, 1, 0)},
		{math.NewVec3(0, 1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, -1)},
		{math.NewVec3(0, -1, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 0, 1)},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	m := &MeshData{Name: name}
	for _, f := range faces {
		base := uint32(len(m.Vertices))
		center := f.normal.MulScalar(h)
		for _, c := range corners {
			pos := center.Add(f.right.MulScalar(c[0] * h)).Add(f.up.MulScalar(c[1] * h))
			m.Vertices = append(m.Vertices, math.Vertex3D{
				Position: pos,
				Normal:   f.normal,
				Texcoord: math.NewVec2((c[0]+1)*0.5, (1-c[1])*0.5),
			})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base+2, base+3, base)
	}
	return m.withMaterial(mat)
}

// NewPlane returns a square in the XZ plane facing +Y, split into divisions x divisions quads.
func NewPlane(name string, size float32, divisions int, mat metadata.Material) *MeshData {
	divisions = max(1, divisions)
	step := size / float32(divisions)
	h := size * 0.5

	m := &MeshData{Name: name}
	for z := 0; z <= divisions; z++ {
		for x := 0; x <= divisions; x++ {
			m.Vertices = append(m.Vertices, math.Vertex3D{
				Position: math.NewVec3(-h+float32(x)*step, 0, -h+float32(z)*step),
				Normal:   math.NewVec3Up(),
				Texcoord: math.NewVec2(float32(x)/float32(divisions), float32(z)/float32(divisions)),
			})
		}
	}
	row := uint32(divisions + 1)
	for z := uint32(0); z < uint32(divisions); z++ {
		for x := uint32(0); x < uint32(divisions); x++ {
			near := (z+1)*row + x
			far := z*row + x
			m.Indices = append(m.Indices, near, near+1, far+1, far+1, far, near)
		}
	}
	return m.withMaterial(mat)
}

// NewSphere returns a UV sphere. The pole caps use one triangle per segment.
func NewSphere(name string, radius float32, segments, rings int, mat metadata.Material) *MeshData {
	segments = max(3, segments)
	rings = max(2, rings)

	m := &MeshData{Name: name}
	for r := 0; r <= rings; r++ {
		phi := stdmath.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			theta := 2 * stdmath.Pi * float64(s) / float64(segments)
			n := math.NewVec3(
				float32(stdmath.Sin(phi)*stdmath.Cos(theta)),
				float32(stdmath.Cos(phi)),
				float32(-stdmath.Sin(phi)*stdmath.Sin(theta)),
			)
			m.Vertices = append(m.Vertices, math.Vertex3D{
				Position: n.MulScalar(radius),
				Normal:   n,
				Texcoord: math.NewVec2(float32(s)/float32(segments), float32(r)/float32(rings)),
			})
		}
	}
	row := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*row + s
			b := (r+1)*row + s
			if r != 0 {
				m.Indices = append(m.Indices, a, b, a+1)
			}
			if r != uint32(rings)-1 {
				m.Indices = append(m.Indices, a+1, b, b+1)
			}
		}
	}
	return m.withMaterial(mat)
}
