package metadata

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/prism/engine/math"
)

// Sizes of the host/shader structures in bytes (std140 / scalar compatible).
const (
	GlobalUBOSize          = 128
	SceneUBOSize           = 48
	PushConstantRasterSize = 64
	PushConstantRaySize    = 16
	ObjectDescriptionSize  = 32
	MaterialSize           = 80
)

// GlobalUBO matches `layout(binding = 0) uniform GlobalUBO { mat4 projection; mat4 view; }`.
type GlobalUBO struct {
	Projection math.Mat4
	View       math.Mat4
}

func (u GlobalUBO) Bytes() []byte {
	b := make([]byte, 0, GlobalUBOSize)
	b = appendMat4(b, u.Projection)
	b = appendMat4(b, u.View)
	return b
}

// SceneUBO matches `uniform SceneUBO { vec4 light_dir; vec4 view_dir; vec4 cam_pos; }`.
type SceneUBO struct {
	LightDir math.Vec4
	ViewDir  math.Vec4
	CamPos   math.Vec4
}

func (u SceneUBO) Bytes() []byte {
	b := make([]byte, 0, SceneUBOSize)
	b = appendVec4(b, u.LightDir)
	b = appendVec4(b, u.ViewDir)
	b = appendVec4(b, u.CamPos)
	return b
}

// PushConstantRaster is pushed once per drawn instance on the raster path.
type PushConstantRaster struct {
	Model math.Mat4
}

func (p PushConstantRaster) Bytes() []byte {
	return appendMat4(make([]byte, 0, PushConstantRasterSize), p.Model)
}

// PushConstantRay is pushed once per frame on the ray-tracing path.
type PushConstantRay struct {
	ClearColor math.Vec4
}

func (p PushConstantRay) Bytes() []byte {
	return appendVec4(make([]byte, 0, PushConstantRaySize), p.ClearColor)
}

// ObjectDescription is one entry of the storage buffer the hit shader indexes with
// gl_InstanceCustomIndexEXT.
type ObjectDescription struct {
	VertexAddress        uint64
	IndexAddress         uint64
	MaterialIndexAddress uint64
	MaterialAddress      uint64
}

// EncodeObjectDescriptions packs the table in order. Entry i lands at byte i*ObjectDescriptionSize.
func EncodeObjectDescriptions(descs []ObjectDescription) []byte {
	b := make([]byte, 0, len(descs)*ObjectDescriptionSize)
	for _, d := range descs {
		b = binary.LittleEndian.AppendUint64(b, d.VertexAddress)
		b = binary.LittleEndian.AppendUint64(b, d.IndexAddress)
		b = binary.LittleEndian.AppendUint64(b, d.MaterialIndexAddress)
		b = binary.LittleEndian.AppendUint64(b, d.MaterialAddress)
	}
	return b
}

// DecodeObjectDescription reads entry index from an encoded table, the way a shader would.
func DecodeObjectDescription(table []byte, index uint32) (ObjectDescription, bool) {
	off := int(index) * ObjectDescriptionSize
	if off+ObjectDescriptionSize > len(table) {
		return ObjectDescription{}, false
	}
	e := table[off : off+ObjectDescriptionSize]
	return ObjectDescription{
		VertexAddress:        binary.LittleEndian.Uint64(e[0:]),
		IndexAddress:         binary.LittleEndian.Uint64(e[8:]),
		MaterialIndexAddress: binary.LittleEndian.Uint64(e[16:]),
		MaterialAddress:      binary.LittleEndian.Uint64(e[24:]),
	}, true
}

// Material is one entry of a mesh's material buffer, indexed per triangle through the material
// index buffer. Each vec3 shares its 16 bytes with one scalar.
type Material struct {
	Ambient       math.Vec3
	Diffuse       math.Vec3
	Specular      math.Vec3
	Transmittance math.Vec3
	Emission      math.Vec3
	Shininess     float32
	IOR           float32
	// Dissolve is 1 for opaque surfaces.
	Dissolve  float32
	Illum     int32
	TextureID int32
}

// DefaultMaterial is a grey diffuse surface without a texture.
func DefaultMaterial() Material {
	return Material{
		Ambient:   math.NewVec3(0.1, 0.1, 0.1),
		Diffuse:   math.NewVec3(0.7, 0.7, 0.7),
		Specular:  math.NewVec3(1, 1, 1),
		Emission:  math.NewVec3(0, 0, 0.1),
		IOR:       1,
		Dissolve:  1,
		TextureID: -1,
	}
}

// EncodeMaterials packs materials in order, MaterialSize bytes each.
func EncodeMaterials(materials []Material) []byte {
	b := make([]byte, 0, len(materials)*MaterialSize)
	for _, mat := range materials {
		b = appendVec3(b, mat.Ambient)
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(mat.Shininess))
		b = appendVec3(b, mat.Diffuse)
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(mat.IOR))
		b = appendVec3(b, mat.Specular)
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(mat.Dissolve))
		b = appendVec3(b, mat.Transmittance)
		b = binary.LittleEndian.AppendUint32(b, uint32(mat.Illum))
		b = appendVec3(b, mat.Emission)
		b = binary.LittleEndian.AppendUint32(b, uint32(mat.TextureID))
	}
	return b
}

func appendVec3(b []byte, v math.Vec3) []byte {
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.X))
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.Y))
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.Z))
	return b
}

func appendMat4(b []byte, mt math.Mat4) []byte {
	for _, f := range mt.Data {
		b = binary.LittleEndian.AppendUint32(b, m.Float32bits(f))
	}
	return b
}

func appendVec4(b []byte, v math.Vec4) []byte {
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.X))
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.Y))
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.Z))
	b = binary.LittleEndian.AppendUint32(b, m.Float32bits(v.W))
	return b
}
