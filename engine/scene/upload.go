package scene

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const geometryUsage = gpu.BufferUsageTransferDst | gpu.BufferUsageStorage | gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelBuildInput

// MeshBuffers are the device-local buffers of one model. They are immutable after upload.
type MeshBuffers struct {
	Vertex        gpu.Buffer
	Index         gpu.Buffer
	MaterialIndex gpu.Buffer
	Material      gpu.Buffer
	VertexCount   uint32
	IndexCount    uint32
}

func (m *MeshBuffers) Description() metadata.ObjectDescription {
	return metadata.ObjectDescription{
		VertexAddress:        m.Vertex.DeviceAddress(),
		IndexAddress:         m.Index.DeviceAddress(),
		MaterialIndexAddress: m.MaterialIndex.DeviceAddress(),
		MaterialAddress:      m.Material.DeviceAddress(),
	}
}

func (m *MeshBuffers) destroy() {
	for _, b := range []gpu.Buffer{m.Material, m.MaterialIndex, m.Index, m.Vertex} {
		if b != nil {
			b.Destroy()
		}
	}
}

// GPUScene is the device side of a Scene: per-model buffers in model order, the
// ObjectDescription table and the sampled textures.
type GPUScene struct {
	Meshes             []*MeshBuffers
	Descriptions       []metadata.ObjectDescription
	ObjectDescriptions gpu.Buffer
	Textures           []gpu.Image
}

type uploader struct {
	dev     gpu.ResourceDevice
	staging []gpu.Buffer
}

// Upload copies every model and texture to device-local memory in one synchronous submission.
func Upload(dev gpu.ResourceDevice, s *Scene) (out *GPUScene, err error) {
	if len(s.Models) == 0 {
		return nil, fmt.Errorf("scene has no models: %w", core.ErrContractViolation)
	}
	u := &uploader{dev: dev}
	out = &GPUScene{}
	defer func() {
		for _, b := range u.staging {
			b.Destroy()
		}
		if err != nil {
			out.Destroy()
			out = nil
		}
	}()

	var copies []func(cmd gpu.CommandBuffer)
	for _, m := range s.Models {
		mb := &MeshBuffers{VertexCount: uint32(len(m.Mesh.Vertices)), IndexCount: uint32(len(m.Mesh.Indices))}
		out.Meshes = append(out.Meshes, mb)

		var c func(gpu.CommandBuffer)
		if mb.Vertex, c, err = u.buffer(m.Name+"-vertices", encodeVertices(m.Mesh), geometryUsage|gpu.BufferUsageVertex); err != nil {
			return out, err
		}
		copies = append(copies, c)
		if mb.Index, c, err = u.buffer(m.Name+"-indices", encodeUint32s(m.Mesh.Indices), geometryUsage|gpu.BufferUsageIndex); err != nil {
			return out, err
		}
		copies = append(copies, c)
		if mb.MaterialIndex, c, err = u.buffer(m.Name+"-material-indices", encodeUint32s(m.Mesh.MaterialIndices), geometryUsage); err != nil {
			return out, err
		}
		copies = append(copies, c)
		if mb.Material, c, err = u.buffer(m.Name+"-materials", metadata.EncodeMaterials(m.Mesh.Materials), geometryUsage); err != nil {
			return out, err
		}
		copies = append(copies, c)
		out.Descriptions = append(out.Descriptions, mb.Description())
	}

	var c func(gpu.CommandBuffer)
	table := metadata.EncodeObjectDescriptions(out.Descriptions)
	if out.ObjectDescriptions, c, err = u.buffer("object-descriptions", table, gpu.BufferUsageTransferDst|gpu.BufferUsageStorage); err != nil {
		return out, err
	}
	copies = append(copies, c)

	for _, t := range s.Textures {
		img, c, err := u.texture(t.Name, t.Width, t.Height, t.Pixels)
		if err != nil {
			return out, err
		}
		out.Textures = append(out.Textures, img)
		copies = append(copies, c)
	}

	err = dev.SubmitAndWait(func(cmd gpu.CommandBuffer) error {
		for _, c := range copies {
			c(cmd)
		}
		return nil
	})
	if err != nil {
		return out, gpu.Fatal("scene upload", err)
	}
	core.LogDebug("uploaded %d models and %d textures", len(out.Meshes), len(out.Textures))
	return out, nil
}

func (u *uploader) stage(label string, data []byte) (gpu.Buffer, error) {
	staging, err := u.dev.CreateBuffer(gpu.BufferDesc{
		Label:  label + "-staging",
		Size:   uint64(len(data)),
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisible,
	})
	if err != nil {
		return nil, gpu.Fatal("create staging buffer", err)
	}
	u.staging = append(u.staging, staging)
	if err := staging.Write(0, data); err != nil {
		return nil, gpu.Fatal("write staging buffer", err)
	}
	return staging, nil
}

func (u *uploader) buffer(label string, data []byte, usage gpu.BufferUsage) (gpu.Buffer, func(gpu.CommandBuffer), error) {
	staging, err := u.stage(label, data)
	if err != nil {
		return nil, nil, err
	}
	dst, err := u.dev.CreateBuffer(gpu.BufferDesc{Label: label, Size: uint64(len(data)), Usage: usage})
	if err != nil {
		return nil, nil, gpu.Fatal("create buffer "+label, err)
	}
	return dst, func(cmd gpu.CommandBuffer) {
		cmd.CopyBuffer(staging, dst, uint64(len(data)))
	}, nil
}

func (u *uploader) texture(label string, width, height uint32, pixels []uint8) (gpu.Image, func(gpu.CommandBuffer), error) {
	if uint64(len(pixels)) != uint64(width)*uint64(height)*4 {
		return nil, nil, fmt.Errorf("texture %s has %d bytes for %dx%d: %w", label, len(pixels), width, height, core.ErrContractViolation)
	}
	staging, err := u.stage(label, pixels)
	if err != nil {
		return nil, nil, err
	}
	img, err := u.dev.CreateImage(gpu.ImageDesc{
		Label:  label,
		Extent: gpu.Extent2D{Width: width, Height: height},
		Format: gpu.FormatRGBA8Unorm,
		Usage:  gpu.ImageUsageTransferDst | gpu.ImageUsageSampled,
	})
	if err != nil {
		return nil, nil, gpu.Fatal("create texture "+label, err)
	}
	return img, func(cmd gpu.CommandBuffer) {
		cmd.ImageBarrier(img, gpu.LayoutUndefined, gpu.LayoutTransferDst)
		cmd.CopyBufferToImage(staging, img)
		cmd.ImageBarrier(img, gpu.LayoutTransferDst, gpu.LayoutShaderReadOnly)
	}, nil
}

// Destroy releases every buffer and image. Safe on a partially uploaded scene.
func (g *GPUScene) Destroy() {
	if g == nil {
		return
	}
	for i := len(g.Textures) - 1; i >= 0; i-- {
		g.Textures[i].Destroy()
	}
	if g.ObjectDescriptions != nil {
		g.ObjectDescriptions.Destroy()
	}
	for i := len(g.Meshes) - 1; i >= 0; i-- {
		g.Meshes[i].destroy()
	}
	*g = GPUScene{}
}

func encodeVertices(m *MeshData) []byte {
	b := make([]byte, 0, len(m.Vertices)*math.Vertex3DSize)
	for _, v := range m.Vertices {
		for _, f := range [8]float32{v.Position.X, v.Position.Y, v.Position.Z, v.Normal.X, v.Normal.Y, v.Normal.Z, v.Texcoord.X, v.Texcoord.Y} {
			b = binary.LittleEndian.AppendUint32(b, stdmath.Float32bits(f))
		}
	}
	return b
}

func encodeUint32s(v []uint32) []byte {
	b := make([]byte, 0, len(v)*4)
	for _, x := range v {
		b = binary.LittleEndian.AppendUint32(b, x)
	}
	return b
}
