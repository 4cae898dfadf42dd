package metadata

import (
	"encoding/binary"
	m "math"
	"testing"

	"github.com/spaghettifunk/prism/engine/math"
)

func TestABISizes(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"global ubo", len(GlobalUBO{}.Bytes()), GlobalUBOSize},
		{"scene ubo", len(SceneUBO{}.Bytes()), SceneUBOSize},
		{"raster push constant", len(PushConstantRaster{}.Bytes()), PushConstantRasterSize},
		{"ray push constant", len(PushConstantRay{}.Bytes()), PushConstantRaySize},
		{"object description", len(EncodeObjectDescriptions(make([]ObjectDescription, 1))), ObjectDescriptionSize},
		{"material", len(EncodeMaterials(make([]Material, 1))), MaterialSize},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %d bytes, got %d", tt.name, tt.want, tt.got)
		}
	}
}

func TestGlobalUBOFieldOrder(t *testing.T) {
	ubo := GlobalUBO{Projection: math.NewMat4Identity(), View: math.NewMat4Translation(math.NewVec3(1, 2, 3))}
	b := ubo.Bytes()

	// projection[0][0] at offset 0, view translation x at 64 + 12*4.
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[0:])); got != 1 {
		t.Errorf("expected projection[0] = 1, got %f", got)
	}
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[64+48:])); got != 1 {
		t.Errorf("expected view translation x = 1, got %f", got)
	}
}

func TestSceneUBOFieldOrder(t *testing.T) {
	ubo := SceneUBO{
		LightDir: math.NewVec4(1, 0, 0, 0),
		ViewDir:  math.NewVec4(0, 2, 0, 0),
		CamPos:   math.NewVec4(0, 0, 3, 1),
	}
	b := ubo.Bytes()
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[16+4:])); got != 2 {
		t.Errorf("expected view_dir.y at offset 20, got %f", got)
	}
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[32+8:])); got != 3 {
		t.Errorf("expected cam_pos.z at offset 40, got %f", got)
	}
}

func TestObjectDescriptionLookup(t *testing.T) {
	descs := []ObjectDescription{
		{VertexAddress: 0x1000, IndexAddress: 0x2000, MaterialIndexAddress: 0x3000, MaterialAddress: 0x4000},
		{VertexAddress: 0x5000, IndexAddress: 0x6000, MaterialIndexAddress: 0x7000, MaterialAddress: 0x8000},
	}
	table := EncodeObjectDescriptions(descs)

	for i, want := range descs {
		got, ok := DecodeObjectDescription(table, uint32(i))
		if !ok {
			t.Fatalf("entry %d missing", i)
		}
		if got != want {
			t.Errorf("entry %d: expected %+v, got %+v", i, want, got)
		}
	}
	if _, ok := DecodeObjectDescription(table, 2); ok {
		t.Error("expected out of range lookup to fail")
	}
}

func TestRenderMode(t *testing.T) {
	if RenderModeRaster.Toggle() != RenderModeRayTrace || RenderModeRayTrace.Toggle() != RenderModeRaster {
		t.Error("toggle must switch between the two modes")
	}
	if mode, ok := ParseRenderMode("raytrace"); !ok || mode != RenderModeRayTrace {
		t.Errorf("expected raytrace, got %v %v", mode, ok)
	}
	if _, ok := ParseRenderMode("wireframe"); ok {
		t.Error("expected unknown mode to fail")
	}
}

func TestMaterialLayout(t *testing.T) {
	mat := DefaultMaterial()
	mat.TextureID = 3
	b := EncodeMaterials([]Material{DefaultMaterial(), mat})

	second := b[MaterialSize:]
	if got := int32(binary.LittleEndian.Uint32(second[76:])); got != 3 {
		t.Errorf("expected texture id 3 at offset 76, got %d", got)
	}
	if got := int32(binary.LittleEndian.Uint32(b[76:])); got != -1 {
		t.Errorf("expected texture id -1 for the default material, got %d", got)
	}
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[16:])); got != 0.7 {
		t.Errorf("expected diffuse red at offset 16, got %f", got)
	}
	if got := m.Float32frombits(binary.LittleEndian.Uint32(b[44:])); got != 1 {
		t.Errorf("expected dissolve at offset 44, got %f", got)
	}
}
