package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
)

type recordingCompiler struct {
	calls []string
}

func (c *recordingCompiler) Compile(ctx context.Context, path string) ([]uint32, error) {
	c.calls = append(c.calls, path)
	return []uint32{0x07230203}, nil
}

func TestByExtensionDispatch(t *testing.T) {
	glsl := &recordingCompiler{}
	wgsl := &recordingCompiler{}
	c := &ByExtension{GLSL: glsl, WGSL: wgsl}

	for _, path := range []string{"raster.vert", "raytrace.rgen", "shadow.rmiss", "raytrace.rchit", "post.wgsl"} {
		if _, err := c.Compile(context.Background(), path); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
	}
	if len(glsl.calls) != 4 {
		t.Errorf("expected 4 glslc compiles, got %d", len(glsl.calls))
	}
	if len(wgsl.calls) != 1 || wgsl.calls[0] != "post.wgsl" {
		t.Errorf("expected post.wgsl on naga, got %v", wgsl.calls)
	}

	if _, err := c.Compile(context.Background(), "common.glsl"); !errors.Is(err, core.ErrShaderCompile) {
		t.Errorf("expected a shader compile error for an include file, got %v", err)
	}
}

func TestGLSLCMissingTool(t *testing.T) {
	c := &GLSLC{Path: "glslc-that-does-not-exist", OutputDir: t.TempDir()}
	_, err := c.Compile(context.Background(), "raster.vert")
	if !errors.Is(err, core.ErrShaderCompile) {
		t.Errorf("expected a shader compile error, got %v", err)
	}
}
