package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"

	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
)

// Compiler turns a shader source file into SPIR-V words.
type Compiler interface {
	Compile(ctx context.Context, path string) ([]uint32, error)
}

// GLSLC compiles GLSL stages (.vert, .frag, .rgen, .rmiss, .rchit, ...) with the external
// glslc tool and reads the module it wrote to OutputDir.
type GLSLC struct {
	Path      string
	OutputDir string
}

func (g *GLSLC) Compile(ctx context.Context, path string) ([]uint32, error) {
	if err := os.MkdirAll(g.OutputDir, 0o755); err != nil {
		return nil, err
	}
	out := filepath.Join(g.OutputDir, filepath.Base(path)+".spv")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.Path, "--target-env=vulkan1.2", "-o", out, path)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", path, core.ErrShaderCompile, strings.TrimSpace(stderr.String()))
	}
	return loaders.LoadSPIRV(out)
}

// Naga compiles WGSL sources in process.
type Naga struct{}

func (Naga) Compile(ctx context.Context, path string) ([]uint32, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	spirv, err := naga.Compile(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, core.ErrShaderCompile, err)
	}
	return loaders.SPIRVFromBytes(spirv)
}

// ByExtension dispatches to a compiler by file extension. WGSL goes to naga, every other
// stage to glslc.
type ByExtension struct {
	GLSL Compiler
	WGSL Compiler
}

func (b *ByExtension) Compile(ctx context.Context, path string) ([]uint32, error) {
	switch filepath.Ext(path) {
	case ".wgsl":
		return b.WGSL.Compile(ctx, path)
	case ".vert", ".frag", ".rgen", ".rmiss", ".rchit", ".rahit", ".comp":
		return b.GLSL.Compile(ctx, path)
	}
	return nil, fmt.Errorf("%s: %w: no compiler for this extension", path, core.ErrShaderCompile)
}

// NewCompiler returns the compiler the renderer uses.
func NewCompiler(glslc, outputDir string) Compiler {
	return &ByExtension{GLSL: &GLSLC{Path: glslc, OutputDir: outputDir}, WGSL: Naga{}}
}
