//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var glslStages = []string{".vert", ".frag", ".rgen", ".rmiss", ".rchit", ".rahit"}

// Compiles every GLSL stage under assets/shaders into SPIR-V next to it in bin/.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	const src = "assets/shaders"
	out := filepath.Join(src, "bin")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, ext := range glslStages {
		matches, err := filepath.Glob(filepath.Join(src, "*"+ext))
		if err != nil {
			return err
		}
		for _, path := range matches {
			target := filepath.Join(out, filepath.Base(path)+".spv")
			if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", "-o", target, path), withStream()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Testbed() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/prism", "."), withStream())
	return err
}
