//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders, then runs the testbed with validation layers on.
func (Run) Testbed() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", ".", "--validation", "--debug"), withStream()); err != nil {
		return err
	}
	return nil
}

type Test mg.Namespace

// Runs the unit tests. None of them need a GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs("test", "./engine/...", "./testbed/..."), withStream())
	return err
}
