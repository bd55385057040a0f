//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with config.toml.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "config.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the test suite. Nothing in it needs a GPU: the renderer is tested
// against the simulated driver.
func (Run) Tests() error {
	packages := []string{
		"./engine/core/...",
		"./engine/math/...",
		"./engine/config/...",
		"./engine/containers/...",
		"./engine/assets/...",
		"./engine/systems/...",
		"./engine/renderer/...",
		"./engine",
	}
	args := append([]string{"test", "-race", "-count=1"}, packages...)
	_, err := executeCmd("go", withArgs(args...), withStream())
	return err
}
