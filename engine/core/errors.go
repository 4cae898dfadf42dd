package core

import (
	"errors"
)

var (
	// ErrFatal marks a GPU or initialization failure the renderer cannot recover from.
	ErrFatal = errors.New("fatal renderer error")
	// ErrContractViolation marks a broken invariant between the renderer and its callers
	// (bad model id, instance count mismatch, out of range index).
	ErrContractViolation = errors.New("contract violation")
	// ErrShaderCompile is returned when the external shader compiler rejects a source.
	ErrShaderCompile    = errors.New("shader compilation failed")
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
)
