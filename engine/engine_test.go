package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
)

func TestRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dropped frame", errors.New("record skipped"), true},
		{"device lost", fmt.Errorf("present: %w", core.ErrFatal), false},
		{"bad texture index", fmt.Errorf("model 0 uses texture 99 of 1: %w", core.ErrContractViolation), false},
	}
	for _, tt := range tests {
		if got := recoverable(tt.err); got != tt.want {
			t.Errorf("%s: expected %t, got %t", tt.name, tt.want, got)
		}
	}
}
