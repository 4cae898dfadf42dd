package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewLabel returns a unique, human readable label for a GPU object or swapchain generation,
// e.g. "blas-3f2a9c1e". Labels show up in logs and validation-layer messages.
func NewLabel(kind string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", kind, id.String()[:8])
}
