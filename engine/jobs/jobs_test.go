package jobs

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/prism/engine/core"
	"go.uber.org/multierr"
)

func init() {
	core.LogSetOutput(io.Discard)
}

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("expected ErrNegativeChannelSize, got %v", err)
	}
}

func TestRunAll(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	defer js.Shutdown()

	var ran, completed, failed int32
	boom := errors.New("boom")
	var batch []Job
	for i := 0; i < 10; i++ {
		i := i
		batch = append(batch, Job{
			Name: "job",
			Run: func() error {
				atomic.AddInt32(&ran, 1)
				if i%5 == 0 {
					return boom
				}
				return nil
			},
			OnComplete: func() { atomic.AddInt32(&completed, 1) },
			OnFailure:  func(error) { atomic.AddInt32(&failed, 1) },
		})
	}

	err = js.RunAll(batch)
	if ran != 10 || completed != 8 || failed != 2 {
		t.Errorf("expected 10 runs, 8 completions and 2 failures, got %d %d %d", ran, completed, failed)
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("expected 2 errors, got %d", got)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected the job error to be wrapped, got %v", err)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := js.Submit(Job{Run: func() error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("expected a second shutdown to be a no-op, got %v", err)
	}
}
