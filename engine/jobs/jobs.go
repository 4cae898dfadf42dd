// Package jobs runs CPU-side preparation work (texture decode, mesh generation) on a fixed set
// of worker goroutines. Nothing submitted here touches the GPU.
package jobs

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
	"go.uber.org/multierr"
)

// Job is one unit of work. OnComplete and OnFailure run on the worker that ran the job.
type Job struct {
	Name       string
	Run        func() error
	OnComplete func()
	OnFailure  func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrClosed = fmt.Errorf("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				if err := job.Run(); err != nil {
					core.LogError("job %s failed: %s", job.Name, err)
					if job.OnFailure != nil {
						job.OnFailure(err)
					}
					continue
				}
				if job.OnComplete != nil {
					job.OnComplete()
				}
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the queue is full.
 * @param job The job to be executed.
 */
func (js *JobSystem) Submit(job Job) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return ErrClosed
	}
	js.jobQueue <- job
	return nil
}

// RunAll submits every job and waits for all of them. The returned error combines the
// failure of each job that failed.
func (js *JobSystem) RunAll(batch []Job) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, job := range batch {
		job := job
		onComplete, onFailure := job.OnComplete, job.OnFailure
		job.OnComplete = func() {
			defer wg.Done()
			if onComplete != nil {
				onComplete()
			}
		}
		job.OnFailure = func(err error) {
			defer wg.Done()
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
			mu.Unlock()
			if onFailure != nil {
				onFailure(err)
			}
		}
		wg.Add(1)
		if err := js.Submit(job); err != nil {
			wg.Done()
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errs
}
