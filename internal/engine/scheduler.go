package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"imageutils/internal/lifecycle"
	"imageutils/internal/loader"

	"golang.org/x/sync/semaphore"
)

// Job is one locator of a run together with how to load it.
type Job struct {
	Index   int
	Request loader.Request
}

// Completion is the terminal state of one Job.
type Completion struct {
	Job     Job
	Outcome loader.Outcome

	// Image is set for successful loads when files are not saved.
	Image image.Image
	// Path is set for successful loads when files are saved.
	Path string

	Err      error
	Duration time.Duration
}

type Scheduler struct {
	loader      *loader.Loader
	concurrency int
	save        bool
}

func NewScheduler(l *loader.Loader, concurrency int, save bool) (*Scheduler, error) {
	if l == nil {
		return nil, errors.New("loader is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Scheduler{loader: l, concurrency: concurrency, save: save}, nil
}

// Execute streams one Completion per job, in completion order.
//
// Channel semantics:
//   - Exactly one Completion is sent per job and the channel is then closed.
//   - At most concurrency loads are in flight at once.
//   - Once ctx ends, jobs not yet submitted complete as OutcomeDropped without
//     being started. In-flight jobs finish according to scope.
func (s *Scheduler) Execute(ctx context.Context, jobs []Job, scope lifecycle.Scope) <-chan Completion {
	out := make(chan Completion, len(jobs))

	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(s.concurrency))
		var wg sync.WaitGroup

		for i, job := range jobs {
			if err := sem.Acquire(ctx, 1); err != nil {
				for _, rest := range jobs[i:] {
					out <- Completion{Job: rest, Outcome: loader.OutcomeDropped}
				}
				break
			}

			wg.Add(1)
			go func(job Job) {
				defer wg.Done()
				defer sem.Release(1)
				out <- s.run(job, scope)
			}(job)
		}

		wg.Wait()
	}()

	return out
}

// run submits job and blocks until its handle finishes. The callbacks run on
// the dispatch loop; their writes are visible here once Done is closed.
func (s *Scheduler) run(job Job, scope lifecycle.Scope) Completion {
	c := Completion{Job: job}
	start := time.Now()

	onFailure := func(err error) { c.Err = err }

	var (
		h   *loader.Handle
		err error
	)
	if s.save {
		h, err = s.loader.FetchFile(job.Request, scope, func(path string) { c.Path = path }, onFailure)
	} else {
		h, err = s.loader.Fetch(job.Request, scope, func(img image.Image) { c.Image = img }, onFailure)
	}
	if err != nil {
		c.Outcome = loader.OutcomeDelivered
		c.Err = err
		c.Duration = time.Since(start)
		return c
	}

	<-h.Done()
	c.Outcome = h.Outcome()
	c.Duration = time.Since(start)
	return c
}
