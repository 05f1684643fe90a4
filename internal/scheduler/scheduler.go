// Package scheduler runs jobs with a fixed ceiling on how many are in flight.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"taskdealer/internal/logging"
)

// DefaultLimit is the in-flight ceiling when none is given.
const DefaultLimit = 2

// Job is one unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// PanicError wraps a panic raised by a job.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// JobError records a failed job.
type JobError struct {
	Index int
	Name  string
	Err   error
}

// Report summarises a Run.
type Report struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int // not started because ctx was done
	Errors    []JobError
	Duration  time.Duration
}

// Run executes jobs with at most limit running at once. Workers pull from a
// shared FIFO queue, so jobs start in slice order; completion order is not
// constrained. A job's error or panic is recorded and never stops the others.
// Once ctx is done, jobs not yet started are skipped. Run returns after every
// worker has exited.
func Run(ctx context.Context, jobs []Job, limit int) Report {
	if limit < 1 {
		limit = DefaultLimit
	}
	start := time.Now()
	report := Report{Total: len(jobs)}
	if len(jobs) == 0 {
		return report
	}

	type item struct {
		index int
		job   Job
	}
	queue := make(chan item, len(jobs))
	for i, j := range jobs {
		queue <- item{index: i, job: j}
	}
	close(queue)

	workers := min(limit, len(jobs))
	logging.Scheduler("Running %d jobs with %d workers", len(jobs), workers)

	var mu sync.Mutex
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for it := range queue {
				if ctx.Err() != nil {
					mu.Lock()
					report.Skipped++
					mu.Unlock()
					continue
				}
				err := runJob(ctx, it.job)
				mu.Lock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, JobError{Index: it.index, Name: it.job.Name, Err: err})
				} else {
					report.Succeeded++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	logging.Scheduler("Jobs finished: %d ok, %d failed, %d skipped in %v",
		report.Succeeded, report.Failed, report.Skipped, report.Duration)
	return report
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logging.SchedulerError("Job %q panicked: %v\n%s", job.Name, r, stack)
			err = &PanicError{Value: r, Stack: stack}
		}
	}()

	logging.SchedulerDebug("Starting job %q", job.Name)
	if err := job.Run(ctx); err != nil {
		logging.SchedulerError("Job %q failed: %v", job.Name, err)
		return err
	}
	return nil
}
