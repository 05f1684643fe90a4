// Package warmer pre-generates guides into the cache so later deals are
// served from it.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"taskdealer/internal/guide"
	"taskdealer/internal/logging"
	"taskdealer/internal/partition"
	"taskdealer/internal/roster"
)

// DefaultDelay is the pause after each generation attempt.
const DefaultDelay = 2 * time.Second

// ErrNoCache is returned when Run has nothing to warm.
var ErrNoCache = errors.New("cache warming needs a cache")

// Outcome is what happened to one task.
type Outcome int

const (
	Generated Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Generated:
		return "generated"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result reports one task.
type Result struct {
	Seq     int
	Task    roster.Task
	Outcome Outcome
	Bytes   int
	Err     error
}

// Report totals a run.
type Report struct {
	Generated int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Options configure a warming run.
type Options struct {
	Cache     guide.Cache
	Generator guide.Generator
	Endpoints guide.EndpointSource

	Advanced bool
	Project  bool
	// Limit stops the run after this many new guides; zero means no limit.
	Limit int
	// Delay is slept after every generation attempt. Negative disables it.
	Delay time.Duration
	Rand  *rand.Rand
	// Progress, when set, is called after each task.
	Progress func(Result)
}

// Run visits tasks once in random order, skipping those already cached and
// generating the rest. A cancelled ctx ends the run early; the partial
// report is returned alongside ctx.Err().
func Run(ctx context.Context, tasks []roster.Task, opts Options) (Report, error) {
	var report Report
	if opts.Cache == nil {
		return report, ErrNoCache
	}
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	order := make([]roster.Task, len(tasks))
	copy(order, tasks)
	r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	assignments := make([]partition.Assignment, len(order))
	for i, t := range order {
		assignments[i] = guide.ProjectAssignment(i, t.Name, t.Description)
	}
	board := guide.NewBoard()
	board.Reset(assignments)
	coord := guide.NewCoordinator(guide.Options{
		Board:     board,
		Cache:     opts.Cache,
		Generator: opts.Generator,
		Endpoints: opts.Endpoints,
	})

	start := time.Now()
	kind := "normal"
	switch {
	case opts.Project:
		kind = "project"
	case opts.Advanced:
		kind = "advanced"
	}
	logging.Warmer("Warming %d %s guides (limit=%d)", len(order), kind, opts.Limit)

	for i, t := range order {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		if opts.Limit > 0 && report.Generated >= opts.Limit {
			break
		}

		req := guide.TaskRequest(assignments[i], opts.Advanced)
		if opts.Project {
			req = guide.ProjectRequest(i, t.Name, t.Description)
		}
		err := coord.Fetch(ctx, req)
		slot, _ := board.Slot(i)

		res := Result{Seq: i + 1, Task: t, Bytes: len(slot.Markdown)}
		switch {
		case err != nil:
			res.Outcome = Failed
			res.Err = err
			report.Failed++
			logging.WarmerWarn("%s: %v", t.Name, err)
		case slot.SaveErr != nil:
			res.Outcome = Failed
			res.Err = fmt.Errorf("cache save: %w", slot.SaveErr)
			report.Failed++
			logging.WarmerWarn("%s: %v", t.Name, res.Err)
		case slot.Source == guide.SourceCache:
			res.Outcome = Skipped
			report.Skipped++
		default:
			res.Outcome = Generated
			report.Generated++
			logging.Warmer("%s: generated %d bytes", t.Name, res.Bytes)
		}
		if opts.Progress != nil {
			opts.Progress(res)
		}

		if res.Outcome != Skipped && delay > 0 && i < len(order)-1 {
			if err := sleep(ctx, delay); err != nil {
				report.Duration = time.Since(start)
				return report, err
			}
		}
	}

	report.Duration = time.Since(start)
	logging.Warmer("Warm run done: generated=%d skipped=%d failed=%d in %v",
		report.Generated, report.Skipped, report.Failed, report.Duration)
	return report, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Summary formats a report as one line.
func (r Report) Summary() string {
	return fmt.Sprintf("Generated: %d new guides, Skipped: %d already cached, Failed: %d (%s)",
		r.Generated, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}
