package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRun_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak atomic.Int32
	var completed sync.Map

	jobs := make([]Job, 10)
	for i := range jobs {
		i := i
		jobs[i] = Job{
			Name: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				completed.Store(i, true)
				if i == 3 {
					return errors.New("job 3 failed")
				}
				return nil
			},
		}
	}

	report := Run(context.Background(), jobs, 2)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load(), "both workers should overlap")
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 3, report.Errors[0].Index)
	assert.Equal(t, "job-3", report.Errors[0].Name)

	for i := range jobs {
		_, ok := completed.Load(i)
		assert.True(t, ok, "job %d should have run", i)
	}
}

func TestRun_StartOrderIsQueueOrder(t *testing.T) {
	var mu sync.Mutex
	var started []int

	jobs := make([]Job, 6)
	for i := range jobs {
		i := i
		jobs[i] = Job{Run: func(context.Context) error {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return nil
		}}
	}

	Run(context.Background(), jobs, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, started)
}

func TestRun_RecoversPanics(t *testing.T) {
	var ran atomic.Int32
	jobs := []Job{
		{Name: "boom", Run: func(context.Context) error { panic("kaboom") }},
		{Name: "ok", Run: func(context.Context) error { ran.Add(1); return nil }},
	}

	report := Run(context.Background(), jobs, 1)
	assert.Equal(t, int32(1), ran.Load())
	require.Len(t, report.Errors, 1)

	var pe *PanicError
	require.True(t, errors.As(report.Errors[0].Err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestRun_DefaultLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = Job{Run: func(context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			return nil
		}}
	}
	report := Run(context.Background(), jobs, 0)
	assert.Equal(t, 8, report.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultLimit))
}

func TestRun_CancelledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := []Job{
		{Run: func(context.Context) error { cancel(); return nil }},
		{Run: func(context.Context) error { return nil }},
		{Run: func(context.Context) error { return nil }},
	}
	report := Run(ctx, jobs, 1)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Skipped)
}

func TestRun_Empty(t *testing.T) {
	report := Run(context.Background(), nil, 4)
	assert.Equal(t, Report{}, report)
}
