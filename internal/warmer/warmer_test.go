package warmer

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"taskdealer/internal/endpoint"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/ollama"
	"taskdealer/internal/roster"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memCache struct {
	mu      sync.Mutex
	entries map[guidecache.Key]string
}

func newMemCache() *memCache {
	return &memCache{entries: map[guidecache.Key]string{}}
}

func (c *memCache) Lookup(_ context.Context, key guidecache.Key) (guidecache.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.entries[key]
	return guidecache.Entry{Key: key, GuideContent: content}, ok, nil
}

func (c *memCache) Save(_ context.Context, key guidecache.Key, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = content
	return nil
}

func (c *memCache) Delete(_ context.Context, key guidecache.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	fail    map[string]bool
}

func (g *scriptedGenerator) Generate(_ context.Context, req ollama.GenerateRequest, _ string) (io.ReadCloser, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()
	for name := range g.fail {
		if strings.Contains(req.Prompt, name) {
			return nil, errors.New("backend down")
		}
	}
	body := "{\"response\":\"<think>hmm</think>## Guide\",\"done\":false}\n{\"response\":\"\",\"done\":true}\n"
	return io.NopCloser(strings.NewReader(body)), nil
}

type fixedEndpoint struct{}

func (fixedEndpoint) Current() endpoint.Endpoint {
	return endpoint.Endpoint{URL: "http://localhost:8001", Model: "qwen3:8b"}
}

func sampleTasks() []roster.Task {
	return []roster.Task{
		{Name: "ls", Description: "list files", Category: "LINUX"},
		{Name: "grep", Description: "search text", Category: "LINUX"},
		{Name: "chmod", Description: "change modes", Category: "LINUX"},
	}
}

func TestRunSkipsCachedAndGeneratesRest(t *testing.T) {
	cache := newMemCache()
	cache.entries[guidecache.Key{TaskName: "grep", TaskDescription: "search text", ModelName: "qwen3:8b"}] = "cached"
	gen := &scriptedGenerator{}

	var results []Result
	report, err := Run(context.Background(), sampleTasks(), Options{
		Cache:     cache,
		Generator: gen,
		Endpoints: fixedEndpoint{},
		Delay:     -1,
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Progress:  func(r Result) { results = append(results, r) },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Generated)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Len(t, gen.prompts, 2)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Seq)
	}

	assert.Equal(t, "## Guide", cache.entries[guidecache.Key{TaskName: "ls", TaskDescription: "list files", ModelName: "qwen3:8b"}])
	assert.Contains(t, report.Summary(), "Generated: 2 new guides")
}

func TestRunAdvancedAndProjectKeys(t *testing.T) {
	cache := newMemCache()
	_, err := Run(context.Background(), sampleTasks()[:1], Options{
		Cache: cache, Generator: &scriptedGenerator{}, Endpoints: fixedEndpoint{},
		Advanced: true, Delay: -1,
	})
	require.NoError(t, err)
	_, ok := cache.entries[guidecache.Key{TaskName: "ls", TaskDescription: "list files", IsAdvanced: true, ModelName: "qwen3:8b"}]
	assert.True(t, ok)

	gen := &scriptedGenerator{}
	_, err = Run(context.Background(), []roster.Task{{Name: "Blog", Description: "a static blog"}}, Options{
		Cache: cache, Generator: gen, Endpoints: fixedEndpoint{}, Project: true, Delay: -1,
	})
	require.NoError(t, err)
	_, ok = cache.entries[guidecache.Key{TaskName: "Blog", TaskDescription: "a static blog", ModelName: "qwen3:8b", IsProject: true}]
	assert.True(t, ok)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Blog")
}

func TestRunCountsFailuresAndContinues(t *testing.T) {
	gen := &scriptedGenerator{fail: map[string]bool{"chmod": true}}
	report, err := Run(context.Background(), sampleTasks(), Options{
		Cache: newMemCache(), Generator: gen, Endpoints: fixedEndpoint{}, Delay: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Generated)
	assert.Equal(t, 1, report.Failed)
}

type readOnlyCache struct{ *memCache }

func (readOnlyCache) Save(context.Context, guidecache.Key, string) error {
	return errors.New("attempt to write a readonly database")
}

func TestRunCountsCacheSaveFailures(t *testing.T) {
	var results []Result
	report, err := Run(context.Background(), sampleTasks()[:2], Options{
		Cache:     readOnlyCache{newMemCache()},
		Generator: &scriptedGenerator{},
		Endpoints: fixedEndpoint{},
		Delay:     -1,
		Progress:  func(r Result) { results = append(results, r) },
	})
	require.NoError(t, err)

	assert.Zero(t, report.Generated)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, Failed, r.Outcome)
		require.Error(t, r.Err)
		assert.Contains(t, r.Err.Error(), "readonly database")
	}
}

func TestRunLimit(t *testing.T) {
	gen := &scriptedGenerator{}
	report, err := Run(context.Background(), sampleTasks(), Options{
		Cache: newMemCache(), Generator: gen, Endpoints: fixedEndpoint{}, Delay: -1, Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Len(t, gen.prompts, 1)
}

func TestRunCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	report, err := Run(ctx, sampleTasks(), Options{
		Cache: newMemCache(), Generator: &scriptedGenerator{}, Endpoints: fixedEndpoint{},
		Delay: time.Hour,
		Progress: func(Result) { cancel() },
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Generated)
}

func TestRunNeedsCache(t *testing.T) {
	_, err := Run(context.Background(), sampleTasks(), Options{})
	assert.ErrorIs(t, err, ErrNoCache)
}
