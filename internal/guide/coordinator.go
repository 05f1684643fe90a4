package guide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"taskdealer/internal/endpoint"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/logging"
	"taskdealer/internal/ollama"
	"taskdealer/internal/prompt"
	"taskdealer/internal/scheduler"
	"taskdealer/internal/stream"
)

var (
	// ErrEmptyGuide is returned when generation produced no text.
	ErrEmptyGuide = errors.New("generation returned no text")
	// ErrSuperseded is returned by a run that a newer run for the same
	// assignment replaced.
	ErrSuperseded = errors.New("replaced by a newer run")

	errClaimed = errors.New("slot already claimed")
)

// Cache is the guide cache collaborator.
type Cache interface {
	Lookup(ctx context.Context, key guidecache.Key) (guidecache.Entry, bool, error)
	Save(ctx context.Context, key guidecache.Key, content string) error
	Delete(ctx context.Context, key guidecache.Key) error
}

// Generator starts a streaming generation.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest, target string) (io.ReadCloser, error)
}

// Renderer turns markdown into display markup.
type Renderer interface {
	Render(markdown string) (string, error)
}

// EndpointSource supplies the currently selected endpoint.
type EndpointSource interface {
	Current() endpoint.Endpoint
}

// Options wires a Coordinator.
type Options struct {
	Board     *Board
	Cache     Cache // nil disables caching
	Generator Generator
	Renderer  Renderer // nil keeps markup equal to markdown
	Endpoints EndpointSource
}

type run struct {
	cancel     context.CancelFunc
	token      uint64
	superseded bool // guarded by Coordinator.mu
}

// Coordinator runs guide requests against the board. At most one run per
// assignment ID is live; starting another cancels the first.
type Coordinator struct {
	board     *Board
	cache     Cache
	gen       Generator
	renderer  Renderer
	endpoints EndpointSource

	mu   sync.Mutex
	runs map[int]*run
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	board := opts.Board
	if board == nil {
		board = NewBoard()
	}
	return &Coordinator{
		board:     board,
		cache:     opts.Cache,
		gen:       opts.Generator,
		renderer:  opts.Renderer,
		endpoints: opts.Endpoints,
		runs:      make(map[int]*run),
	}
}

// Board returns the board the coordinator writes to.
func (c *Coordinator) Board() *Board {
	return c.board
}

// begin claims slot req.ID for a new run. With queued set, a slot that has a
// live run or already reached a terminal state is left alone and errClaimed
// is returned; otherwise any live run is superseded.
func (c *Coordinator) begin(ctx context.Context, req Request, queued bool) (context.Context, *run, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if queued {
		_, live := c.runs[req.ID]
		slot, ok := c.board.Slot(req.ID)
		if live || (ok && slot.State.Terminal()) {
			return nil, nil, nil, errClaimed
		}
	}
	c.supersedeLocked(req.ID)
	token, ok := c.board.begin(req.ID, req.Kind)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w %d", ErrUnknownSlot, req.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, token: token}
	c.runs[req.ID] = r

	release := func() {
		c.mu.Lock()
		if c.runs[req.ID] == r {
			delete(c.runs, req.ID)
		}
		c.mu.Unlock()
		cancel()
	}
	return runCtx, r, release, nil
}

func (c *Coordinator) supersedeLocked(id int) {
	if prev, ok := c.runs[id]; ok {
		logging.GuideDebug("Superseding in-flight run for assignment %d", id)
		prev.superseded = true
		prev.cancel()
	}
}

func (c *Coordinator) isSuperseded(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.superseded
}

// Cancel stops the in-flight run for id, if any.
func (c *Coordinator) Cancel(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	if ok {
		r.cancel()
	}
	return ok
}

// CancelAll stops every in-flight run.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.runs {
		r.cancel()
	}
}

// InFlight returns the number of live runs.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// Fetch takes one slot through the lifecycle and returns once it is
// Rendered or Failed. The returned error is the failure cause, or
// ErrSuperseded when a newer run for the slot took over.
func (c *Coordinator) Fetch(ctx context.Context, req Request) error {
	return c.fetch(ctx, req, false)
}

func (c *Coordinator) fetch(ctx context.Context, req Request, queued bool) error {
	ep := c.currentEndpoint()
	key := req.CacheKey(ep.Model)

	runCtx, r, release, err := c.begin(ctx, req, queued)
	if err != nil {
		return err
	}
	defer release()
	token := r.token

	reqLog := logging.WithRequestID(logging.CategoryGuide, fmt.Sprintf("a%d-t%d", req.ID, token)).
		WithField("model", ep.Model)
	start := time.Now()
	reqLog.Info("Fetching guide for %s (force=%v)", req.label(), req.Force)

	if !req.Force && c.cache != nil {
		c.board.setState(req.ID, token, StateCacheChecking)
		entry, found, err := c.cache.Lookup(runCtx, key)
		switch {
		case err != nil:
			reqLog.Warn("Cache lookup failed, treating as miss: %v", err)
		case found:
			c.board.setState(req.ID, token, StateCacheHit)
			logging.Audit(logging.AuditEvent{
				EventType: logging.AuditCacheHit, RequestID: reqLog.RequestID(),
				AssignmentID: req.ID, Model: ep.Model, Success: true,
			})
			c.finish(req.ID, token, entry.GuideContent, SourceCache, entry.CreatedAt)
			reqLog.Info("Rendered cached guide")
			return nil
		}
		c.board.setState(req.ID, token, StateCacheMiss)
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditCacheMiss, RequestID: reqLog.RequestID(),
			AssignmentID: req.ID, Model: ep.Model,
		})
	}

	text, err := c.generate(runCtx, req, ep, token)
	if err != nil {
		if c.isSuperseded(r) {
			reqLog.Debug("Run superseded: %v", err)
			return ErrSuperseded
		}
		return c.fail(req, ep, token, reqLog, start, err)
	}

	if c.cache != nil {
		c.board.setState(req.ID, token, StateCacheWriting)
		if err := c.cache.Save(runCtx, key, text); err != nil {
			reqLog.Warn("Cache save failed: %v", err)
			c.board.update(req.ID, token, func(s *Slot) { s.SaveErr = err })
			logging.Audit(logging.AuditEvent{
				EventType: logging.AuditCacheSaveFailed, RequestID: reqLog.RequestID(),
				AssignmentID: req.ID, Model: ep.Model, Error: err.Error(),
			})
		}
	}

	c.finish(req.ID, token, text, SourceGenerated, time.Time{})
	elapsed := time.Since(start)
	reqLog.Info("Generated guide (%d bytes) in %v", len(text), elapsed)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditGuideGenerated, RequestID: reqLog.RequestID(),
		AssignmentID: req.ID, Target: ep.Target(), Model: ep.Model,
		Success: true, DurationMs: elapsed.Milliseconds(),
	})
	return nil
}

func (c *Coordinator) generate(ctx context.Context, req Request, ep endpoint.Endpoint, token uint64) (string, error) {
	if c.gen == nil {
		return "", errors.New("no generator configured")
	}
	c.board.setState(req.ID, token, StateStreaming)

	text, err := prompt.Build(req.prompt())
	if err != nil {
		return "", err
	}
	body, err := c.gen.Generate(ctx, ollama.GenerateRequest{Model: ep.Model, Prompt: text, Stream: true}, ep.Target())
	if err != nil {
		return "", err
	}
	defer body.Close()

	dec := stream.NewDecoder(func(visible string) {
		c.board.update(req.ID, token, func(s *Slot) { s.Partial = visible })
	})
	if _, err := io.Copy(dec, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("stream aborted: %w", err)
	}
	_ = dec.Close()

	c.board.setState(req.ID, token, StateDecoding)
	if err := dec.Err(); err != nil {
		return "", err
	}
	out := dec.Text()
	if out == "" {
		return "", ErrEmptyGuide
	}
	return out, nil
}

func (c *Coordinator) fail(req Request, ep endpoint.Endpoint, token uint64, reqLog *logging.RequestLogger, start time.Time, err error) error {
	event := logging.AuditGuideFailed
	if errors.Is(err, context.Canceled) {
		event = logging.AuditGuideCancelled
		reqLog.Info("Run cancelled")
	} else {
		reqLog.Error("Guide generation failed: %v", err)
	}
	c.board.update(req.ID, token, func(s *Slot) {
		s.State = StateFailed
		s.Err = err
	})
	logging.Audit(logging.AuditEvent{
		EventType: event, RequestID: reqLog.RequestID(), AssignmentID: req.ID,
		Target: ep.Target(), Model: ep.Model, DurationMs: time.Since(start).Milliseconds(),
		Error: err.Error(),
	})
	return err
}

func (c *Coordinator) finish(id int, token uint64, markdown string, source Source, cachedAt time.Time) {
	markup := markdown
	if c.renderer != nil {
		rendered, err := c.renderer.Render(markdown)
		if err != nil {
			logging.GuideWarn("Render failed for assignment %d, showing raw markdown: %v", id, err)
		} else {
			markup = rendered
		}
	}
	c.board.update(id, token, func(s *Slot) {
		s.State = StateRendered
		s.Partial = ""
		s.Markdown = markdown
		s.Markup = markup
		s.Source = source
		s.CachedAt = cachedAt
	})
}

// Regenerate supersedes any run for req.ID, evicts the cached guide and
// generates afresh. Eviction failures are logged only.
func (c *Coordinator) Regenerate(ctx context.Context, req Request) error {
	c.mu.Lock()
	c.supersedeLocked(req.ID)
	c.mu.Unlock()
	ep := c.currentEndpoint()
	if c.cache != nil {
		if err := c.cache.Delete(ctx, req.CacheKey(ep.Model)); err != nil {
			logging.GuideWarn("Cache eviction for assignment %d failed: %v", req.ID, err)
		}
	}
	logging.Audit(logging.AuditEvent{EventType: logging.AuditRegenerate, AssignmentID: req.ID, Model: ep.Model, Success: true})
	req.Force = true
	return c.Fetch(ctx, req)
}

// Jobs wraps requests as scheduler jobs. A job whose slot was already taken
// over (for example regenerated while the job sat in the queue) does nothing,
// and a job superseded mid-run is not a failure.
func (c *Coordinator) Jobs(reqs []Request) []scheduler.Job {
	jobs := make([]scheduler.Job, len(reqs))
	for i, req := range reqs {
		req := req
		jobs[i] = scheduler.Job{
			Name: fmt.Sprintf("guide-%d", req.ID),
			Run: func(ctx context.Context) error {
				err := c.fetch(ctx, req, true)
				switch {
				case errors.Is(err, errClaimed):
					logging.GuideDebug("Assignment %d already claimed, skipping queued fetch", req.ID)
					return nil
				case errors.Is(err, ErrSuperseded):
					return nil
				}
				return err
			},
		}
	}
	return jobs
}

// FetchAll runs every request through the scheduler with the given limit.
func (c *Coordinator) FetchAll(ctx context.Context, reqs []Request, limit int) scheduler.Report {
	return scheduler.Run(ctx, c.Jobs(reqs), limit)
}

// Ask sends a free-form question through the same streaming path without
// touching the cache or the board. onUpdate receives the think-suppressed
// text as it grows.
func (c *Coordinator) Ask(ctx context.Context, question string, onUpdate func(visible string)) (string, error) {
	if c.gen == nil {
		return "", errors.New("no generator configured")
	}
	text, err := prompt.Build(prompt.Request{Kind: prompt.KindAsk, Question: question})
	if err != nil {
		return "", err
	}
	ep := c.currentEndpoint()
	body, err := c.gen.Generate(ctx, ollama.GenerateRequest{Model: ep.Model, Prompt: text, Stream: true}, ep.Target())
	if err != nil {
		return "", err
	}
	defer body.Close()
	return stream.Decode(body, onUpdate)
}

func (c *Coordinator) currentEndpoint() endpoint.Endpoint {
	if c.endpoints == nil {
		return endpoint.Endpoint{Model: endpoint.DefaultModel}
	}
	return c.endpoints.Current()
}
