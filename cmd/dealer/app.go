package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"taskdealer/internal/endpoint"
	"taskdealer/internal/guide"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/ollama"
	"taskdealer/internal/render"
	"taskdealer/internal/roster"
	"taskdealer/internal/store"
)

// app holds the collaborators a client command needs.
type app struct {
	prefs     *store.SQLite
	roster    *roster.Store
	endpoints *endpoint.Registry
	cache     *guidecache.Client
	gen       *ollama.Client
	renderer  render.Renderer
}

// openApp opens local state and wires the remote collaborators. Names from
// the configured names file are merged into the persisted roster.
func openApp(ctx context.Context) (*app, error) {
	prefs, err := store.OpenSQLite(store.DefaultDriver, resolve(cfg.Roster.StateDB))
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}

	rs := roster.NewStore(prefs)
	if err := rs.Load(ctx); err != nil {
		logger.Warn("Failed to load saved names", zap.Error(err))
	}
	if cfg.Roster.NamesFile != "" {
		added, err := rs.MergeNamesFile(ctx, resolve(cfg.Roster.NamesFile))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			logger.Warn("Failed to read names file", zap.String("path", cfg.Roster.NamesFile), zap.Error(err))
		case added > 0:
			logger.Debug("Merged names file", zap.Int("added", added))
		}
	}

	eps := endpoint.Load(ctx, resolve(cfg.Backend.EndpointsFile), endpoint.Options{
		DefaultModel: cfg.Backend.DefaultModel,
		FallbackURL:  cfg.Backend.FallbackURL,
	}, prefs)

	r, err := render.New(render.Format(cfg.Render.Format), cfg.Render.Style, cfg.Render.WordWrap)
	if err != nil {
		prefs.Close()
		return nil, err
	}

	return &app{
		prefs:     prefs,
		roster:    rs,
		endpoints: eps,
		cache:     guidecache.NewClient(cfg.CacheURL(), cfg.GetCacheTimeout(), cfg.Cache.Enabled),
		gen:       ollama.NewClient(cfg.Backend.ProxyURL, cfg.GetRequestTimeout()),
		renderer:  r,
	}, nil
}

func (a *app) Close() {
	if a.prefs != nil {
		a.prefs.Close()
	}
}

// coordinator builds a coordinator writing to board. A disabled cache is
// left out entirely so no lookups are attempted.
func (a *app) coordinator(board *guide.Board) *guide.Coordinator {
	opts := guide.Options{
		Board:     board,
		Generator: a.gen,
		Renderer:  a.renderer,
		Endpoints: a.endpoints,
	}
	if cfg.Cache.Enabled {
		opts.Cache = a.cache
	}
	return guide.NewCoordinator(opts)
}

// loadTasks reads task sources, preferring explicit ones over the config.
func loadTasks(sources []string) ([]roster.Task, error) {
	if len(sources) == 0 {
		sources = cfg.Roster.TaskSources
	}
	return roster.LoadTasks(workspace, sources)
}

// findTask looks a task up by name, case-insensitively.
func findTask(tasks []roster.Task, name string) (roster.Task, bool) {
	for _, t := range tasks {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return roster.Task{}, false
}
