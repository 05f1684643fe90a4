package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskdealer/internal/events"
	"taskdealer/internal/guidecache"
	"taskdealer/internal/roster"
	"taskdealer/internal/server"
	"taskdealer/internal/store"
	"taskdealer/internal/warmer"
)

var (
	serveAddr    string
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation proxy, guide cache API and live reload events",
	Long: `Serves:
  POST /api/generate        proxied to server.upstream_url or <X-Ollama-Target>/api/generate
  POST /api/cache/get|save|delete, GET /api/cache/stats
  GET  /events (SSE), GET /ws (websocket), POST /notify

Edits to files matching server.watch_globs broadcast "reload".`,
	RunE: runServe,
}

var (
	warmLimit    int
	warmAdvanced bool
	warmProject  bool
	warmDelay    time.Duration
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Pre-generate guides for every task into the cache",
	Long: `Visits every task (or project with --project) in random order, skips the
ones already cached and generates the rest. Ctrl+C stops and prints totals.`,
	RunE: runWarm,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch files for changes")

	warmCmd.Flags().IntVarP(&warmLimit, "limit", "n", 0, "Stop after this many new guides (0: no limit)")
	warmCmd.Flags().BoolVar(&warmAdvanced, "advanced", false, "Warm advanced guides")
	warmCmd.Flags().BoolVar(&warmProject, "project", false, "Warm project guides from roster.projects_file")
	warmCmd.Flags().DurationVar(&warmDelay, "delay", warmer.DefaultDelay, "Pause after each generation")
	warmCmd.Flags().StringSliceVar(&dealTasks, "tasks", nil, "Task files or globs (default: roster.task_sources)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(false)
	defer cancel()

	scfg := cfg.Server
	if serveAddr != "" {
		scfg.Addr = serveAddr
	}
	if scfg.Store.Backend == "" || scfg.Store.Backend == "sqlite" {
		scfg.Store.Path = resolve(scfg.Store.Path)
	}
	scfg.StaticDir = resolve(scfg.StaticDir)

	guides, err := store.Open(scfg.Store)
	if err != nil {
		return fmt.Errorf("open guide store: %w", err)
	}
	defer guides.Close()

	bus, err := events.NewBus(cfg.Events)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer bus.Close()

	hub := events.NewHub(bus, events.HubOptions{ReloadOnConnect: cfg.Events.ReloadOnConnect})
	srv := server.New(scfg, guides, hub)
	if !serveNoWatch {
		if err := srv.Watch(workspace); err != nil {
			logger.Warn("File watching disabled", zap.Error(err))
		}
	}

	logger.Info("Serving",
		zap.String("addr", scfg.Addr),
		zap.String("upstream", scfg.UpstreamURL),
		zap.String("store", scfg.Store.Backend),
		zap.String("bus", cfg.Events.Bus))
	fmt.Fprintf(cmd.OutOrStdout(), "taskdealer server listening on %s\n", scfg.Addr)
	return srv.Run(ctx)
}

func runWarm(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(false)
	defer cancel()

	if !cfg.Cache.Enabled {
		return errors.New("cache is disabled in config; nothing to warm")
	}

	var (
		tasks []roster.Task
		err   error
	)
	if warmProject {
		tasks, err = roster.LoadTaskFile(resolve(cfg.Roster.ProjectsFile))
	} else {
		tasks, err = loadTasks(dealTasks)
	}
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errors.New("no tasks loaded")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	mode := "NORMAL"
	switch {
	case warmProject:
		mode = "PROJECT"
	case warmAdvanced:
		mode = "ADVANCED"
	}
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Task Cache Populator - %s MODE\n", mode)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Endpoint: %s\nCache: %s\nTasks: %d\n", a.endpoints.Current(), cfg.CacheURL(), len(tasks))
	printCacheStats(ctx, out, a.cache, "Current cache")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	delay := warmDelay
	if delay == 0 {
		delay = -1
	}
	report, err := warmer.Run(ctx, tasks, warmer.Options{
		Cache:     a.cache,
		Generator: a.gen,
		Endpoints: a.endpoints,
		Advanced:  warmAdvanced,
		Project:   warmProject,
		Limit:     warmLimit,
		Delay:     delay,
		Progress: func(r warmer.Result) {
			label := r.Task.Name
			if r.Task.Category != "" {
				label = r.Task.Category + " -> " + r.Task.Name
			}
			switch r.Outcome {
			case warmer.Generated:
				fmt.Fprintf(out, "[%d] %s  generated (%d chars)\n", r.Seq, label, r.Bytes)
			case warmer.Skipped:
				fmt.Fprintf(out, "[%d] %s  already cached, skipping\n", r.Seq, label)
			default:
				fmt.Fprintf(out, "[%d] %s  FAILED: %v\n", r.Seq, label, r.Err)
			}
		},
	})

	fmt.Fprintln(out, rule)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "Stopped by user")
		err = nil
	}
	fmt.Fprintln(out, report.Summary())
	statsCtx, statsCancel := context.WithTimeout(context.Background(), cfg.GetCacheTimeout())
	defer statsCancel()
	printCacheStats(statsCtx, out, a.cache, "Final cache")
	fmt.Fprintln(out, rule)
	return err
}

func printCacheStats(ctx context.Context, out io.Writer, cache *guidecache.Client, label string) {
	stats, err := cache.Stats(ctx)
	if err != nil {
		logger.Debug("Cache stats unavailable", zap.Error(err))
		return
	}
	fmt.Fprintf(out, "%s: %d guides (%d normal, %d advanced, %d project)\n",
		label, stats.TotalGuides, stats.NormalGuides, stats.AdvancedGuides, stats.ProjectGuides)
}
