package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskdealer/internal/guidecache"
)

// =============================================================================
// NAMES
// =============================================================================

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Manage the saved roster",
}

var namesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved names",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		names := a.roster.Names()
		for i, n := range names {
			fmt.Fprintf(out, "%3d. %s\n", i+1, n)
		}
		fmt.Fprintf(out, "%d names\n", len(names))
		return nil
	},
}

var namesAddCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Add names to the roster",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := a.roster.AddNames(ctx, args...)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d, roster has %d names\n", added, len(a.roster.Names()))
		return nil
	},
}

var namesRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a name from the roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.roster.RemoveName(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var namesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every saved name",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.roster.ClearNames(ctx)
	},
}

var namesLoadCmd = &cobra.Command{
	Use:   "load [FILE]",
	Short: "Merge a names file into the roster (file order first)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		path := cfg.Roster.NamesFile
		if len(args) == 1 {
			path = args[0]
		}
		added, err := a.roster.MergeNamesFile(ctx, resolve(path))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s: %d new, roster has %d names\n", path, added, len(a.roster.Names()))
		return nil
	},
}

// =============================================================================
// ENDPOINTS
// =============================================================================

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List or select the generation endpoint",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List endpoints from backend.endpoints_file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		current := a.endpoints.Current()
		list := a.endpoints.List()
		if len(list) == 0 {
			fmt.Fprintf(out, "No endpoints file; using fallback %s\n", current)
			return nil
		}
		for i, ep := range list {
			mark := " "
			if ep.Raw == current.Raw {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %d. %s\n", mark, i+1, ep)
		}
		return nil
	},
}

var endpointsSelectCmd = &cobra.Command{
	Use:   "select INDEX|URL",
	Short: "Select and remember an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ep, err := a.endpoints.Select(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", ep)
		return nil
	},
}

// =============================================================================
// CACHE
// =============================================================================

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or evict cached guides",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show guide cache counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()
		client := guidecache.NewClient(cfg.CacheURL(), cfg.GetCacheTimeout(), true)
		stats, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total:    %d\n", stats.TotalGuides)
		fmt.Fprintf(out, "Normal:   %d\n", stats.NormalGuides)
		fmt.Fprintf(out, "Advanced: %d\n", stats.AdvancedGuides)
		fmt.Fprintf(out, "Project:  %d\n", stats.ProjectGuides)
		return nil
	},
}

var (
	cacheDescription string
	cacheAdvanced    bool
	cacheProject     bool
	cacheModel       string
)

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete TASK",
	Short: "Evict one cached guide",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(true)
		defer cancel()

		model := cacheModel
		if model == "" {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			model = a.endpoints.Current().Model
			a.Close()
		}
		key := guidecache.Key{
			TaskName:        args[0],
			TaskDescription: cacheDescription,
			IsAdvanced:      cacheAdvanced,
			ModelName:       model,
			IsProject:       cacheProject,
		}
		client := guidecache.NewClient(cfg.CacheURL(), cfg.GetCacheTimeout(), true)
		if err := client.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (model %s)\n", args[0], model)
		return nil
	},
}

func init() {
	namesCmd.AddCommand(namesListCmd, namesAddCmd, namesRemoveCmd, namesClearCmd, namesLoadCmd)
	endpointsCmd.AddCommand(endpointsListCmd, endpointsSelectCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheDeleteCmd)

	cacheDeleteCmd.Flags().StringVarP(&cacheDescription, "description", "d", "", "Task description the guide was cached under")
	cacheDeleteCmd.Flags().BoolVar(&cacheAdvanced, "advanced", false, "Target the advanced guide")
	cacheDeleteCmd.Flags().BoolVar(&cacheProject, "project", false, "Target a project guide")
	cacheDeleteCmd.Flags().StringVar(&cacheModel, "model", "", "Model name (default: current endpoint's model)")
}
