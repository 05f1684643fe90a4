package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskdealer/cmd/dealer/ui"
	"taskdealer/internal/guide"
	"taskdealer/internal/logging"
	"taskdealer/internal/partition"
	"taskdealer/internal/roster"
)

var (
	dealGroupSize   int
	dealUnique      bool
	dealAdvanced    bool
	dealConcurrency int
	dealTasks       []string
	dealTUI         bool
	dealExport      string
	dealFormat      string
	dealSeed        uint64
	dealNoGuides    bool
	dealDescribe    []string
)

var dealCmd = &cobra.Command{
	Use:   "deal",
	Short: "Shuffle the roster into groups and generate a guide for each",
	Long: `Deals every saved name into groups of --group-size, binds each group to a
random task and streams a guide per assignment, at most --concurrency at a
time. Pairs get Driver/Navigator roles.

Examples:
  dealer deal --group-size 3 --unique
  dealer deal --tasks 'tasks/*.txt' --tui`,
	RunE: runDeal,
}

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Deal groups, then pick each group's task from the catalog",
	Long: `Deals the roster into groups and, for each group, reads task numbers from
stdin (comma separated, blank to skip) out of the category catalog.`,
	RunE: runManual,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the task pool or the category catalog",
	RunE:  runTasks,
}

func init() {
	for _, c := range []*cobra.Command{dealCmd, manualCmd} {
		c.Flags().IntVarP(&dealGroupSize, "group-size", "g", 0, "People per group (default: deal.group_size)")
		c.Flags().BoolVar(&dealAdvanced, "advanced", false, "Request advanced guides")
		c.Flags().IntVar(&dealConcurrency, "concurrency", 0, "Guides generated at once (default: deal.concurrency)")
		c.Flags().StringSliceVar(&dealTasks, "tasks", nil, "Task files or globs (default: roster.task_sources)")
		c.Flags().BoolVar(&dealTUI, "tui", false, "Show the interactive board")
		c.Flags().StringVar(&dealExport, "export", "", "Write the results as plain text to this file")
		c.Flags().StringVar(&dealFormat, "format", "", "Guide output: terminal, html or plain (default: render.format)")
		c.Flags().Uint64Var(&dealSeed, "seed", 0, "Shuffle seed (0: random)")
		c.Flags().BoolVar(&dealNoGuides, "no-guides", false, "Only deal, do not generate guides")
	}
	dealCmd.Flags().BoolVarP(&dealUnique, "unique", "u", false, "Give every group a different task")
	dealCmd.Flags().StringArrayVar(&dealDescribe, "describe", nil, "Override a task description before dealing: INDEX=TEXT (1-based)")
	tasksCmd.Flags().StringSliceVar(&dealTasks, "tasks", nil, "Task files or globs (default: roster.task_sources)")
	tasksCmd.Flags().Bool("catalog", false, "Show the category catalog instead")
}

func dealRand() *rand.Rand {
	if dealSeed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(dealSeed, dealSeed^0x9e3779b97f4a7c15))
}

func applyDealFlags(cmd *cobra.Command) {
	if !cmd.Flags().Changed("group-size") {
		dealGroupSize = cfg.Deal.GroupSize
	}
	if !cmd.Flags().Changed("concurrency") {
		dealConcurrency = cfg.Deal.Concurrency
	}
	if !cmd.Flags().Changed("unique") {
		dealUnique = cfg.Deal.UniqueTasks
	}
	if !cmd.Flags().Changed("advanced") {
		dealAdvanced = cfg.Deal.Advanced
	}
	if dealFormat != "" {
		cfg.Render.Format = dealFormat
	}
}

// batchContext bounds deal and manual runs. Every generation stream already
// carries backend.request_timeout, so the whole batch (and any wait on
// stdin) gets a deadline only from an explicit --timeout, and never under
// the TUI.
func batchContext() (context.Context, context.CancelFunc) {
	return commandContext(timeout > 0 && !dealTUI)
}

// applyDescriptions edits the task pool held by the roster store.
func applyDescriptions(rs *roster.Store, edits []string) error {
	for _, edit := range edits {
		idx, text, ok := strings.Cut(edit, "=")
		if !ok {
			return fmt.Errorf("--describe wants INDEX=TEXT, got %q", edit)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return fmt.Errorf("--describe index %q: %w", idx, err)
		}
		if err := rs.SetDescription(n-1, text); err != nil {
			return err
		}
	}
	return nil
}

func runDeal(cmd *cobra.Command, args []string) error {
	applyDealFlags(cmd)
	ctx, cancel := batchContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := loadTasks(dealTasks)
	if err != nil {
		return err
	}
	a.roster.SetTasks(tasks)
	if err := applyDescriptions(a.roster, dealDescribe); err != nil {
		return err
	}
	names, pool := a.roster.Snapshot()

	assignments, err := partition.Deal(names, pool, partition.Options{
		GroupSize: dealGroupSize,
		Unique:    dealUnique,
		Rand:      dealRand(),
	})
	if err != nil {
		return err
	}
	logger.Info("Dealt assignments",
		zap.Int("names", len(names)), zap.Int("tasks", len(pool)), zap.Int("assignments", len(assignments)))
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditDealCreated, Success: true,
		Fields: map[string]interface{}{"names": len(names), "tasks": len(pool), "assignments": len(assignments), "unique": dealUnique},
	})

	return showAssignments(ctx, a, assignments, cmd.OutOrStdout())
}

// showAssignments fills a board with assignments and generates guides for
// them, either on the interactive board or as plain output.
func showAssignments(ctx context.Context, a *app, assignments []partition.Assignment, out io.Writer) error {
	board := guide.NewBoard()
	board.Reset(assignments)
	coord := a.coordinator(board)

	reqs := make([]guide.Request, len(assignments))
	for i, as := range assignments {
		reqs[i] = guide.TaskRequest(as, dealAdvanced)
	}

	if dealNoGuides {
		printAssignments(out, assignments)
		return exportBoard(board)
	}

	if dealTUI {
		report, err := ui.Run(ctx, coord, reqs, dealConcurrency)
		if err != nil {
			return err
		}
		logger.Debug("Board closed", zap.Int("succeeded", report.Succeeded), zap.Int("failed", report.Failed))
		return exportBoard(board)
	}

	printAssignments(out, assignments)
	fmt.Fprintf(out, "\nGenerating %d guides via %s ...\n", len(reqs), a.endpoints.Current())
	report := coord.FetchAll(ctx, reqs, dealConcurrency)
	printBoard(out, board)
	fmt.Fprintf(out, "\n%d ready, %d failed, %d skipped in %s\n",
		report.Succeeded, report.Failed, report.Skipped, report.Duration.Round(time.Millisecond))

	if err := exportBoard(board); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d guides failed", report.Failed, report.Total)
	}
	return nil
}

func printAssignments(out io.Writer, assignments []partition.Assignment) {
	fmt.Fprintln(out, "=== Task Assignments ===")
	for _, as := range assignments {
		fmt.Fprintf(out, "%2d. %s — %s\n", as.ID+1, as.Members(), as.TaskName)
	}
}

func printBoard(out io.Writer, board *guide.Board) {
	for _, s := range board.Snapshot() {
		fmt.Fprintf(out, "\n──── %d. %s — %s ────\n", s.ID+1, s.Assignment.Members(), s.Assignment.TaskName)
		switch s.State {
		case guide.StateRendered:
			if s.Source == guide.SourceCache {
				fmt.Fprintf(out, "(cached %s)\n", s.CachedAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(out, s.Markup)
		case guide.StateFailed:
			fmt.Fprintf(out, "Error: %v\n", s.Err)
		default:
			fmt.Fprintf(out, "(%s)\n", s.State)
		}
	}
}

func exportBoard(board *guide.Board) error {
	if dealExport == "" {
		return nil
	}
	f, err := os.Create(resolve(dealExport))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()
	if err := board.Export(f); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	logger.Info("Exported results", zap.String("path", dealExport))
	return nil
}

// =============================================================================
// MANUAL
// =============================================================================

func runManual(cmd *cobra.Command, args []string) error {
	applyDealFlags(cmd)
	ctx, cancel := batchContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pattern := cfg.Roster.CatalogGlob
	if len(dealTasks) > 0 {
		pattern = dealTasks[0]
	}
	catalog, err := roster.LoadCatalog(workspace, pattern)
	if err != nil {
		return err
	}
	all := catalog.All()
	if len(all) == 0 {
		return partition.ErrNoTasks
	}

	groups, err := partition.Groups(a.roster.Names(), dealGroupSize, dealRand())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printCatalog(out, catalog)
	selections, err := readSelections(cmd.InOrStdin(), out, groups, all)
	if err != nil {
		return err
	}

	res, err := partition.Manual(groups, selections)
	if err != nil {
		return err
	}
	for _, i := range res.Unassigned {
		fmt.Fprintf(out, "Group %d (%s) has no task.\n", i+1, strings.Join(groups[i], ", "))
	}
	return showAssignments(ctx, a, res.Assignments, out)
}

func printCatalog(out io.Writer, catalog *roster.Catalog) {
	n := 1
	for _, label := range catalog.Categories {
		fmt.Fprintf(out, "\n[%s]\n", label)
		for _, t := range catalog.Tasks[label] {
			fmt.Fprintf(out, "%4d. %s\n", n, t.Name)
			n++
		}
	}
	fmt.Fprintln(out)
}

// readSelections asks, per group, for comma separated catalog numbers.
func readSelections(in io.Reader, out io.Writer, groups [][]string, all []roster.Task) ([][]roster.Task, error) {
	sc := bufio.NewScanner(in)
	selections := make([][]roster.Task, len(groups))
	for i, g := range groups {
		fmt.Fprintf(out, "Tasks for group %d (%s): ", i+1, strings.Join(partition.WithRoles(g), ", "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			break
		}
		for _, field := range strings.Split(sc.Text(), ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			n, err := strconv.Atoi(field)
			if err != nil || n < 1 || n > len(all) {
				return nil, fmt.Errorf("group %d: %q is not a task number between 1 and %d", i+1, field, len(all))
			}
			selections[i] = append(selections[i], all[n-1])
		}
	}
	return selections, sc.Err()
}

// =============================================================================
// TASKS
// =============================================================================

func runTasks(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if showCatalog, _ := cmd.Flags().GetBool("catalog"); showCatalog {
		catalog, err := roster.LoadCatalog(workspace, cfg.Roster.CatalogGlob)
		if err != nil {
			return err
		}
		printCatalog(out, catalog)
		return nil
	}
	tasks, err := loadTasks(dealTasks)
	if err != nil {
		return err
	}
	for i, t := range tasks {
		fmt.Fprintf(out, "%3d. [%s] %s : %s\n", i+1, t.Category, t.Name, t.Description)
	}
	fmt.Fprintf(out, "%d tasks\n", len(tasks))
	return nil
}
