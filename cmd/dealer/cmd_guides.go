package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskdealer/internal/guide"
	"taskdealer/internal/partition"
	"taskdealer/internal/roster"
)

var askRender bool

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask the model anything; the answer streams with thinking hidden",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var projectRegenerate bool

var projectCmd = &cobra.Command{
	Use:   "project [NAME]",
	Short: "Show the guide for a project from the projects file",
	Long: `Without NAME, lists the projects in roster.projects_file. With NAME, shows
its guide, generating and caching it when needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProject,
}

func init() {
	askCmd.Flags().BoolVar(&askRender, "render", false, "Print the rendered answer once complete instead of streaming")
	projectCmd.Flags().BoolVarP(&projectRegenerate, "regenerate", "r", false, "Evict the cached guide and generate a new one")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	question := strings.Join(args, " ")
	coord := a.coordinator(guide.NewBoard())

	printed := ""
	onUpdate := func(visible string) {
		if askRender {
			return
		}
		if strings.HasPrefix(visible, printed) {
			fmt.Fprint(out, visible[len(printed):])
		} else {
			fmt.Fprint(out, "\n"+visible)
		}
		printed = visible
	}

	answer, err := coord.Ask(ctx, question, onUpdate)
	if err != nil {
		if printed != "" {
			fmt.Fprintln(out)
		}
		return err
	}
	if !askRender {
		fmt.Fprintln(out)
		return nil
	}
	rendered, err := a.renderer.Render(answer)
	if err != nil {
		rendered = answer
	}
	fmt.Fprintln(out, rendered)
	return nil
}

func runProject(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(true)
	defer cancel()

	out := cmd.OutOrStdout()
	projects, err := roster.LoadTaskFile(resolve(cfg.Roster.ProjectsFile))
	if err != nil {
		return err
	}
	if len(args) == 0 {
		for i, p := range projects {
			fmt.Fprintf(out, "%3d. %s — %s\n", i+1, p.Name, p.Description)
		}
		return nil
	}

	project, ok := findTask(projects, args[0])
	if !ok {
		return fmt.Errorf("no project named %q in %s", args[0], cfg.Roster.ProjectsFile)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	board := guide.NewBoard()
	board.Reset([]partition.Assignment{guide.ProjectAssignment(0, project.Name, project.Description)})
	coord := a.coordinator(board)

	req := guide.ProjectRequest(0, project.Name, project.Description)
	if projectRegenerate {
		err = coord.Regenerate(ctx, req)
	} else {
		err = coord.Fetch(ctx, req)
	}
	if err != nil {
		return err
	}
	slot, _ := board.Slot(0)
	fmt.Fprintf(out, "=== %s ===\n", project.Name)
	if slot.Source == guide.SourceCache {
		fmt.Fprintf(out, "(cached %s)\n", slot.CachedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out, slot.Markup)
	return nil
}
