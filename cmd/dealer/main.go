// Command dealer deals a roster of people into groups, binds each group to a
// task and streams a study guide for every assignment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskdealer/internal/config"
	"taskdealer/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dealer",
	Short: "Deal people into groups and generate a guide per assignment",
	Long: `dealer shuffles a roster into groups, gives each group a task and asks a
language model (through the taskdealer proxy) for a step-by-step guide.
Guides are cached, so a task already explained is served instantly.

Run "dealer serve" on the machine that reaches Ollama, then "dealer deal"
anywhere that reaches the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		workspace = ws

		path := configPath
		if path == "" {
			path = filepath.Join(ws, config.DefaultConfigFile)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}

		if err := cfg.Logging.ExportLogging(ws); err != nil {
			logger.Warn("Failed to export logging config", zap.Error(err))
		}
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("Failed to initialize file logging", zap.Error(err))
		}
		logger.Debug("Configuration loaded", zap.String("path", path), zap.String("workspace", ws))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/dealer.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Operation timeout (default: backend.request_timeout)")

	rootCmd.AddCommand(
		dealCmd,
		manualCmd,
		askCmd,
		projectCmd,
		serveCmd,
		warmCmd,
		namesCmd,
		endpointsCmd,
		cacheCmd,
		tasksCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

// commandContext bounds a command by --timeout (or the configured request
// timeout when zero) and cancels it on SIGINT/SIGTERM.
func commandContext(bounded bool) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if !bounded {
		return ctx, stop
	}
	d := timeout
	if d <= 0 && cfg != nil {
		d = cfg.GetRequestTimeout()
	}
	if d <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}

// resolve makes p absolute against the workspace.
func resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
