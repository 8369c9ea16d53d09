// Package cmd provides the CLI commands for altadoc.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/config"
	"github.com/altadoc/altadoc/internal/core"
	"github.com/altadoc/altadoc/internal/errors"
	"github.com/altadoc/altadoc/internal/logging"
	"github.com/altadoc/altadoc/pkg/version"
)

// Exit codes. Partial means the run finished with per-file failures;
// unavailable means a backing service stayed down through retries.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitUnavailable  = 3
	ExitPartial      = 4
)

// Global flags.
var (
	configPath     string
	dataDir        string
	debugMode      bool
	loggingCleanup func()
	rootLogger     *slog.Logger
)

// NewRootCmd creates the root command for the altadoc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "altadoc",
		Short: "Hybrid search over engineering document archives",
		Long: `altadoc ingests engineering document archives (PDF, DOCX, XLSX, IFC,
drawings) into a dual keyword + vector index and answers natural-language
queries with cited excerpts.

Start with 'altadoc init', then 'altadoc ingest <archive>' and
'altadoc search "..."'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("altadoc version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $ALTADOC_DATA_DIR/altadoc.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAnalogCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging initializes file logging before any command runs. Console
// output stays on stdout; the structured log goes to the rotating file.
func setupLogging(_ *cobra.Command, _ []string) error {
	lcfg := logging.DefaultConfig()
	lcfg.WriteToStderr = false
	if debugMode {
		lcfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(lcfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	rootLogger = logger
	slog.SetDefault(logger)
	return nil
}

// loadConfig resolves configuration from flags, file, and environment.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		def := config.Default()
		candidate := defaultConfigPath(def.Store.DataDir)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.InvalidInput("load configuration", err)
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func defaultConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "altadoc.yaml")
}

// openCore builds the full process from configuration. Callers must Close.
func openCore(cmd *cobra.Command) (*core.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.New(cmd.Context(), cfg, rootLogger)
}

// Execute runs the root command and maps the failure kind to an exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	return exitCode(err)
}

// exitCode maps a structured error kind to the process exit code.
func exitCode(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInvalidInput, errors.KindNotFound:
		return ExitInvalidInput
	case errors.KindTransient, errors.KindTimeout:
		return ExitUnavailable
	case errors.KindPartial:
		return ExitPartial
	default:
		return ExitError
	}
}
