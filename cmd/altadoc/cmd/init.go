package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/altadoc/altadoc/internal/config"
	"github.com/altadoc/altadoc/internal/output"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and a default config file",
		Long: `Init creates the data directory and writes a default altadoc.yaml
into it. Existing config is left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg := config.Default()
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ObjectStore.Root, 0o755); err != nil {
		return err
	}

	path := defaultConfigPath(cfg.Store.DataDir)
	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("Config already exists: %s (use --force to overwrite)", path)
		return nil
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	out.Successf("Initialized %s", cfg.Store.DataDir)
	out.Statusf("", "Config: %s", path)
	out.Statusf("", "Object store: %s", cfg.ObjectStore.Root)
	return nil
}
