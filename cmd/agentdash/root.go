package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agent_dashboard/internal/app"
	"agent_dashboard/internal/config"
	"agent_dashboard/internal/logging"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	iniPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "agentdash",
		Short:         "Subagent task and activity tracker",
		Long:          "agentdash tracks subagent tasks, per-profile memory and the activity feed behind the agent dashboard.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.iniPath, "config", "c", "", "INI config file (environment variables take precedence)")

	cmd.AddCommand(
		newServeCmd(flags),
		newSpawnCmd(flags),
		newReportCmd(flags),
		newStatusCmd(flags),
		newArchiveCmd(flags),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, *logrus.Entry, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.iniPath != "" {
		cfg, err = config.LoadFromINI(f.iniPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// open builds the application for one-shot commands
func (f *rootFlags) open(ctx context.Context) (*app.App, error) {
	cfg, logger, err := f.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger, app.Options{})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
