package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ford-at-home/storygen/config"
	"github.com/ford-at-home/storygen/logger"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "storygenctl",
		Short: "Operate storygen session storage",
		Long: `storygenctl runs the storygen background services and administers
stored story sessions.

Configuration is read from --config (YAML) and overridden by STORYGEN_*
and LOG_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				a.closer.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to storygen.yaml")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(a),
		newListActiveCmd(a),
		newShowCmd(a),
		newTurnsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newAbandonCmd(a),
		newDeleteCmd(a),
		newRevokeCmd(a),
		newSweepCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, a.level, a.closer = logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	return nil
}

// print writes v as indented JSON, or through text when --json is not set
// and text is not nil.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	if text != nil && !a.jsonOutput {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
