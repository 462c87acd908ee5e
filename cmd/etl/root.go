package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"docetl/types"
)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string

	cfg *types.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Extract, transform and load document metadata, then embed it",
		Long: `etl moves document metadata from a source database into a Postgres table,
renaming and coercing columns as the mapping file says, and keeps a vector
column of description embeddings in sync. It can also chunk and embed a PDF.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if err := types.LoadEnv(opts.envFile); err != nil {
				return err
			}
			cfg := types.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newConfigCmd(opts),
		newExtractCmd(opts),
		newTransformCmd(opts),
		newLoadCmd(opts),
		newEmbedCmd(opts),
		newBookCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
