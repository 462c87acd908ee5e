package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docetl/app/server"
	"docetl/types"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// runPhase wires a pipeline, runs one phase and prints its result as JSON.
func runPhase(cmd *cobra.Command, opts *rootOptions, params types.RunParams, wo wireOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if verrs := types.Validate(&params); len(verrs) > 0 {
		return types.ConfigErrorf("run", "invalid parameters: %v", verrs)
	}

	p, err := wire(ctx, opts.cfg, wo)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.svc.Run(ctx, params)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Mapping file maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Prepend the DataDescription row and strip target prefixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseConfig}, wireOptions{})
		},
	})
	return cmd
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Read the mapped source fields into the extracted CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseExtract, Table: table}, wireOptions{})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "source table (default SOURCE_TABLE)")
	return cmd
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Apply the field mapping to the extracted CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseTransform}, wireOptions{})
		},
	}
}

func newLoadCmd(opts *rootOptions) *cobra.Command {
	var (
		table   string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Copy the transformed CSV into the destination table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseLoad, Table: table, Replace: replace}, wireOptions{store: true})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "destination table (default DEST_TABLE)")
	cmd.Flags().BoolVar(&replace, "replace", false, "drop and recreate the table instead of appending")
	return cmd
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Fill the embedding column for rows that lack one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseEmbed, Table: table}, wireOptions{store: true, tokens: true})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "destination table (default DEST_TABLE)")
	return cmd
}

func newBookCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "book <pdf>",
		Short: "Chunk and embed a PDF, write the book CSV and store the chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wo := wireOptions{store: table != "" || opts.cfg.Sink.Table != "", tokens: true}
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseBook, Table: table, PDFPath: args[0]}, wo)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table receiving the chunk document (default DEST_TABLE)")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run config update, extract, transform, load (replace) and embed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPhase(cmd, opts, types.RunParams{Phase: types.PhaseAll, Table: table}, wireOptions{store: true, tokens: true})
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "destination table (default DEST_TABLE)")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var uploadDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, mapping preview and phase triggers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			p, err := wire(ctx, opts.cfg, wireOptions{store: true, tokens: true})
			if err != nil {
				return err
			}
			defer p.Close()

			srv := server.NewServer(opts.cfg.ServerAddr, opts.cfg, p.svc, uploadDir)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			err = g.Wait()
			p.svc.Stop()
			return err
		},
	}
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "uploads", "directory for uploaded PDFs")
	return cmd
}
