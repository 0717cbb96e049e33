package main

import (
	"fmt"

	"github.com/marmos91/tenantfs/pkg/config"
	"github.com/spf13/cobra"
)

func newGCCommand(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove orphaned derivatives and file rows once",
		Long: `Sweep every configured tenant for derivatives whose source file is gone
and for file rows whose file no longer exists on disk.

Only the local backend is supported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.GC.DryRun = true
			}

			ctx := cmd.Context()
			rt, err := config.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if rt.GC == nil {
				return fmt.Errorf("garbage collection requires the local backend")
			}
			stats, err := rt.GC.RunNow(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	return cmd
}
