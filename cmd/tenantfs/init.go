package main

import (
	"fmt"

	"github.com/marmos91/tenantfs/pkg/config"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := config.InitConfig(path, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", written)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "output path (default $XDG_CONFIG_HOME/tenantfs/config.yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
