// Command tenantfs serves and manages multi-tenant file storage on a local
// directory tree or an S3 bucket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/tenantfs/pkg/config"
	"github.com/marmos91/tenantfs/pkg/files"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	tenant     string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "tenantfs",
		Short: "Multi-tenant file storage server",
		Long: `tenantfs stores files per tenant on a local directory tree or in an
S3-compatible bucket, serves them over HTTP, and keeps the database rows
that reference them up to date on rename and move.

Examples:
  tenantfs init                        # write a default config file
  tenantfs serve                       # start the HTTP file server
  tenantfs put report.pdf --folder docs
  tenantfs ls docs --recursive`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/tenantfs/config.yaml)")
	flags.StringVarP(&opts.tenant, "tenant", "t", "public", "tenant to operate on")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newInitCommand(),
		newServeCommand(opts),
		newListCommand(opts),
		newMkdirCommand(opts),
		newPutCommand(opts),
		newMoveCommand(opts),
		newRemoveCommand(opts),
		newChroleCommand(opts),
		newGCCommand(opts),
	)
	return root
}

// loadConfig reads the configuration and applies global flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		config.ApplyDefaults(cfg)
	}
	if err := config.ConfigureLogging(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// openStore builds the runtime and returns the selected tenant's store.
// The caller closes the runtime.
func (o *globalOptions) openStore(ctx context.Context) (*config.Runtime, *files.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rt, err := config.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := rt.Manager.Tenant(ctx, o.tenant)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	return rt, store, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
