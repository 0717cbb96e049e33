package main

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/config"
	"github.com/marmos91/tenantfs/pkg/httpapi"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var roleHeader string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tenant files over HTTP",
		Long: `Serve files on <server.prefix>/serve/<path> and <server.prefix>/download/<path>.

Authentication is left to a fronting proxy. When --role-header is set, the
caller's role id is read from that header; otherwise every request gets the
public role and only files readable by everyone are served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, roleFromHeader(roleHeader))
		},
	}

	cmd.Flags().StringVar(&roleHeader, "role-header", "", "trusted request header carrying the caller's role id")
	return cmd
}

// roleFromHeader reads the role id from a trusted header. Missing or
// malformed values get the public role.
func roleFromHeader(header string) httpapi.RoleFunc {
	return func(c *gin.Context) int {
		if header == "" {
			return meta.DefaultMinRoleRead
		}
		role, err := strconv.Atoi(c.GetHeader(header))
		if err != nil {
			return meta.DefaultMinRoleRead
		}
		return role
	}
}

func serve(ctx context.Context, cfg *config.Config, role httpapi.RoleFunc) error {
	gin.SetMode(gin.ReleaseMode)

	rt, err := config.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	router := httpapi.NewRouter(rt.Handler(role), httpapi.RouterConfig{
		Prefix:  cfg.Server.Prefix,
		Metrics: rt.Metrics.HTTP,
	})
	server := httpapi.NewServer(router, httpapi.ServerConfig{
		Listen:          cfg.Server.Listen,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	if rt.GC != nil {
		rt.GC.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = rt.GC.Stop(stopCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if rt.Metrics.Server != nil {
		g.Go(func() error { return rt.Metrics.Server.Start(gctx) })
	}

	err = g.Wait()
	logger.Info("tenantfs stopped")
	return err
}
