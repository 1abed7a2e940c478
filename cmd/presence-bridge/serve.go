package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"presence-bridge/internal/control"
	"presence-bridge/internal/controlapi"
	"presence-bridge/internal/discord"
	"presence-bridge/internal/metrics"
	"presence-bridge/internal/presence"
	"presence-bridge/internal/resolve"
	"presence-bridge/internal/session"
)

func serveCmd() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		Long: `serve keeps presence-bridge resident. Sessions are started and stopped
through the control API (see GET / on the listen address) and settings
changes are written back to the settings file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, connect)
		},
	}
	cmd.Flags().String("listen", "", "control API listen address (overrides api.listen)")
	cmd.Flags().BoolVar(&connect, "connect", false, "connect with the saved settings on startup")
	return cmd
}

func runServe(cmd *cobra.Command, connect bool) error {
	env, err := bootstrap(cmd)
	if err != nil {
		return withCode(exitBadArgs, err)
	}
	defer env.Close()

	listen := env.settings.API.Listen

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bounded window for goroutines to exit after a shutdown signal.
	go func() {
		<-ctx.Done()
		t := time.NewTimer(30 * time.Second)
		defer t.Stop()
		<-t.C
		slog.Error("shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	addresses := resolve.New()
	manager := session.NewManager(session.Deps{
		Addresses: addresses,
		Overrides: loadOverrides(ctx, env.settings),
		Reporter:  env.status,
		Trace:     env.trace,
		Metrics:   m,
	}, func(ctx context.Context, clientID string) (presence.Sink, error) {
		c := discord.NewClient(clientID)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})

	ctrl := control.New(env.settings, manager, env.store, addresses, env.status, env.runID)
	ctrl.OnShowWindow = func() {
		slog.Info("status page", "url", "http://"+listen+"/")
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := controlapi.NewHandler(ctrl, env.status, controlapi.Options{
		Version:  Version,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}

	slog.Info("starting presence-bridge control api", "listen", listen, "config", env.store.Path())

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		err := ctrl.Run(runCtx)
		cancelRun()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return controlapi.Serve(runCtx, listen, handler)
	})
	if connect {
		g.Go(func() error {
			if err := ctrl.Submit(runCtx, control.Connect); err != nil {
				slog.Warn("startup connect failed", "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
