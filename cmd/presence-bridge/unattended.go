package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"presence-bridge/internal/discord"
	"presence-bridge/internal/resolve"
	"presence-bridge/internal/session"
)

func runUnattended(cmd *cobra.Command, args []string) error {
	target, err := resolve.ParseTarget(args[0])
	if err != nil {
		return withCode(exitBadArgs, err)
	}
	if _, err := strconv.ParseUint(args[1], 10, 64); err != nil {
		return withCode(exitBadArgs, fmt.Errorf("invalid client id %q", args[1]))
	}
	clientID := args[1]

	env, err := bootstrap(cmd)
	if err != nil {
		return withCode(exitBadArgs, err)
	}
	defer env.Close()
	env.status.OnStatus = func(msg string) { fmt.Fprintln(os.Stdout, msg) }
	env.status.SetTarget(target.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := discord.NewClient(clientID)
	if err := sink.Connect(ctx); err != nil {
		return withCode(exitServiceInit, fmt.Errorf("%w: %v", session.ErrServiceInit, err))
	}

	cfg := env.settings.SessionConfig(target, env.runID)
	if flagIgnoreHomeScreen {
		cfg.ShowHomeScreen = false
	}

	slog.Info("starting presence-bridge",
		"target", target.String(),
		"port", cfg.Port,
		"show_home_screen", cfg.ShowHomeScreen,
	)

	s := session.New(cfg, session.Deps{
		Addresses: resolve.New(),
		Overrides: loadOverrides(ctx, env.settings),
		Sink:      sink,
		Reporter:  env.status,
		Trace:     env.trace,
	})
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown requested")
	return nil
}
