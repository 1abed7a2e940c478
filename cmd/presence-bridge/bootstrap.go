package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"presence-bridge/internal/config"
	"presence-bridge/internal/override"
	"presence-bridge/internal/packetlog"
	"presence-bridge/internal/proto"
	"presence-bridge/internal/state"
)

// flagKeys maps command-line flags onto settings keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"listen":    "api.listen",
}

// runtimeEnv is what every mode sets up before starting sessions.
type runtimeEnv struct {
	store    *config.Store
	settings config.Settings
	runID    string
	trace    *packetlog.Logger
	status   *state.StatusStore
}

func (e *runtimeEnv) Close() {
	if e.trace != nil {
		_ = e.trace.Close()
	}
}

func bootstrap(cmd *cobra.Command) (*runtimeEnv, error) {
	store := config.NewStore(flagConfig)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := store.Viper().BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	settings, err := store.Load()
	if err != nil {
		return nil, err
	}

	runID := proto.MakeRunID()
	logger, err := newLogger(os.Stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.With("run_id", runID))

	env := &runtimeEnv{
		store:    store,
		settings: settings,
		runID:    runID,
		status:   state.NewStatusStore(),
	}

	if path := settings.Telemetry.NDJSONPath; path != "" {
		pl, err := packetlog.New(path)
		if err != nil {
			slog.Warn("ndjson telemetry disabled (open failed)", "path", path, "err", err)
		} else {
			env.trace = pl
			slog.Info("ndjson telemetry enabled", "path", path)
			pl.Log(packetlog.Record{
				RunID:     runID,
				Timestamp: proto.NowTS(),
				Type:      packetlog.TypeStartup,
				Message:   "presence-bridge " + Version,
			})
		}
	}
	return env, nil
}

// loadOverrides fetches both override tables once. Failures leave a table
// empty.
func loadOverrides(ctx context.Context, settings config.Settings) *override.Resolver {
	res := override.Load(ctx, override.HTTPFetcher{}, settings.OverrideSources())
	names, ids := res.Len()
	slog.Info("override tables loaded", "names", names, "ids", ids)
	return res
}
