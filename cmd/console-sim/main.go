// Command console-sim emulates the console side of the title link for local
// development.
//
//	console-sim --title "0100152000022000:Mario Kart 8 Deluxe" --title "Home Menu" --terminate
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"presence-bridge/internal/consolesim"
	"presence-bridge/internal/packetlog"
	"presence-bridge/internal/proto"
)

func main() {
	var (
		addr      string
		layout    string
		titles    []string
		interval  time.Duration
		repeat    int
		loop      bool
		terminate bool
		ndjson    string
	)

	cmd := &cobra.Command{
		Use:           "console-sim",
		Short:         "Serve scripted title frames like the console does",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runID := proto.MakeRunID()
			slog.SetDefault(slog.New(log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
			})).With("run_id", runID))

			l, err := proto.LayoutByName(layout)
			if err != nil {
				return err
			}
			script := make([]proto.Title, 0, len(titles))
			for _, raw := range titles {
				t, err := consolesim.ParseTitle(raw)
				if err != nil {
					return err
				}
				script = append(script, t)
			}

			var pl *packetlog.Logger
			if ndjson != "" {
				pl, err = packetlog.New(ndjson)
				if err != nil {
					return fmt.Errorf("open ndjson telemetry file: %w", err)
				}
				defer func() { _ = pl.Close() }()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bound, err := consolesim.Start(ctx, consolesim.Config{
				Addr:      addr,
				Layout:    l,
				Titles:    script,
				Interval:  interval,
				Repeat:    repeat,
				Loop:      loop,
				Terminate: terminate,
			}, runID, pl)
			if err != nil {
				return err
			}
			slog.Info("console simulator listening", "addr", bound.String(), "titles", len(script), "layout", layout)

			<-ctx.Done()
			slog.Info("shutdown requested")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf(":%d", proto.Port), "listen address")
	cmd.Flags().StringVar(&layout, "layout", "packed", "frame layout: packed or aligned")
	cmd.Flags().StringArrayVar(&titles, "title", []string{"Home Menu"}, `title to send, "NAME" or "HEXID:NAME" (repeatable)`)
	cmd.Flags().DurationVar(&interval, "interval", consolesim.DefaultInterval, "pause between frames")
	cmd.Flags().IntVar(&repeat, "repeat", consolesim.DefaultRepeat, "frames sent per title")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the script when it ends")
	cmd.Flags().BoolVar(&terminate, "terminate", false, "send a terminate frame and close when the script ends")
	cmd.Flags().StringVar(&ndjson, "ndjson", "", "write sent frames to this NDJSON file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
