// Command presence-bridge mirrors the title running on a console into Discord
// Rich Presence.
//
// Unattended mode connects straight away:
//
//	presence-bridge [-m|--ignore-home-screen] <address> <client-id>
//
// "serve" runs the local control API and waits for connect requests.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitOK          = 0
	exitBadArgs     = 1
	exitServiceInit = 2
)

var Version = "dev"

var (
	flagConfig           string
	flagLogLevel         string
	flagIgnoreHomeScreen bool
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error { return &exitError{code: code, err: err} }

func main() {
	rootCmd := &cobra.Command{
		Use:   "presence-bridge [flags] <address> <client-id>",
		Short: "Mirror the console's running title into Discord Rich Presence",
		Long: `presence-bridge connects to the console on TCP port 51966, reads the
currently running title and publishes it to Discord Rich Presence.

<address> is the console's IPv4 address or MAC address. A MAC address is
resolved through the local neighbour table on every reconnect.
<client-id> is the Discord application id.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE:          runUnattended,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "settings file (default: config.yaml in . or ./config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVarP(&flagIgnoreHomeScreen, "ignore-home-screen", "m", false, "clear presence instead of showing the home screen")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		code := exitBadArgs
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(code)
	}
	os.Exit(exitOK)
}
