// Command esp32ctl is a bench tool for ESP32 OSC controllers.
//
// It talks to devices directly over UDP (send, monitor), reads a device
// directory (devices) and queries a running esp32osc daemon (status).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/config"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "esp32ctl",
	Short: "ESP32 OSC controller bench tool",
	Long: `Command-line tool for ESP32 OSC controllers:

- Send session, motor and power commands to a device
- Monitor the messages devices send back
- List a device directory (devices.json)
- Show the sessions of a running esp32osc daemon`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// main prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
}

// newLogger builds a stderr text logger from the --log-level flag.
func newLogger(cmd *cobra.Command) *logging.Logger {
	level, _ := cmd.Flags().GetString("log-level") //nolint:errcheck // Flag is always registered
	return logging.New(config.LoggingConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	}, version)
}
