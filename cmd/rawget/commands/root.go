// Package commands implements the rawget CLI surface on top of
// github.com/spf13/cobra, mirroring gobfdctl/commands' rootCmd +
// flag-binding pattern.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rawstack/rawget/internal/config"
)

var (
	// configPath is the optional YAML configuration file path.
	configPath string

	// logLevel is set by newLogger once the configured level is known.
	logLevel = new(slog.LevelVar)
)

// rootCmd is the top-level cobra command for rawget.
var rootCmd = &cobra.Command{
	Use:   "rawget",
	Short: "Fetch a URL over a hand-rolled TCP/IPv4 stack on a raw Ethernet socket",
	Long: "rawget performs a single HTTP/1.1 GET transaction without relying on the\n" +
		"operating system's TCP implementation: every Ethernet frame, IPv4 datagram,\n" +
		"ARP exchange, and TCP segment is assembled, checksummed, and validated by\n" +
		"this process itself.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML configuration file")

	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process-wide slog.Logger at the configured level,
// matching gobfd's cmd/gobfd/main.go newLoggerWithLevel construction.
func newLogger(level string) *slog.Logger {
	logLevel.Set(config.ParseLogLevel(level))
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
