package main

import (
	"fmt"
	"os"

	"github.com/hxnx/karaoke/config"
	"github.com/spf13/cobra"
)

type flagValues struct {
	downloadPath string
	backend      string
	httpAddr     string
	logLevel     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags flagValues

	cmd := &cobra.Command{
		Use:           "karaoked",
		Short:         "Party karaoke orchestrator",
		Long:          "karaoked plays queued karaoke videos, downloads new ones and keeps web and Discord clients in sync.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flags.downloadPath, "download-path", "", "directory holding the song library")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "player backend (vlc or basic)")
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "listen address of the HTTP and websocket API")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	return cmd
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags flagValues) {
	if cmd.Flags().Changed("download-path") {
		cfg.DownloadPath = flags.downloadPath
	}
	if cmd.Flags().Changed("backend") {
		cfg.PlayerBackend = flags.backend
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.HTTPAddr = flags.httpAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
}
