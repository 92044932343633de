// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ibuslink",
	Short: "iBUS servo and telemetry link tool",
	Long: `ibuslink - decode, emulate and exercise FlySky iBUS links.

The servo side carries 14 channels from the receiver at a fixed rate. The
sensor side is a half-duplex request/response bus on which the receiver polls
up to 15 telemetry sensors. ibuslink can listen passively, emulate the sensor
end of the link, or play the bus master against real sensors.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the IBUSLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureRuntime()
		if logLevel != "" && !logging.SetLevel(logLevel) {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default from profile)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Link profile (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

// loadProfile reads --config, or returns the built-in profile.
func loadProfile() (config.Profile, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	p, err := config.Load(configPath)
	if err != nil {
		return config.Profile{}, err
	}
	log.Debug().Str("path", configPath).Int("sensors", len(p.Sensors)).Msg("profile loaded")
	return p, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
