// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/master"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	pollTimeout int
	pollGap     int
	pollCount   int
	pollEcho    bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll sensor values as the receiver would",
	Long: `Discover the sensors on the bus, then request their values in turn.

Every request is preceded by a servo frame. Use --count to bound the number
of rounds; 0 polls until interrupted.

Exit codes:
  0 - All requests answered
  1 - One or more requests timed out
  2 - Connection error`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().IntVar(&pollTimeout, "timeout", 50, "Reply timeout in milliseconds")
	pollCmd.Flags().IntVar(&pollGap, "gap", 10, "Quiet time between requests in milliseconds")
	pollCmd.Flags().IntVar(&pollCount, "count", 10, "Number of polling rounds (0 for unlimited)")
	pollCmd.Flags().BoolVar(&pollEcho, "echo", false, "Skip own bytes echoed by a single-wire adapter")
}

func runPoll(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profile error: %v\n", err)
		os.Exit(2)
	}
	conn, connInfo, err := OpenConnection(profile.Link.Baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("ibuslink - Sensor Poll\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	m := newMaster(conn, pollTimeout, pollGap, pollEcho)
	sensors, err := m.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}
	if len(sensors) == 0 {
		fmt.Fprintf(os.Stderr, "No sensors answered\n")
		os.Exit(1)
	}

	failed := 0
	for round := 1; pollCount == 0 || round <= pollCount; round++ {
		fmt.Printf("Round %d:\n", round)
		for _, s := range sensors {
			v, err := m.Value(s.Index)
			switch {
			case errors.Is(err, master.ErrNoResponse):
				failed++
				fmt.Printf("  Sensor %2d: TIMEOUT\n", s.Index)
			case err != nil:
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
				os.Exit(2)
			default:
				fmt.Printf("  Sensor %2d: %-12s %s\n", s.Index, ibus.FormatSensorValue(s.Type, v),
					ibus.FormatSensorType(s.Type))
			}
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d request(s) timed out\n", failed)
		os.Exit(1)
	}
	os.Exit(0)
	return nil
}
