// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/master"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	discoveryTimeout int
	discoveryGap     int
	discoveryEcho    bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover sensors on the sensor bus",
	Long: `Act as the receiver and enumerate the sensors on the bus.

Each address is probed in turn, preceded by a servo frame to open the
device's half-duplex window. Present sensors are asked for their type.
Enumeration stops at the first address that stays silent.

Examples:
  ibuslink discovery --port /dev/ttyUSB0
  ibuslink discovery --port /dev/ttyUSB0 --echo

Exit codes:
  0 - At least one sensor found
  1 - No sensor answered
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 50, "Reply timeout in milliseconds")
	discoveryCmd.Flags().IntVar(&discoveryGap, "gap", 10, "Quiet time between requests in milliseconds")
	discoveryCmd.Flags().BoolVar(&discoveryEcho, "echo", false, "Skip own bytes echoed by a single-wire adapter")
}

func newMaster(conn Connection, timeoutMS, gapMS int, echo bool) *master.Master {
	return master.New(conn, master.Options{
		ReplyTimeout: time.Duration(timeoutMS) * time.Millisecond,
		Gap:          time.Duration(gapMS) * time.Millisecond,
		Echo:         echo,
	})
}

func runDiscovery(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("ibuslink - Sensor Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Reply timeout: %d ms\n\n", discoveryTimeout)

	m := newMaster(conn, discoveryTimeout, discoveryGap, discoveryEcho)
	found, err := m.Discover()
	for _, s := range found {
		fmt.Printf("Sensor %2d: %s\n", s.Index, ibus.FormatSensorType(s.Type))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}

	if len(found) == 0 {
		fmt.Fprintf(os.Stderr, "\nNo sensors answered\n")
		os.Exit(1)
	}
	fmt.Printf("\n%d sensor(s) found\n", len(found))
	os.Exit(0)
	return nil
}
