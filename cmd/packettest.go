// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid servo frame",
	Long: `Wait for a valid iBUS servo frame on the connection until timeout.

Invalid bytes are skipped; only a complete frame that passes its checksum
counts.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("ibuslink - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for a valid servo frame...\n\n")

	frameChan := make(chan ibus.ChannelFrame, 1)
	errChan := make(chan error, 1)

	go func() {
		rx := ibus.NewReceiver()
		buf := make([]byte, 128)
		skipped := 0
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				ok, decodeErr := rx.DecodeServoByte(buf[i])
				if decodeErr != nil || !ok {
					skipped++
					continue
				}
				if skipped >= ibus.ServoFrameSize {
					fmt.Printf("(skipped %d bytes before sync)\n", skipped-ibus.ServoFrameSize+1)
				}
				frameChan <- rx.Frame()
				return
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  %s\n", ibus.FormatChannelFrame(frame))
		if anomalies := ibus.ValidateChannelFrame(frame); len(anomalies) > 0 {
			fmt.Printf("  %d channel(s) outside %d..%d\n", len(anomalies), ibus.ChannelMin, ibus.ChannelMax)
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
