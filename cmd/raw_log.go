// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var (
	rawLogSensor bool
	rawLogEvery  int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded link traffic in human-readable format",
	Long: `Continuously decode and display iBUS traffic as it arrives.

By default the connection is treated as the servo line and every Nth valid
channel frame is printed. With --sensor the connection is treated as the
sensor bus: requests, echoes and responses are printed as they pass.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogSensor, "sensor", false, "Decode sensor bus traffic instead of servo frames")
	rawLogCmd.Flags().IntVar(&rawLogEvery, "every", 1, "Print every Nth servo frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	conn, connInfo, err := OpenConnection(profile.Link.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("ibuslink - Raw Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var decode func(b byte)
	if rawLogSensor {
		decode = sensorPrinter(os.Stdout)
	} else {
		decode = servoPrinter(rawLogEvery)
	}

	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			decode(buf[i])
		}
		if err != nil {
			if isClosed(err) {
				log.Info().Msg("connection closed")
				return nil
			}
			log.Warn().Err(err).Msg("read error")
		}
	}
}

func servoPrinter(every int) func(byte) {
	if every < 1 {
		every = 1
	}
	rx := ibus.NewReceiver()
	count := 0
	return func(b byte) {
		ok, err := rx.DecodeServoByte(b)
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return
		}
		if !ok {
			return
		}
		count++
		if count%every == 0 {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), ibus.FormatChannelFrame(rx.Frame()))
		}
	}
}

// sensorPrinter writes one line per sensor bus frame seen on the wire.
func sensorPrinter(w io.Writer) func(byte) {
	var dec ibus.ResponseDecoder
	return func(b byte) {
		resp, ok, err := dec.DecodeByte(b)
		if err != nil {
			if err != ibus.ErrResponseLength {
				fmt.Fprintf(w, "[ERROR] %v\n", err)
			}
			return
		}
		if ok {
			fmt.Fprintf(w, "[%s] %s", time.Now().Format("15:04:05.000"), ibus.FormatResponse(resp))
		}
	}
}
