// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ibuslink/internal/capture"
	"github.com/Thermoquad/ibuslink/internal/config"
	"github.com/Thermoquad/ibuslink/internal/sim"
	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

var replayVerbose bool

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Replay a capture through the link engine",
	Long: `Feed the received side of a capture recorded by 'emulate --capture' through
a fresh engine built from the profile, with the recorded timestamps driving the
turnaround timer, and compare its responses with the recorded ones.

Value responses depend on the analog inputs and are reported separately; any
other difference is a protocol regression.

Exit codes:
  0 - Responses match
  1 - Protocol responses differ
  2 - Capture or profile error`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Print every response")
}

// replayResult counts how far a replay diverged from the recording.
type replayResult struct {
	records    int
	responses  int
	mismatches int
	valueDiffs int
	stats      ibus.Statistics
}

// replayCapture runs r through an offline engine and compares responses.
func replayCapture(r *capture.Reader, profile config.Profile, verbose io.Writer) (replayResult, error) {
	var res replayResult
	off, err := sim.NewOffline(sim.Options{
		Turnaround: profile.Link.Turnaround.Duration,
		ServoOnly:  profile.Link.ServoOnly,
		Sensors:    profile.SensorConfigs(),
		Sources:    simSources(config.Profile{Sensors: quiet(profile.Sensors)}, 0),
		ReadyPolls: profile.ADC.ReadyPolls,
	})
	if err != nil {
		return res, err
	}

	var produced, recorded responseStream
	// compare pairs up the responses decoded so far. Unless final, it waits
	// while a recorded response is still arriving.
	compare := func(final bool) {
		if !final && recorded.dec.Pending() > 0 {
			return
		}
		got, want := produced.out, recorded.out
		res.responses += len(want)
		n := len(got)
		if len(want) > n {
			n = len(want)
		}
		for i := 0; i < n; i++ {
			switch {
			case i >= len(got) || i >= len(want):
				res.mismatches++
			case got[i].Command != want[i].Command:
				res.mismatches++
			case got[i].Value != want[i].Value:
				if got[i].Command.Kind() == ibus.KindValue {
					res.valueDiffs++
				} else {
					res.mismatches++
				}
			}
			if verbose != nil && i < len(want) {
				fmt.Fprint(verbose, ibus.FormatResponse(want[i]))
			}
		}
		produced.out, recorded.out = produced.out[:0], recorded.out[:0]
	}

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		res.records++
		switch rec.Dir {
		case capture.DirRx:
			compare(false)
			produced.feed(off.Feed(rec.Time, rec.Data))
		case capture.DirTx:
			recorded.feed(rec.Data)
		case capture.DirDiscard:
			// never reached the decoder on the device either
		}
	}
	compare(true)
	res.stats = off.Stats()
	return res, nil
}

// responseStream decodes one side's responses across chunk boundaries.
type responseStream struct {
	dec ibus.ResponseDecoder
	out []ibus.SensorResponse
}

func (s *responseStream) feed(data []byte) {
	for _, b := range data {
		if resp, ok, _ := s.dec.DecodeByte(b); ok {
			s.out = append(s.out, resp)
		}
	}
}

// quiet drops simulated noise so a replay is deterministic.
func quiet(sensors []config.SensorConfig) []config.SensorConfig {
	out := make([]config.SensorConfig, len(sensors))
	for i, s := range sensors {
		s.SimNoise = 0
		out[i] = s
	}
	return out
}

func runReplay(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profile error: %v\n", err)
		os.Exit(2)
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
		os.Exit(2)
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
		os.Exit(2)
	}

	var verbose io.Writer
	if replayVerbose {
		verbose = os.Stdout
	}
	res, err := replayCapture(r, profile, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Records:    %d\n", res.records)
	fmt.Printf("Responses:  %d recorded\n", res.responses)
	fmt.Printf("Mismatches: %d\n", res.mismatches)
	fmt.Printf("Value diffs: %d\n", res.valueDiffs)
	fmt.Printf("Engine:     %s\n", res.stats)

	if res.mismatches > 0 {
		os.Exit(1)
	}
	return nil
}
