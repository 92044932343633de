// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ibuslink - FlySky iBUS link engine and tooling
//
// Decodes servo frames, answers telemetry sensor requests and exercises iBUS
// links over serial ports or WebSocket bridges.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/ibuslink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
