// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Run using
//  go run ./cmd/pospace <command> <flags>

var (
	kFlag = cli.IntFlag{
		Name:  "k",
		Usage: "space parameter of the plot",
		Value: 17,
	}
	seedFlag = cli.StringFlag{
		Name:  "seed",
		Usage: "32-byte plot seed as hex",
	}
	plotFileFlag = cli.StringFlag{
		Name:  "plot",
		Usage: "path of the plot file",
		Value: "plot.bin",
	}
	bufFlag = cli.Uint64Flag{
		Name:  "buffer",
		Usage: "working memory budget in MiB, 0 derives it from available memory",
		Value: 0,
	}
	bucketsFlag = cli.IntFlag{
		Name:  "buckets",
		Usage: "sort bucket count, 0 derives it from the memory budget",
		Value: 0,
	}
	challengeFlag = cli.UintFlag{
		Name:  "challenge",
		Usage: "challenge index to query",
		Value: 0,
	}
	proofFlag = cli.StringFlag{
		Name:  "proof",
		Usage: "proof bytes as hex",
	}
)

func main() {
	app := &cli.App{
		Name:      "pospace",
		Usage:     "proof-of-space plotting toolbox",
		Copyright: "(c) 2025 Sonic Operations Ltd",
		Commands: []*cli.Command{
			&Plot,
			&Prove,
			&Verify,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseSeed(ctx *cli.Context) ([]byte, error) {
	seed, err := hex.DecodeString(ctx.String(seedFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("seed must be 32 bytes, got %d", len(seed))
	}
	return seed, nil
}
