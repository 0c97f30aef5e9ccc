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

	"github.com/0xsoniclabs/pospace/plotter"
	"github.com/0xsoniclabs/pospace/prover"
	"github.com/0xsoniclabs/pospace/verifier"
	"github.com/pbnjay/memory"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var Plot = cli.Command{
	Action: doPlot,
	Name:   "plot",
	Usage:  "build a plot and write it to a file",
	Flags: []cli.Flag{
		&kFlag,
		&seedFlag,
		&plotFileFlag,
		&bufFlag,
		&bucketsFlag,
	},
}

var Prove = cli.Command{
	Action: doProve,
	Name:   "prove",
	Usage:  "look up qualities and a proof for a challenge index",
	Flags: []cli.Flag{
		&plotFileFlag,
		&challengeFlag,
	},
}

var Verify = cli.Command{
	Action: doVerify,
	Name:   "verify",
	Usage:  "validate a proof without the plot",
	Flags: []cli.Flag{
		&kFlag,
		&seedFlag,
		&challengeFlag,
		&proofFlag,
	},
}

func doPlot(ctx *cli.Context) error {
	seed, err := parseSeed(ctx)
	if err != nil {
		return err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	bufMiB := ctx.Uint64(bufFlag.Name)
	if bufMiB == 0 {
		// keep a generous margin below the machine's physical memory
		if total := memory.TotalMemory() / (1024 * 1024); total > 0 {
			bufMiB = min(4608, total/4)
		}
	}

	plot, err := plotter.CreatePlot(ctx.Int(kFlag.Name), seed, plotter.Options{
		BufMiB:     bufMiB,
		NumBuckets: ctx.Int(bucketsFlag.Name),
		Logger:     log,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(ctx.String(plotFileFlag.Name), plot, 0644)
}

func doProve(ctx *cli.Context) error {
	plot, err := os.ReadFile(ctx.String(plotFileFlag.Name))
	if err != nil {
		return err
	}
	p, err := prover.New(plot)
	if err != nil {
		return err
	}
	challenge := challengeFromIndex(uint32(ctx.Uint(challengeFlag.Name)))
	qualities, err := p.GetQualitiesForChallenge(challenge)
	if err != nil {
		return err
	}
	if len(qualities) == 0 {
		fmt.Println("no proof of space for this challenge")
		return nil
	}
	for i, q := range qualities {
		proof, err := p.GetFullProof(challenge, i)
		if err != nil {
			return err
		}
		fmt.Printf("quality %d: %x\nproof %d: %x\n", i, q, i, proof)
	}
	return nil
}

func doVerify(ctx *cli.Context) error {
	seed, err := parseSeed(ctx)
	if err != nil {
		return err
	}
	proof, err := hex.DecodeString(ctx.String(proofFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid proof: %w", err)
	}
	challenge := challengeFromIndex(uint32(ctx.Uint(challengeFlag.Name)))
	quality := verifier.ValidateProof(ctx.Int(kFlag.Name), seed, challenge, proof)
	if quality == nil {
		return fmt.Errorf("proof is invalid")
	}
	fmt.Printf("proof is valid, quality: %x\n", quality)
	return nil
}

// challengeFromIndex pads a challenge index into a 32-byte challenge,
// little-endian in the low four bytes.
func challengeFromIndex(index uint32) []byte {
	challenge := make([]byte, 32)
	challenge[0] = byte(index)
	challenge[1] = byte(index >> 8)
	challenge[2] = byte(index >> 16)
	challenge[3] = byte(index >> 24)
	return challenge
}
