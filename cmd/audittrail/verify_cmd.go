package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sentinelx-labs/audittrail/pkg/archive"
)

// runVerifyCmd checks a proof bundle offline. No server, no ledger, no
// config; just the file.
//
// Exit codes: 0 verified, 1 verification failed, 2 usage or read error.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		jsonOutput bool
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Path to a bundle JSON file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		fmt.Fprintln(stderr, "Error: --bundle is required")
		cmd.Usage()
		return 2
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	manifest, err := archive.VerifyBundle(data)
	if err != nil {
		if jsonOutput {
			printJSON(stdout, map[string]any{
				"bundle": bundlePath,
				"valid":  false,
				"error":  err.Error(),
			})
		} else {
			fmt.Fprintf(stderr, "❌ Verification failed: %v\n", err)
		}
		return 1
	}

	if jsonOutput {
		printJSON(stdout, map[string]any{
			"bundle":        bundlePath,
			"valid":         true,
			"batch_id":      manifest.BatchID,
			"merkle_root":   manifest.MerkleRoot,
			"event_count":   manifest.EventCount,
			"anchor_status": manifest.AnchorStatus,
		})
		return 0
	}

	fmt.Fprintf(stdout, "✅ Bundle verified: %s\n", bundlePath)
	fmt.Fprintf(stdout, "   Batch:   %d\n", manifest.BatchID)
	fmt.Fprintf(stdout, "   Root:    %s\n", manifest.MerkleRoot)
	fmt.Fprintf(stdout, "   Events:  %d\n", manifest.EventCount)
	fmt.Fprintf(stdout, "   Anchor:  %s\n", manifest.AnchorStatus)
	return 0
}
