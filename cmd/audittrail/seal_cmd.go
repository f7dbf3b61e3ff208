package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
)

// runSealCmd asks a running server to seal the pending queue now rather
// than waiting for the size or dwell trigger.
//
// Exit codes: 0 sealed, 1 nothing to seal, 2 usage or transport error.
func runSealCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		addr       string
		token      string
		jsonOutput bool
	)
	cmd.StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the running server")
	cmd.StringVar(&token, "token", "", "Bearer token, if the server requires auth")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(addr, "/")+"/v1/batches/seal", nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var b batch.Batch
		if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
			fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
			return 2
		}
		if jsonOutput {
			printJSON(stdout, b)
			return 0
		}
		fmt.Fprintf(stdout, "✅ Sealed batch %d\n", b.ID)
		fmt.Fprintf(stdout, "   Root:    %s\n", b.MerkleRoot)
		fmt.Fprintf(stdout, "   Events:  %d\n", b.EventCount)
		return 0
	case http.StatusConflict:
		fmt.Fprintln(stdout, "No pending events to seal")
		return 1
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(stderr, "Error: server returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 2
	}
}
