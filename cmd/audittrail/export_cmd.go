package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/sentinelx-labs/audittrail/pkg/archive"
	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/config"
)

// runExportCmd writes a self-contained proof bundle for one batch. It reads
// the batch store directly, so it needs the same config as the server.
//
// Exit codes: 0 exported, 1 no such batch, 2 usage or runtime error.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		batchID    uint64
		out        string
		configPath string
		jsonOutput bool
	)
	cmd.Uint64Var(&batchID, "batch", 0, "Batch ID to export (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Destination directory or s3://bucket/prefix (defaults to the configured archive)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to $AUDITTRAIL_CONFIG)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if batchID == 0 {
		fmt.Fprintln(stderr, "Error: --batch is required")
		cmd.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.Database.Driver == "memory" {
		fmt.Fprintln(stderr, "Error: export reads the batch store directly; set db.driver to sqlite or postgres")
		return 2
	}

	ctx := context.Background()

	store, _, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	blobs, err := archive.NewBlobStore(ctx, blobConfig(cfg, out))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	manifest, addr, err := archive.NewExporter(store, blobs).Export(ctx, batchID)
	if errors.Is(err, batch.ErrNotFound) {
		fmt.Fprintf(stderr, "❌ No batch with ID %d\n", batchID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		printJSON(stdout, map[string]any{
			"batch_id":      manifest.BatchID,
			"merkle_root":   manifest.MerkleRoot,
			"event_count":   manifest.EventCount,
			"anchor_status": manifest.AnchorStatus,
			"bundle":        addr,
		})
		return 0
	}

	fmt.Fprintf(stdout, "✅ Bundle exported: %s\n", addr)
	fmt.Fprintf(stdout, "   Batch:   %d\n", manifest.BatchID)
	fmt.Fprintf(stdout, "   Root:    %s\n", manifest.MerkleRoot)
	fmt.Fprintf(stdout, "   Events:  %d\n", manifest.EventCount)
	fmt.Fprintf(stdout, "   Anchor:  %s\n", manifest.AnchorStatus)
	return 0
}

// blobConfig maps the configured archive to a BlobConfig. A non-empty --out
// overrides it with either a local directory or an s3://bucket/prefix URL.
func blobConfig(cfg *config.Config, out string) archive.BlobConfig {
	bc := archive.BlobConfig{
		Backend:  archive.Backend(cfg.Archive.Backend),
		Dir:      cfg.Archive.Dir,
		Bucket:   cfg.Archive.Bucket,
		Region:   cfg.Archive.Region,
		Endpoint: cfg.Archive.Endpoint,
		Prefix:   cfg.Archive.Prefix,
	}
	if out == "" {
		return bc
	}
	if rest, ok := strings.CutPrefix(out, "s3://"); ok {
		bc.Backend = archive.BackendS3
		bc.Bucket, bc.Prefix, _ = strings.Cut(rest, "/")
		return bc
	}
	bc.Backend = archive.BackendFS
	bc.Dir = out
	return bc
}
