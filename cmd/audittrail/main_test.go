package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelx-labs/audittrail/pkg/archive"
	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/ingest"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// run invokes the dispatcher the way main does, with captured output.
func run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = Run(append([]string{"audittrail"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

// clearTrailEnv blanks ambient AUDITTRAIL_* variables so host configuration
// cannot leak into CLI tests. The loader treats empty as unset.
func clearTrailEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, "AUDITTRAIL") {
			t.Setenv(key, "")
		}
	}
}

// sealedBatch builds a batch whose root really is the root of its leaves,
// so exported bundles pass full verification.
func sealedBatch(t *testing.T, n int) *batch.Batch {
	t.Helper()

	events := make([]ingest.EventRecord, n)
	leaves := make([]merkle.Digest, n)
	for i := range events {
		fp := merkle.Fingerprint([]byte(fmt.Sprintf("event-%d", i)))
		events[i] = ingest.EventRecord{
			Fingerprint: fp,
			Sequence:    uint64(i + 1),
			Kind:        "deploy",
			EnqueuedAt:  time.Now().UTC().Truncate(time.Second),
		}
		leaves[i] = fp
	}

	tree, err := merkle.BuildTree(leaves)
	require.NoError(t, err)

	return &batch.Batch{
		MerkleRoot:   tree.Root(),
		EventCount:   n,
		SealedAt:     time.Now().UTC().Truncate(time.Second),
		AnchorStatus: batch.AnchorConfirmed,
		LedgerTxRef:  "tx-cli-test",
		Events:       events,
	}
}

func TestRunDispatch(t *testing.T) {
	t.Run("unknown command", func(t *testing.T) {
		code, _, stderr := run("frobnicate")
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "Unknown command: frobnicate")
	})

	t.Run("help", func(t *testing.T) {
		code, stdout, _ := run("help")
		require.Equal(t, 0, code)
		require.Contains(t, stdout, "USAGE")
		require.Contains(t, stdout, "audittrail <command>")
	})

	t.Run("version", func(t *testing.T) {
		code, stdout, _ := run("version")
		require.Equal(t, 0, code)
		require.Contains(t, stdout, version)
	})
}

func TestServeCmdBadInput(t *testing.T) {
	clearTrailEnv(t)

	t.Run("unknown flag", func(t *testing.T) {
		code, _, _ := run("serve", "--bogus")
		require.Equal(t, 2, code)
	})

	t.Run("missing config file", func(t *testing.T) {
		code, _, stderr := run("serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "config")
	})
}

func TestVerifyCmd(t *testing.T) {
	t.Run("missing flag", func(t *testing.T) {
		code, _, stderr := run("verify")
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "--bundle is required")
	})

	t.Run("unreadable file", func(t *testing.T) {
		code, _, _ := run("verify", "--bundle", filepath.Join(t.TempDir(), "nope.json"))
		require.Equal(t, 2, code)
	})

	t.Run("not a manifest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"hello":"world"}`), 0o644))

		code, _, stderr := run("verify", "--bundle", path)
		require.Equal(t, 1, code)
		require.Contains(t, stderr, "Verification failed")
	})

	t.Run("valid bundle", func(t *testing.T) {
		b := sealedBatch(t, 4)
		b.ID = 7
		m, err := archive.BuildManifest(b)
		require.NoError(t, err)
		data, err := m.Encode()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "bundle.json")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		code, stdout, stderr := run("verify", "--bundle", path)
		require.Equal(t, 0, code, stderr)
		require.Contains(t, stdout, "Bundle verified")
		require.Contains(t, stdout, m.MerkleRoot.String())
	})

	t.Run("tampered bundle", func(t *testing.T) {
		b := sealedBatch(t, 4)
		b.ID = 7
		m, err := archive.BuildManifest(b)
		require.NoError(t, err)
		data, err := m.Encode()
		require.NoError(t, err)

		// Swap one leaf for another well-formed digest. The shape stays
		// valid; the checksum does not.
		evil := bytes.Replace(data,
			[]byte(m.Leaves[0].String()),
			[]byte(merkle.Fingerprint([]byte("tampered")).String()), 1)
		path := filepath.Join(t.TempDir(), "bundle.json")
		require.NoError(t, os.WriteFile(path, evil, 0o644))

		code, _, stderr := run("verify", "--bundle", path)
		require.Equal(t, 1, code)
		require.Contains(t, stderr, "Verification failed")
	})

	t.Run("json output on failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

		code, stdout, _ := run("verify", "--bundle", path, "--json")
		require.Equal(t, 1, code)
		require.Contains(t, stdout, `"valid": false`)
	})
}

func TestSealCmd(t *testing.T) {
	t.Run("sealed", func(t *testing.T) {
		b := sealedBatch(t, 3)
		b.ID = 42
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/v1/batches/seal", r.URL.Path)
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(b)
		}))
		defer ts.Close()

		code, stdout, stderr := run("seal", "--addr", ts.URL, "--token", "tok-1")
		require.Equal(t, 0, code, stderr)
		require.Contains(t, stdout, "Sealed batch 42")
		require.Contains(t, stdout, b.MerkleRoot.String())
	})

	t.Run("nothing to seal", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"title":"Conflict"}`, http.StatusConflict)
		}))
		defer ts.Close()

		code, stdout, _ := run("seal", "--addr", ts.URL)
		require.Equal(t, 1, code)
		require.Contains(t, stdout, "No pending events to seal")
	})

	t.Run("server unreachable", func(t *testing.T) {
		code, _, stderr := run("seal", "--addr", "http://127.0.0.1:1")
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "Error")
	})
}

func TestHealthCmd(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		code, stdout, _ := run("health", "--addr", ts.URL)
		require.Equal(t, 0, code)
		require.Contains(t, stdout, "OK")
	})

	t.Run("unhealthy", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		code, _, stderr := run("health", "--addr", ts.URL)
		require.Equal(t, 1, code)
		require.Contains(t, stderr, "status 503")
	})

	t.Run("unreachable", func(t *testing.T) {
		code, _, _ := run("health", "--addr", "http://127.0.0.1:1")
		require.Equal(t, 1, code)
	})
}

// TestExportCmdRoundTrip drives the two CLI halves end to end: export a
// batch from a real sqlite store, then verify the bundle it wrote.
func TestExportCmdRoundTrip(t *testing.T) {
	clearTrailEnv(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "trail.db")

	store, err := batch.OpenSQLiteStore(dbPath)
	require.NoError(t, err)
	b := sealedBatch(t, 5)
	require.NoError(t, store.Insert(context.Background(), b))
	require.NoError(t, store.Close())

	t.Setenv("AUDITTRAIL_DB_DRIVER", "sqlite")
	t.Setenv("AUDITTRAIL_DB_DSN", dbPath)

	outDir := filepath.Join(dir, "bundles")
	code, stdout, stderr := run("export", "--batch", "1", "--out", outDir)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Bundle exported")
	require.Contains(t, stdout, b.MerkleRoot.String())

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	code, stdout, stderr = run("verify", "--bundle", filepath.Join(outDir, entries[0].Name()))
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "Bundle verified")
	require.Contains(t, stdout, b.MerkleRoot.String())
}

func TestExportCmdBadInput(t *testing.T) {
	clearTrailEnv(t)

	t.Run("missing batch flag", func(t *testing.T) {
		code, _, stderr := run("export", "--out", t.TempDir())
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "--batch is required")
	})

	t.Run("memory store refused", func(t *testing.T) {
		code, _, stderr := run("export", "--batch", "1")
		require.Equal(t, 2, code)
		require.Contains(t, stderr, "sqlite or postgres")
	})

	t.Run("unknown batch", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "trail.db")
		store, err := batch.OpenSQLiteStore(dbPath)
		require.NoError(t, err)
		require.NoError(t, store.Close())

		t.Setenv("AUDITTRAIL_DB_DRIVER", "sqlite")
		t.Setenv("AUDITTRAIL_DB_DSN", dbPath)

		code, _, stderr := run("export", "--batch", "99", "--out", t.TempDir())
		require.Equal(t, 1, code)
		require.Contains(t, stderr, "No batch with ID 99")
	})
}
