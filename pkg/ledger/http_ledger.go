package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// HTTPLedger talks to a remote ledger gateway. The gateway owns the chain
// credentials; this client only speaks JSON over HTTP.
//
// No retries happen here. A network fault or a 5xx maps to ErrUnavailable
// and the anchoring layer decides when, and whether, to try again.
type HTTPLedger struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPLedgerConfig configures the gateway client.
type HTTPLedgerConfig struct {
	// BaseURL of the gateway, e.g. "https://ledger-gw.internal:8443".
	BaseURL string

	// Token is sent as a bearer credential when set.
	Token string

	// Timeout per request. Zero means 30 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// NewHTTPLedger creates a gateway client.
func NewHTTPLedger(cfg HTTPLedgerConfig) (*HTTPLedger, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ledger: gateway base URL is required")
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPLedger{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
	}, nil
}

type storeBatchRequest struct {
	Root       merkle.Digest `json:"merkle_root"`
	EventCount uint64        `json:"event_count"`
}

func (l *HTTPLedger) StoreBatch(ctx context.Context, root merkle.Digest, eventCount uint64) (*SubmitReceipt, error) {
	if eventCount == 0 {
		// The gateway would reject this too; refusing locally keeps a
		// doomed submission off the wire.
		return nil, ErrEmptyBatch
	}

	var receipt SubmitReceipt
	err := l.do(ctx, http.MethodPost, "/v1/batches", storeBatchRequest{Root: root, EventCount: eventCount}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (l *HTTPLedger) IsRootStored(ctx context.Context, root merkle.Digest) (bool, error) {
	var resp struct {
		Stored bool `json:"stored"`
	}
	if err := l.do(ctx, http.MethodGet, "/v1/roots/"+root.String(), nil, &resp); err != nil {
		return false, err
	}
	return resp.Stored, nil
}

func (l *HTTPLedger) GetBatch(ctx context.Context, index uint64) (*Entry, error) {
	var entry Entry
	if err := l.do(ctx, http.MethodGet, fmt.Sprintf("/v1/batches/%d", index), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

type verifyRequest struct {
	Leaf     merkle.Digest   `json:"leaf"`
	Siblings []merkle.Digest `json:"siblings"`
	Root     merkle.Digest   `json:"root"`
}

func (l *HTTPLedger) VerifyInclusion(ctx context.Context, leaf merkle.Digest, siblings []merkle.Digest, root merkle.Digest) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := l.do(ctx, http.MethodPost, "/v1/verify", verifyRequest{Leaf: leaf, Siblings: siblings, Root: root}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// do runs one request and maps gateway responses onto the contract errors.
func (l *HTTPLedger) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ledger: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ledger: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ledger: failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrDuplicateRoot
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrEmptyBatch
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}
