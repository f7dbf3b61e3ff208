package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema gates the wire shape before any field is trusted. A bundle
// that is not even shaped like a manifest is rejected here with a pointed
// error instead of a zero-valued struct downstream.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["format_version", "batch_id", "merkle_root", "event_count", "sealed_at", "anchor_status", "leaves", "proofs", "checksum"],
  "properties": {
    "format_version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "batch_id": {"type": "integer", "minimum": 1},
    "merkle_root": {"$ref": "#/$defs/digest"},
    "event_count": {"type": "integer", "minimum": 1},
    "sealed_at": {"type": "string"},
    "anchor_status": {"type": "string", "enum": ["pending", "submitting", "confirmed", "failed"]},
    "ledger_tx_ref": {"type": "string"},
    "leaves": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/digest"}},
    "proofs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["leaf_index", "leaf", "root", "steps"],
        "properties": {
          "leaf_index": {"type": "integer", "minimum": 0},
          "leaf": {"$ref": "#/$defs/digest"},
          "root": {"$ref": "#/$defs/digest"},
          "steps": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["sibling", "position"],
              "properties": {
                "sibling": {"$ref": "#/$defs/digest"},
                "position": {"type": "string", "enum": ["left", "right"]}
              }
            }
          }
        }
      }
    },
    "checksum": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"}
  },
  "$defs": {
    "digest": {"type": "string", "pattern": "^0x[0-9a-f]{64}$"}
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func bundleSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://audittrail.sentinelx.dev/schemas/manifest.schema.json"
		if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
			compileErr = fmt.Errorf("archive: load manifest schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(url)
	})
	return compiledSchema, compileErr
}

// DecodeBundle validates raw bundle bytes against the manifest schema and
// decodes them. Schema failure means the document is not a manifest at all;
// call VerifyManifest afterwards for the cryptographic checks.
func DecodeBundle(data []byte) (*Manifest, error) {
	schema, err := bundleSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("archive: bundle is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("archive: bundle does not match manifest schema: %w", err)
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("archive: decode manifest: %w", err)
	}
	return &m, nil
}

// VerifyBundle is the one-call offline verifier: schema gate, decode, then
// full manifest verification.
func VerifyBundle(data []byte) (*Manifest, error) {
	m, err := DecodeBundle(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyManifest(m); err != nil {
		return nil, err
	}
	return m, nil
}
