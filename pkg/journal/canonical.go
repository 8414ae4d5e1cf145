// Copyright 2025 Aura Project

package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalizeJSON re-serializes arbitrary JSON bytes with object keys
// sorted and whitespace stripped, adapted from the teacher's
// commitment.CanonicalizeJSON/canonicalizeValue so two independently
// constructed facts with the same logical content hash identically.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("journal: decoding for canonicalization: %w", err)
	}
	canon := canonicalizeValue(v)
	out, err := json.Marshal(canon)
	if err != nil {
		return nil, fmt.Errorf("journal: re-encoding canonical value: %w", err)
	}
	return out, nil
}

// canonicalizeValue recursively rebuilds maps, visiting their keys in sorted
// order, so json.Marshal emits keys in a fixed order; Go's encoding/json already
// sorts map[string]interface{} keys on marshal, so this primarily documents
// the invariant and normalizes nested structures uniformly.
func canonicalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalizeValue(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return t
	}
}

// HashConcat hashes the canonical encoding of several values concatenated,
// mirroring the teacher's commitment.HashConcat.
func HashConcat(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		enc, err := CanonicalEncode(v)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}
