// Package cache memoizes expensive responses under deterministic keys with
// a per-operation time-to-live.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL applies to every predefined operation.
const DefaultTTL = 24 * time.Hour

// Operation names a cached computation. Bumping Version invalidates every
// entry written under the old one.
type Operation struct {
	Name    string
	Version string
	TTL     time.Duration
}

var (
	OpSearch   = Operation{Name: "search", Version: "v1", TTL: DefaultTTL}
	OpRelated  = Operation{Name: "related", Version: "v1", TTL: DefaultTTL}
	OpInsights = Operation{Name: "insights", Version: "v1", TTL: DefaultTTL}
)

// WithTTL returns a copy of op using ttl. Non-positive values keep the
// original.
func (op Operation) WithTTL(ttl time.Duration) Operation {
	if ttl > 0 {
		op.TTL = ttl
	}
	return op
}

// Key derives the cache key for op and params. Parameter objects that
// differ only in key order or in unset (null) fields produce the same key.
func Key(op Operation, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", op.Name, err)
	}
	sum := sha256.Sum256(canonical)
	return op.Name + ":" + op.Version + ":" + hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	// UseNumber keeps integers beyond float64 precision distinct.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(dropNulls(generic))
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = dropNulls(val)
		}
		return out
	default:
		return v
	}
}
