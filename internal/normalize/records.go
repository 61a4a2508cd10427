// Package normalize isolates the rest of the module from drift in the
// ledger server's response shapes and field names.
package normalize

import (
	"bytes"
	"encoding/json"
)

// containerFields are the envelope fields that may hold a record list,
// in priority order.
var containerFields = []string{"content", "data", "items", "results"}

// maxEnvelopeDepth bounds how many nested envelopes are unwrapped.
const maxEnvelopeDepth = 3

// Records coerces a decoded response into an ordered list of raw records.
// It accepts a bare array or an object whose content, data, items or results
// field holds one. Anything else yields an empty list.
func Records(v any) []map[string]any {
	records, _ := recordsAt(v, 0)
	if records == nil {
		return []map[string]any{}
	}
	return records
}

// Decode parses a JSON body and normalizes it with Records.
// Invalid JSON yields an empty list.
func Decode(body []byte) []map[string]any {
	v, err := DecodeJSON(body)
	if err != nil {
		return []map[string]any{}
	}
	return Records(v)
}

// DecodeJSON decodes a JSON body keeping numbers as json.Number so large
// integer identifiers survive intact.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func recordsAt(v any, depth int) ([]map[string]any, bool) {
	switch val := v.(type) {
	case []any:
		return objects(val), true
	case []map[string]any:
		return val, true
	case map[string]any:
		if depth >= maxEnvelopeDepth {
			return nil, false
		}
		for _, field := range containerFields {
			inner, ok := val[field]
			if !ok {
				continue
			}
			if records, ok := recordsAt(inner, depth+1); ok {
				return records, true
			}
		}
	}
	return nil, false
}

func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
