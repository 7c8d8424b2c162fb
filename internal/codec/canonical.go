package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize converts an arbitrary JSON-shaped value into a deterministic
// structure: maps become sorted arrays of [key, canonical(value)] pairs,
// arrays keep their order with canonicalized elements, scalars pass through.
//
// The canonical form is what gets hashed, so two nodes that serialize the
// same logical record always agree on the checksum regardless of map
// iteration order.
func Canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]any, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, []any{k, Canonicalize(val[k])})
		}
		return pairs
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Canonicalize(elem)
		}
		return out
	default:
		return v
	}
}

// CanonicalJSON encodes the canonical form of v as compact JSON bytes.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(Canonicalize(v))
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return data, nil
}

// Checksum returns the lowercase hex SHA-256 of the canonical JSON of v.
func Checksum(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum of v and compares it to want.
func Verify(v any, want string) (bool, error) {
	got, err := Checksum(v)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
