package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/josh-kwaku/simsync/internal/domain"
)

var ErrUnsupportedShape = errors.New("unsupported mirror shape")

// NormalizeToRecordList turns whatever the mirror handed back into a flat
// record list. The mirror may return an array, an object keyed by user_id,
// or nothing at all.
func NormalizeToRecordList(raw any) ([]domain.AccountRecord, error) {
	return Normalize[domain.AccountRecord](raw)
}

// Normalize decodes raw into a list of T. Arrays keep their order, keyed
// objects are ordered by key, and null entries are dropped.
func Normalize[T any](raw any) ([]T, error) {
	switch v := raw.(type) {
	case nil:
		return []T{}, nil
	case []T:
		return append([]T{}, v...), nil
	case map[string]T:
		out := make([]T, 0, len(v))
		for _, k := range sortedKeys(v) {
			out = append(out, v[k])
		}
		return out, nil
	case map[string]string:
		out := make([]T, 0, len(v))
		for _, k := range sortedKeys(v) {
			if v[k] == "" || v[k] == "null" {
				continue
			}
			var doc T
			if err := json.Unmarshal([]byte(v[k]), &doc); err != nil {
				return nil, fmt.Errorf("Normalize: entry %q: %w", k, err)
			}
			out = append(out, doc)
		}
		return out, nil
	case string:
		return normalizeJSON[T]([]byte(v))
	case []byte:
		return normalizeJSON[T](v)
	case json.RawMessage:
		return normalizeJSON[T](v)
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("Normalize: %w", err)
		}
		return normalizeJSON[T](b)
	default:
		return nil, fmt.Errorf("Normalize: %T: %w", raw, ErrUnsupportedShape)
	}
}

func normalizeJSON[T any](b []byte) ([]T, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return []T{}, nil
	}

	var entries []json.RawMessage
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, &entries); err != nil {
			return nil, fmt.Errorf("Normalize: %w", err)
		}
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(b, &byKey); err != nil {
			return nil, fmt.Errorf("Normalize: %w", err)
		}
		for _, k := range sortedKeys(byKey) {
			entries = append(entries, byKey[k])
		}
	default:
		return nil, fmt.Errorf("Normalize: %w", ErrUnsupportedShape)
	}

	out := make([]T, 0, len(entries))
	for i, e := range entries {
		if len(e) == 0 || bytes.Equal(bytes.TrimSpace(e), []byte("null")) {
			continue
		}
		var doc T
		if err := json.Unmarshal(e, &doc); err != nil {
			return nil, fmt.Errorf("Normalize: entry %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
