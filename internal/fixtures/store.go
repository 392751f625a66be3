// Package fixtures holds read-only demo data served when the backend is down
// and fallback data is switched on.
package fixtures

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

//go:embed default.json
var defaultData []byte

// Store is an immutable set of JSON list payloads keyed by resource name
type Store struct {
	lists map[string]json.RawMessage
}

// New loads fixtures from path, or the embedded defaults when path is empty
func New(path string) (*Store, error) {
	if path == "" {
		return Parse(defaultData)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from a JSON object of resource name to array
func Parse(data []byte) (*Store, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	lists := make(map[string]json.RawMessage, len(raw))
	for name, value := range raw {
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, fmt.Errorf("fixture %q is not a list: %w", name, err)
		}
		lists[name] = value
	}
	return &Store{lists: lists}, nil
}

// List returns a copy of the resource's JSON array
func (s *Store) List(resource string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	data, ok := s.lists[resource]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Resources returns the resource names with fixtures, sorted
func (s *Store) Resources() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.lists))
	for name := range s.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
