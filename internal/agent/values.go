package agent

import "encoding/json"

// Values is an agent's operating parameters: named thresholds, keyword lists,
// and counts. Stored as JSON; numeric values decode as float64, so the typed
// getters normalize.
type Values map[string]any

// Int returns the named value as an int, or def when absent or not numeric.
func (v Values) Int(key string, def int) int {
	switch n := v[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// Float returns the named value as a float64, or def when absent or not numeric.
func (v Values) Float(key string, def float64) float64 {
	switch n := v[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// Bool returns the named value as a bool, or def when absent.
func (v Values) Bool(key string, def bool) bool {
	if b, ok := v[key].(bool); ok {
		return b
	}
	return def
}

// String returns the named value as a string, or def when absent.
func (v Values) String(key, def string) string {
	if s, ok := v[key].(string); ok {
		return s
	}
	return def
}

// Strings returns the named value as a string slice. JSON round-trips decode
// lists as []any, so both representations are handled.
func (v Values) Strings(key string) []string {
	switch list := v[key].(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy. Values are JSON scalars and slices; callers
// must not mutate slice members in place.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Normalize round-trips through JSON so typed literals (int, Schedule) take
// the same representation they would after a storage read.
func (v Values) Normalize() (Values, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Values
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
