package vector

import (
	"time"
)

// MatchesFilters evaluates the common filter language against a payload in
// Go. Backends without native filter pushdown (memory, pgvector residuals)
// use this; qdrant translates the same language to native conditions.
func MatchesFilters(payload map[string]interface{}, filters map[string]interface{}) bool {
	for key, cond := range filters {
		if !matchesCondition(payload[key], cond) {
			return false
		}
	}
	return true
}

func matchesCondition(value, cond interface{}) bool {
	switch c := cond.(type) {
	case []interface{}:
		for _, candidate := range c {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	case []string:
		for _, candidate := range c {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		return matchesRange(value, c)
	default:
		return equalValues(value, cond)
	}
}

func matchesRange(value interface{}, bounds map[string]interface{}) bool {
	v, ok := NumericValue(value)
	if !ok {
		return false
	}
	if raw, has := bounds["gte"]; has {
		bound, ok := NumericValue(raw)
		if !ok || v < bound {
			return false
		}
	}
	if raw, has := bounds["lte"]; has {
		bound, ok := NumericValue(raw)
		if !ok || v > bound {
			return false
		}
	}
	return true
}

// NumericValue coerces a payload or filter value to a float64 for range
// comparison. Datetimes (time.Time or RFC 3339 strings) normalize to unix
// seconds, matching how the engine stores created_at/updated_at.
func NumericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case time.Time:
		return float64(n.Unix()), true
	case string:
		if t, err := time.Parse(time.RFC3339, n); err == nil {
			return float64(t.Unix()), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func equalValues(a, b interface{}) bool {
	if a == b {
		return true
	}
	// Numeric cross-type equality (JSON decodes numbers as float64).
	na, aok := NumericValue(a)
	nb, bok := NumericValue(b)
	if aok && bok {
		return na == nb
	}
	as, aok2 := a.(string)
	bs, bok2 := b.(string)
	return aok2 && bok2 && as == bs
}
