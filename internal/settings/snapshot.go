// Package settings serves runtime-tunable operational settings from an
// in-memory snapshot of the settings table. Accessors are typed per setting
// and fall back to compiled-in defaults when a value is missing or malformed,
// so background loops never stall on a bad row.
package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// current stores map[string]json.RawMessage.
var current atomic.Value

func init() {
	current.Store(map[string]json.RawMessage{})
}

// StoreSnapshot replaces the in-memory settings snapshot.
func StoreSnapshot(values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}
	current.Store(next)
}

// SweepInterval returns the reconciliation sweep interval.
func SweepInterval() time.Duration {
	seconds := intValue(SweepIntervalSecondsKey, DefaultSweepIntervalSeconds)
	if seconds <= 0 {
		seconds = DefaultSweepIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// SweepMaxConcurrency returns the maximum concurrent external lookups per
// sweep pass.
func SweepMaxConcurrency() int {
	n := intValue(SweepMaxConcurrencyKey, DefaultSweepMaxConcurrency)
	if n <= 0 {
		n = DefaultSweepMaxConcurrency
	}
	return n
}

// UsageRetentionDays returns the usage log retention window in days. Zero
// disables pruning.
func UsageRetentionDays() int {
	n := intValue(UsageRetentionDaysKey, DefaultUsageRetentionDays)
	if n < 0 {
		return DefaultUsageRetentionDays
	}
	return n
}

func intValue(key string, fallback int) int {
	values, _ := current.Load().(map[string]json.RawMessage)
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	parsed, okParse := parseInt(raw)
	if !okParse {
		return fallback
	}
	return parsed
}

// parseInt accepts JSON numbers (integral only) and quoted integer strings,
// the two shapes operators have stored settings values in.
func parseInt(raw json.RawMessage) (int, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0, false
	}
	var f float64
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	return 0, false
}
