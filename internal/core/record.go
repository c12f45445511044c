package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type (
	// Counts holds the per-material item counts of one category.
	Counts struct {
		Paper   float64 `json:"paper"`
		Plastic float64 `json:"plastic"`
		Carton  float64 `json:"carton"`
	}

	// Record is one collection event.
	Record struct {
		Date       time.Time `json:"date"`
		Recyclable Counts    `json:"recyclable"`
		Residual   Counts    `json:"residual"`
	}
)

// Total returns paper+plastic+carton.
func (c Counts) Total() float64 {
	return c.Paper + c.Plastic + c.Carton
}

// Total returns the sum of recyclable and residual items.
func (r Record) Total() float64 {
	return r.Recyclable.Total() + r.Residual.Total()
}

// dateLayouts are tried in order when a date arrives as a string.
// Layouts without a zone are read in local time, except the bare date
// which is read as UTC midnight.
var dateLayouts = []struct {
	layout string
	local  bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", false},
	{time.RFC1123Z, false},
	{time.RFC1123, false},
}

// Normalize coerces an arbitrary decoded object into a Record.
// A missing or unparseable date becomes now; any count that is missing,
// non-numeric or negative becomes 0. Normalize never panics.
func Normalize(raw map[string]any, now time.Time) Record {
	r := Record{Date: now.UTC()}
	if raw == nil {
		return r
	}
	if t, ok := ParseDate(raw["date"]); ok {
		r.Date = t.UTC()
	}
	r.Recyclable = normalizeCounts(raw["recyclable"])
	r.Residual = normalizeCounts(raw["residual"])
	return r
}

func normalizeCounts(v any) Counts {
	m, ok := v.(map[string]any)
	if !ok {
		return Counts{}
	}
	return Counts{
		Paper:   Coerce(m["paper"]),
		Plastic: Coerce(m["plastic"]),
		Carton:  Coerce(m["carton"]),
	}
}

// Coerce converts v into a non-negative finite number, or 0.
func Coerce(v any) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		f = parseNumber(string(x))
	case string:
		f = parseNumber(x)
	case bool:
		if x {
			f = 1
		}
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	lower := strings.ToLower(s)
	for _, p := range []struct {
		prefix string
		base   int
	}{{"0x", 16}, {"0o", 8}, {"0b", 2}} {
		if strings.HasPrefix(lower, p.prefix) {
			n, err := strconv.ParseUint(lower[2:], p.base, 64)
			if err != nil {
				return 0
			}
			return float64(n)
		}
	}
	// ParseFloat also accepts "inf", "nan" and underscores; those are not
	// plain decimal numbers and are rejected.
	if strings.ContainsAny(lower, "_in") {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// maxEpochMillis is the widest instant a date value may name: 100 million
// days either side of the Unix epoch.
const maxEpochMillis = 8.64e15

// ParseDate accepts a time.Time, an epoch-millisecond number or one of the
// supported string layouts. Zero, empty, out-of-range and unparseable values
// report false.
func ParseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case float64:
		return fromEpochMillis(x)
	case int64:
		return fromEpochMillis(float64(x))
	case int:
		return fromEpochMillis(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpochMillis(f)
	case string:
		return parseDateString(x)
	}
	return time.Time{}, false
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	if ms == 0 || math.IsNaN(ms) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if l.local {
			t, err = time.ParseInLocation(l.layout, s, time.Local)
		} else {
			t, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms != 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
