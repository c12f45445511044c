package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	WindowCustom  Window = "custom"
)

// Window names a date range used to select records.
type Window string

var ErrInvalidWindow = errors.New("invalid window")

// ParseWindow validates a window name coming from outside the process.
// An empty string selects the daily window.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WindowDaily, nil
	case WindowDaily, WindowWeekly, WindowMonthly, WindowCustom:
		return w, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether both bounds are set.
func (r *DateRange) Valid() bool {
	return r != nil && !r.Start.IsZero() && !r.End.IsZero()
}

// UnmarshalJSON accepts any date representation understood by ParseDate;
// null or unparseable bounds stay zero.
func (r *DateRange) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start any `json:"start"`
		End   any `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Start = parseBound(raw.Start)
	r.End = parseBound(raw.End)
	return nil
}

// parseBound reads a bare YYYY-MM-DD as a local calendar day, so a range
// picked from a date input is not shifted by the UTC offset.
func parseBound(v any) time.Time {
	if s, ok := v.(string); ok {
		if t, err := ParseDay(s); err == nil {
			return t
		}
	}
	t, _ := ParseDate(v)
	return t
}

// ParseDay parses YYYY-MM-DD as local midnight.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.Local)
}

// StartOfDay strips the time of day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FilterByWindow selects the records whose calendar day, in now's location,
// falls inside the window. Custom windows without a complete range match
// nothing. Unknown windows match everything.
func FilterByWindow(records []Record, w Window, rng *DateRange, now time.Time) []Record {
	loc := now.Location()
	today := StartOfDay(now, loc)

	var from, to time.Time
	switch w {
	case WindowDaily:
		from, to = today, today
	case WindowWeekly:
		from, to = today.AddDate(0, 0, -7), today
	case WindowMonthly:
		from, to = today.AddDate(0, 0, -30), today
	case WindowCustom:
		if !rng.Valid() {
			return []Record{}
		}
		from, to = StartOfDay(rng.Start, loc), StartOfDay(rng.End, loc)
	default:
		out := make([]Record, len(records))
		copy(out, records)
		return out
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		day := StartOfDay(r.Date, loc)
		if !day.Before(from) && !day.After(to) {
			out = append(out, r)
		}
	}
	return out
}
