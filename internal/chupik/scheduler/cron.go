package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is a compiled 5-field cron expression:
//
//	minute(0-59)  hour(0-23)  day-of-month(1-31)  month(1-12)  day-of-week(0-7)
//
// Each field accepts *, N, N-M, */S, N-M/S and comma-separated lists of
// those. Day-of-week 7 is Sunday, like 0. All fields must match (no OR
// between day-of-month and day-of-week).
type Schedule struct {
	expr       string
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int
}

// ParseSchedule compiles expr.
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression must have exactly 5 fields (minute hour dom month dow), got %d in %q", len(fields), expr)
	}

	specs := [5]struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 7},
	}
	var parsed [5][]int
	for i, spec := range specs {
		vals, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %s field %q: %w", spec.name, fields[i], err)
		}
		parsed[i] = vals
	}

	// Fold Sunday-as-7 onto 0.
	dow := make([]int, 0, len(parsed[4]))
	for _, v := range parsed[4] {
		if v == 7 {
			v = 0
		}
		if !containsInt(dow, v) {
			dow = append(dow, v)
		}
	}
	sort.Ints(dow)

	return &Schedule{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  dow,
	}, nil
}

// String returns the source expression.
func (s *Schedule) String() string { return s.expr }

// parseField expands a possibly comma-separated field into its sorted set of
// matching values.
func parseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parseItem(strings.TrimSpace(part), min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func parseItem(item string, min, max int) ([]int, error) {
	if item == "" {
		return nil, fmt.Errorf("empty value")
	}
	step := 1
	if idx := strings.LastIndex(item, "/"); idx != -1 {
		s, err := strconv.Atoi(item[idx+1:])
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step value %q", item[idx+1:])
		}
		step = s
		item = item[:idx]
	}

	var start, end int
	switch {
	case item == "*":
		start, end = min, max
	case strings.Contains(item, "-"):
		parts := strings.SplitN(item, "-", 2)
		s, err1 := strconv.Atoi(parts[0])
		e, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid range %q", item)
		}
		start, end = s, e
	default:
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", item)
		}
		start, end = v, v
		if step > 1 {
			end = max
		}
	}
	if start < min || end > max || start > end {
		return nil, fmt.Errorf("range [%d, %d] out of bounds [%d, %d]", start, end, min, max)
	}

	var vals []int
	for v := start; v <= end; v += step {
		vals = append(vals, v)
	}
	return vals, nil
}

// Next returns the first matching minute strictly after now, in now's
// location. It returns the zero time when nothing matches within a year
// (e.g. "0 0 30 2 *").
func (s *Schedule) Next(now time.Time) time.Time {
	t := now.Add(time.Minute).Truncate(time.Minute)
	for range 366 * 24 * 60 {
		if containsInt(s.month, int(t.Month())) &&
			containsInt(s.dayOfMonth, t.Day()) &&
			containsInt(s.dayOfWeek, int(t.Weekday())) &&
			containsInt(s.hour, t.Hour()) &&
			containsInt(s.minute, t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
