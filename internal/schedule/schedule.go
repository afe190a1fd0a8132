// Package schedule compiles cron expressions and computes fire times.
//
// Expressions use six mandatory fields (second minute hour day-of-month month
// day-of-week) plus an optional seventh year field:
//
//	*/10 * * * * *        every 10 seconds
//	0 30 9 * * 1-5        09:30:00 on weekdays
//	0 0 12 1 1 * 2027     12:00:00 on 2027-01-01 only
//
// Each field accepts wildcards, single values, lists, ranges and steps.
// Evaluation happens in the daemon's local time.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoUpcoming reports that an expression has no fire time within the
// lookahead window. The owning task cannot be scheduled further.
var ErrNoUpcoming = errors.New("no upcoming fire time within lookahead window")

// Lookahead bounds the Next search so sparse expressions (e.g. a year list
// entirely in the past) terminate instead of scanning forever.
const Lookahead = 5 * 365 * 24 * time.Hour

// Year field domain. Kept in step with the field grammar below; years outside
// this range are rejected at parse time.
const (
	minYear = 1970
	maxYear = 2099
)

// parser handles the six core fields. Seconds are mandatory; descriptors
// (@hourly etc.) are deliberately not accepted because task definitions are
// expected to be explicit about sub-minute behavior.
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Expression is a compiled cron expression. The zero value is invalid; obtain
// one through Parse or JSON decoding.
type Expression struct {
	text  string
	inner cron.Schedule
	years []int // sorted; nil means every year
}

// Parse compiles a 6- or 7-field cron expression.
func Parse(text string) (Expression, error) {
	fields := strings.Fields(text)
	switch len(fields) {
	case 6:
		inner, err := parser.Parse(text)
		if err != nil {
			return Expression{}, fmt.Errorf("schedule %q: %w", text, err)
		}
		return Expression{text: text, inner: inner}, nil
	case 7:
		years, err := parseYearField(fields[6])
		if err != nil {
			return Expression{}, fmt.Errorf("schedule %q: %w", text, err)
		}
		inner, err := parser.Parse(strings.Join(fields[:6], " "))
		if err != nil {
			return Expression{}, fmt.Errorf("schedule %q: %w", text, err)
		}
		return Expression{text: text, inner: inner, years: years}, nil
	default:
		return Expression{}, fmt.Errorf("schedule %q: expected 6 or 7 fields, got %d", text, len(fields))
	}
}

// MustParse is a test helper; it panics on malformed expressions.
func MustParse(text string) Expression {
	expr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return expr
}

// IsZero reports whether the expression was never parsed.
func (e Expression) IsZero() bool { return e.inner == nil }

// String returns the original expression text.
func (e Expression) String() string { return e.text }

// Next returns the first fire time strictly after the given instant.
//
// The result is a pure function of (expression, after, local calendar). When
// no fire time exists within Lookahead, Next returns ErrNoUpcoming.
func (e Expression) Next(after time.Time) (time.Time, error) {
	if e.inner == nil {
		return time.Time{}, fmt.Errorf("schedule: %w", ErrNoUpcoming)
	}
	limit := after.Add(Lookahead)
	t := after
	for {
		t = e.inner.Next(t)
		if t.IsZero() || t.After(limit) {
			return time.Time{}, fmt.Errorf("schedule %q: %w", e.text, ErrNoUpcoming)
		}
		if e.yearAllowed(t.Year()) {
			return t, nil
		}
		// Hop to just before the next allowed year instead of walking
		// fire-by-fire through years the filter excludes.
		ny, ok := e.nextAllowedYear(t.Year() + 1)
		if !ok {
			return time.Time{}, fmt.Errorf("schedule %q: %w", e.text, ErrNoUpcoming)
		}
		t = time.Date(ny, time.January, 1, 0, 0, 0, 0, t.Location()).Add(-time.Second)
	}
}

func (e Expression) yearAllowed(y int) bool {
	if e.years == nil {
		return true
	}
	i := sort.SearchInts(e.years, y)
	return i < len(e.years) && e.years[i] == y
}

func (e Expression) nextAllowedYear(from int) (int, bool) {
	if e.years == nil {
		return from, true
	}
	i := sort.SearchInts(e.years, from)
	if i >= len(e.years) {
		return 0, false
	}
	return e.years[i], true
}

// UnmarshalJSON compiles the expression during config decode so a malformed
// schedule fails the whole config parse.
func (e *Expression) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.text)
}

// parseYearField expands the year field grammar (wildcard, single values,
// lists, ranges, steps) into a sorted year set. A bare "*" returns nil,
// meaning no filtering.
func parseYearField(field string) ([]int, error) {
	if field == "*" {
		return nil, nil
	}

	set := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, fmt.Errorf("year field: empty list entry")
		}

		step := 1
		rangePart := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			rangePart = part[:i]
			v, err := strconv.Atoi(part[i+1:])
			if err != nil || v < 1 {
				return nil, fmt.Errorf("year field: invalid step in %q", part)
			}
			step = v
		}

		var lo, hi int
		switch {
		case rangePart == "*":
			lo, hi = minYear, maxYear
		case strings.Contains(rangePart, "-"):
			parts := strings.SplitN(rangePart, "-", 2)
			a, err1 := strconv.Atoi(parts[0])
			b, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("year field: invalid range %q", rangePart)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return nil, fmt.Errorf("year field: invalid value %q", rangePart)
			}
			lo = v
			if strings.ContainsRune(part, '/') {
				// "2026/2" means every 2nd year from 2026 on.
				hi = maxYear
			} else {
				hi = v
			}
		}

		if lo < minYear || hi > maxYear {
			return nil, fmt.Errorf("year field: %q outside %d-%d", part, minYear, maxYear)
		}
		if lo > hi {
			return nil, fmt.Errorf("year field: range %q is inverted", part)
		}
		for y := lo; y <= hi; y += step {
			set[y] = true
		}
	}

	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}
