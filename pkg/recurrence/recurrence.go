// Package recurrence evaluates RRULE/RDATE/EXRULE/EXDATE sets into concrete
// occurrence start times.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Anchor is the first occurrence of a recurrence. Start carries the location
// the rules are evaluated in.
type Anchor struct {
	Start  time.Time
	AllDay bool
}

// Rules holds the raw recurrence properties of an event. RDate and ExDate
// are comma separated date lists, optionally prefixed with "TZID;".
type Rules struct {
	RRule  string
	RDate  string
	ExRule string
	ExDate string
}

// IsRecurring reports whether the rules produce more than the anchor.
func (r Rules) IsRecurring() bool {
	return strings.TrimSpace(r.RRule) != "" || strings.TrimSpace(r.RDate) != ""
}

// RuleParseError is returned for a malformed recurrence property.
type RuleParseError struct {
	Field string
	Value string
	Err   error
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *RuleParseError) Unwrap() error { return e.Err }

// Evaluator enumerates occurrences of a recurrence set.
type Evaluator interface {
	// Expand returns the sorted, de-duplicated occurrence starts within
	// [begin, end], both ends inclusive.
	Expand(anchor Anchor, rules Rules, begin, end time.Time) ([]time.Time, error)
	// LastOccurrence returns the start of the final occurrence. ok is false
	// when the recurrence never ends.
	LastOccurrence(anchor Anchor, rules Rules) (last time.Time, ok bool, err error)
}

// RRuleEvaluator implements Evaluator on top of rrule-go.
type RRuleEvaluator struct{}

func NewEvaluator() *RRuleEvaluator {
	return &RRuleEvaluator{}
}

type compiled struct {
	set        *rrule.Set
	rrule      *rrule.RRule
	exDateOnly []time.Time
}

func (re *RRuleEvaluator) compile(anchor Anchor, rules Rules) (*compiled, error) {
	loc := anchor.Start.Location()
	c := &compiled{set: &rrule.Set{}}

	if s := strings.TrimSpace(rules.RRule); s != "" {
		r, err := buildRule(s, anchor.Start)
		if err != nil {
			return nil, &RuleParseError{Field: "RRULE", Value: rules.RRule, Err: err}
		}
		c.rrule = r
		c.set.RRule(r)
	}
	if s := strings.TrimSpace(rules.ExRule); s != "" {
		r, err := buildRule(s, anchor.Start)
		if err != nil {
			return nil, &RuleParseError{Field: "EXRULE", Value: rules.ExRule, Err: err}
		}
		c.set.ExRule(r)
	}

	rdates, _, err := ParseDateList(rules.RDate, loc)
	if err != nil {
		return nil, &RuleParseError{Field: "RDATE", Value: rules.RDate, Err: err}
	}
	for _, d := range rdates {
		c.set.RDate(d)
	}
	// An RDATE-only set still occurs at DTSTART.
	if c.rrule == nil && len(rdates) > 0 {
		c.set.RDate(anchor.Start)
	}

	exdates, dateOnly, err := ParseDateList(rules.ExDate, loc)
	if err != nil {
		return nil, &RuleParseError{Field: "EXDATE", Value: rules.ExDate, Err: err}
	}
	for i, d := range exdates {
		if dateOnly[i] && !anchor.AllDay {
			c.exDateOnly = append(c.exDateOnly, d)
			continue
		}
		c.set.ExDate(d)
	}
	return c, nil
}

func buildRule(s string, dtstart time.Time) (*rrule.RRule, error) {
	s = strings.TrimPrefix(s, "RRULE:")
	s = strings.TrimPrefix(s, "EXRULE:")
	opt, err := rrule.StrToROptionInLocation(s, dtstart.Location())
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// Expand implements Evaluator.
func (re *RRuleEvaluator) Expand(anchor Anchor, rules Rules, begin, end time.Time) ([]time.Time, error) {
	c, err := re.compile(anchor, rules)
	if err != nil {
		return nil, err
	}
	if end.Before(begin) {
		return nil, nil
	}
	return c.filterDates(c.set.Between(begin, end, true)), nil
}

// filterDates drops timed occurrences whose local date matches a date-only
// EXDATE.
func (c *compiled) filterDates(occ []time.Time) []time.Time {
	if len(c.exDateOnly) == 0 {
		return occ
	}
	out := occ[:0]
	for _, t := range occ {
		if !c.excludedByDate(t) {
			out = append(out, t)
		}
	}
	return out
}

func (c *compiled) excludedByDate(t time.Time) bool {
	for _, d := range c.exDateOnly {
		local := t.In(d.Location())
		if local.Year() == d.Year() && local.Month() == d.Month() && local.Day() == d.Day() {
			return true
		}
	}
	return false
}

// LastOccurrence implements Evaluator.
func (re *RRuleEvaluator) LastOccurrence(anchor Anchor, rules Rules) (time.Time, bool, error) {
	c, err := re.compile(anchor, rules)
	if err != nil {
		return time.Time{}, false, err
	}
	if c.rrule != nil {
		opts := c.rrule.OrigOptions
		if opts.Count == 0 && opts.Until.IsZero() {
			return time.Time{}, false, nil
		}
	}

	occ := c.filterDates(c.set.All())
	if len(occ) == 0 {
		return anchor.Start, true, nil
	}
	return occ[len(occ)-1], true, nil
}

// ParseDateList parses an RDATE/EXDATE value. Each element may be a date
// (YYYYMMDD), a floating date-time (YYYYMMDDTHHMMSS) or a UTC date-time
// (YYYYMMDDTHHMMSSZ). A leading "TZID;" prefix overrides loc. dateOnly
// reports, per element, whether it had no time part.
func ParseDateList(s string, loc *time.Location) (dates []time.Time, dateOnly []bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	if i := strings.IndexByte(s, ';'); i >= 0 {
		tzid := strings.TrimPrefix(s[:i], "TZID=")
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return nil, nil, fmt.Errorf("unknown TZID %q: %w", tzid, err)
		}
		loc = l
		s = s[i+1:]
	}

	var parts []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case len(part) == 8:
			dateOnly = append(dateOnly, true)
		case len(part) == 15, len(part) == 16 && strings.HasSuffix(part, "Z"):
			dateOnly = append(dateOnly, false)
		default:
			return nil, nil, fmt.Errorf("unrecognised date %q", part)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, nil, nil
	}

	dates, err = rrule.StrToDatesInLoc(strings.Join(parts, ","), loc)
	if err != nil {
		return nil, nil, err
	}
	return dates, dateOnly, nil
}
