// Package duration implements the RFC 5545 DURATION value used by recurring
// events: a sign and a weeks/days/hours/minutes/seconds tuple.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a signed calendar duration. Sign is +1 or -1; the components
// are never negative.
type Duration struct {
	Sign    int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// maxDigits bounds each component so the total fits in an int64 of
// milliseconds.
const maxDigits = 9

// Zero is the zero-length duration substituted for unparsable values.
var Zero = Duration{Sign: 1}

// FormatError reports a malformed duration string.
type FormatError struct {
	Text   string
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("duration %q: %s at index %d", e.Text, e.Reason, e.Index)
}

// Parse parses strings such as "P1D", "PT1H30M", "-P2W" or "P3600S". The
// 'T' separator is optional. An empty string is the zero duration.
func Parse(s string) (Duration, error) {
	d := Zero
	s = strings.TrimSpace(s)
	if s == "" {
		return d, nil
	}

	i := 0
	switch s[0] {
	case '-':
		d.Sign = -1
		i++
	case '+':
		i++
	}

	if i >= len(s) || s[i] != 'P' {
		return Zero, &FormatError{Text: s, Index: i, Reason: "expected 'P'"}
	}
	i++
	if i >= len(s) {
		return Zero, &FormatError{Text: s, Index: i, Reason: "missing components"}
	}

	var (
		n      int
		digits int
		timed  bool
		seen   = map[byte]bool{}
	)
	for ; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			if digits == maxDigits {
				return Zero, &FormatError{Text: s, Index: i, Reason: "number too large"}
			}
			n = n*10 + int(c-'0')
			digits++
			continue
		}
		if c == 'T' {
			if digits > 0 {
				return Zero, &FormatError{Text: s, Index: i, Reason: "number without unit"}
			}
			if timed {
				return Zero, &FormatError{Text: s, Index: i, Reason: "repeated 'T'"}
			}
			if i == len(s)-1 {
				return Zero, &FormatError{Text: s, Index: i, Reason: "empty time part"}
			}
			timed = true
			continue
		}
		if digits == 0 {
			return Zero, &FormatError{Text: s, Index: i, Reason: "unit without number"}
		}
		if seen[c] {
			return Zero, &FormatError{Text: s, Index: i, Reason: fmt.Sprintf("repeated %q", c)}
		}
		switch c {
		case 'W':
			d.Weeks = n
		case 'D':
			d.Days = n
		case 'H':
			d.Hours = n
		case 'M':
			d.Minutes = n
		case 'S':
			d.Seconds = n
		default:
			return Zero, &FormatError{Text: s, Index: i, Reason: fmt.Sprintf("unexpected %q", c)}
		}
		seen[c] = true
		n = 0
		digits = 0
	}
	if digits > 0 {
		return Zero, &FormatError{Text: s, Index: len(s), Reason: "number without unit"}
	}
	return d, nil
}

// Days returns a positive duration of n days.
func Days(n int) Duration {
	return Duration{Sign: 1, Days: n}
}

// Between returns the exact span from start to end expressed in seconds.
func Between(start, end time.Time) Duration {
	secs := int(end.Sub(start) / time.Second)
	if secs < 0 {
		return Duration{Sign: -1, Seconds: -secs}
	}
	return Duration{Sign: 1, Seconds: secs}
}

// Millis is the signed length in milliseconds, counting a day as 24 hours.
func (d Duration) Millis() int64 {
	secs := int64(d.Weeks)*7*86400 +
		int64(d.Days)*86400 +
		int64(d.Hours)*3600 +
		int64(d.Minutes)*60 +
		int64(d.Seconds)
	return int64(d.sign()) * secs * 1000
}

// Std converts d to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d.Millis()) * time.Millisecond
}

// AddTo applies d to the instant t.
func (d Duration) AddTo(t time.Time) time.Time {
	return t.Add(d.Std())
}

func (d Duration) IsZero() bool {
	return d.Millis() == 0
}

// String formats d in its canonical form, e.g. "P1W", "PT1H30M", "-P2D".
func (d Duration) String() string {
	if d.Weeks == 0 && d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if d.sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	writePart := func(n int, unit byte) {
		if n != 0 {
			b.WriteString(strconv.Itoa(n))
			b.WriteByte(unit)
		}
	}
	writePart(d.Weeks, 'W')
	writePart(d.Days, 'D')
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
		b.WriteByte('T')
		writePart(d.Hours, 'H')
		writePart(d.Minutes, 'M')
		writePart(d.Seconds, 'S')
	}
	return b.String()
}

func (d Duration) sign() int {
	if d.Sign < 0 {
		return -1
	}
	return 1
}
