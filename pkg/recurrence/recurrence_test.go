package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, h int) time.Time {
	return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC)
}

func TestExpand(t *testing.T) {
	ev := NewEvaluator()
	anchor := Anchor{Start: day(1, 9)}

	tests := []struct {
		name  string
		rules Rules
		begin time.Time
		end   time.Time
		want  []time.Time
	}{
		{
			name:  "daily count clipped to window",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=10"},
			begin: day(3, 0),
			end:   day(5, 23),
			want:  []time.Time{day(3, 9), day(4, 9), day(5, 9)},
		},
		{
			name:  "window ends are inclusive",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=10"},
			begin: day(3, 9),
			end:   day(4, 9),
			want:  []time.Time{day(3, 9), day(4, 9)},
		},
		{
			name:  "rrule prefix accepted",
			rules: Rules{RRule: "RRULE:FREQ=DAILY;COUNT=2"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(2, 9)},
		},
		{
			name:  "exdate removes occurrence",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=4", ExDate: "20240102T090000Z"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(3, 9), day(4, 9)},
		},
		{
			name:  "date-only exdate on timed event",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=3", ExDate: "20240103"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(2, 9)},
		},
		{
			name:  "rdate adds and dedupes",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=2", RDate: "20240102T090000Z,20240110T090000Z"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(2, 9), day(10, 9)},
		},
		{
			name:  "rdate only includes dtstart",
			rules: Rules{RDate: "20240105T090000Z"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(5, 9)},
		},
		{
			name:  "zoned exdate matches the same instant",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=3", ExDate: "America/New_York;20240102T040000"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(1, 9), day(3, 9)},
		},
		{
			name:  "exdate and exrule together",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=6", ExRule: "FREQ=DAILY;INTERVAL=2;COUNT=3", ExDate: "20240104T090000Z"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(2, 9), day(6, 9)},
		},
		{
			name:  "exrule subtracts",
			rules: Rules{RRule: "FREQ=DAILY;COUNT=6", ExRule: "FREQ=DAILY;INTERVAL=2;COUNT=3"},
			begin: day(1, 0),
			end:   day(31, 0),
			want:  []time.Time{day(2, 9), day(4, 9), day(6, 9)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Expand(anchor, tt.rules, tt.begin, tt.end)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, tt.want[i].Equal(got[i]), "occurrence %d: want %v got %v", i, tt.want[i], got[i])
			}
		})
	}
}

func TestExpandFollowsAnchorZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	anchor := Anchor{Start: time.Date(2024, 3, 9, 9, 0, 0, 0, ny)}
	got, err := NewEvaluator().Expand(anchor, Rules{RRule: "FREQ=DAILY;COUNT=3"},
		anchor.Start, anchor.Start.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	// The DST switch on 2024-03-10 keeps the local wall time.
	for _, occ := range got {
		assert.Equal(t, 9, occ.In(ny).Hour())
	}
	assert.Equal(t, 23*time.Hour, got[1].Sub(got[0]))
}

func TestExpandRuleParseError(t *testing.T) {
	ev := NewEvaluator()
	anchor := Anchor{Start: day(1, 9)}

	for _, rules := range []Rules{
		{RRule: "FREQ=SOMETIMES"},
		{RRule: "FREQ=DAILY", ExRule: "NOPE"},
		{RRule: "FREQ=DAILY", ExDate: "tomorrow"},
		{RDate: "Mars/Olympus;20240101T000000"},
	} {
		_, err := ev.Expand(anchor, rules, day(1, 0), day(10, 0))
		var rpe *RuleParseError
		require.True(t, errors.As(err, &rpe), "rules %+v: %v", rules, err)
	}
}

func TestLastOccurrence(t *testing.T) {
	ev := NewEvaluator()
	anchor := Anchor{Start: day(1, 9)}

	last, ok, err := ev.LastOccurrence(anchor, Rules{RRule: "FREQ=DAILY;COUNT=5"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, day(5, 9).Equal(last))

	last, ok, err = ev.LastOccurrence(anchor, Rules{RRule: "FREQ=DAILY;UNTIL=20240103T090000Z", RDate: "20240120T090000Z"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, day(20, 9).Equal(last))

	last, ok, err = ev.LastOccurrence(anchor, Rules{RRule: "FREQ=DAILY;COUNT=5", ExDate: "20240105T090000Z"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, day(4, 9).Equal(last))

	_, ok, err = ev.LastOccurrence(anchor, Rules{RRule: "FREQ=WEEKLY"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseDateList(t *testing.T) {
	dates, dateOnly, err := ParseDateList("America/New_York;20240101T090000,20240102", time.UTC)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, "America/New_York", dates[0].Location().String())
	assert.Equal(t, []bool{false, true}, dateOnly)

	dates, _, err = ParseDateList("", time.UTC)
	require.NoError(t, err)
	assert.Empty(t, dates)

	dates, dateOnly, err = ParseDateList(" 20240101T090000Z , ,20240102T090000Z", time.UTC)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, []bool{false, false}, dateOnly)
	assert.True(t, day(2, 9).Equal(dates[1]))

	_, _, err = ParseDateList("2024-01-01", time.UTC)
	assert.Error(t, err)
}
