package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

const weeklyWithOverride = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calinstances//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART;TZID=America/New_York:20240304T090000\r\n" +
	"DTEND;TZID=America/New_York:20240304T093000\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=6\r\n" +
	"EXDATE;TZID=America/New_York:20240318T090000\r\n" +
	"RDATE:20240402T130000Z,20240403T130000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"RECURRENCE-ID;TZID=America/New_York:20240311T090000\r\n" +
	"DTSTART;TZID=America/New_York:20240311T110000\r\n" +
	"DURATION:PT45M\r\n" +
	"STATUS:TENTATIVE\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseEventsRecurringWithOverride(t *testing.T) {
	events, err := ParseEvents([]byte(weeklyWithOverride), 7)
	require.NoError(t, err)
	require.Len(t, events, 2)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	base := events[0]
	assert.Equal(t, int64(7), base.CalendarID)
	assert.Equal(t, "standup@example.com", base.SyncID.OrEmpty())
	assert.Equal(t, "Standup", base.Title)
	assert.True(t, base.DTStart.Equal(time.Date(2024, 3, 4, 9, 0, 0, 0, ny)))
	assert.True(t, base.DTEnd.MustGet().Equal(time.Date(2024, 3, 4, 9, 30, 0, 0, ny)))
	assert.Equal(t, "America/New_York", base.Timezone)
	assert.False(t, base.AllDay)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=6", base.RRule)
	// 09:00 EDT on March 18th.
	assert.Equal(t, "20240318T130000Z", base.ExDate)
	assert.Equal(t, "20240402T130000Z,20240403T130000Z", base.RDate)
	assert.Equal(t, storage.StatusConfirmed, base.Status)
	assert.True(t, base.IsRecurring())
	assert.False(t, base.IsException())

	override := events[1]
	assert.Equal(t, "standup@example.com", override.OriginalSyncID.OrEmpty())
	assert.Equal(t, "standup@example.com/20240311T130000Z", override.SyncID.OrEmpty())
	assert.True(t, override.OriginalInstanceTime.MustGet().Equal(time.Date(2024, 3, 11, 9, 0, 0, 0, ny)))
	assert.Equal(t, "PT45M", override.Duration.OrEmpty())
	assert.Equal(t, storage.StatusTentative, override.Status)
	assert.True(t, override.IsException())
	assert.Equal(t, base.Family(), override.Family())
}

func TestParseEventsAllDayAndDefaults(t *testing.T) {
	data := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//calinstances//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART;VALUE=DATE:20240501\r\n" +
		"STATUS:CANCELLED\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VTODO\r\n" +
		"UID:todo-1\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"END:VTODO\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:call\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240502T150000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := ParseEvents([]byte(data), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)

	holiday := events[0]
	assert.NotEmpty(t, holiday.SyncID.OrEmpty(), "a missing UID gets a generated one")
	assert.True(t, holiday.AllDay)
	assert.Equal(t, "UTC", holiday.Timezone)
	assert.True(t, holiday.DTStart.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "P1D", holiday.Duration.OrEmpty())
	assert.Equal(t, storage.StatusCanceled, holiday.Status)

	call := events[1]
	assert.Equal(t, "UTC", call.Timezone)
	assert.Equal(t, "PT0S", call.Duration.OrEmpty())
	assert.True(t, call.DTEnd.IsAbsent())
}

func TestParseEventsSkipsMalformed(t *testing.T) {
	data := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//calinstances//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:no-start\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:bad-duration\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240502T150000Z\r\n" +
		"DURATION:soon\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:ok\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240502T150000Z\r\n" +
		"DTEND:20240502T160000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := ParseEvents([]byte(data), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-start")
	assert.Contains(t, err.Error(), "bad-duration")
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].SyncID.OrEmpty())
}

func TestParseEventsRejectsGarbage(t *testing.T) {
	_, err := ParseEvents([]byte("not a calendar"), 1)
	assert.Error(t, err)
}

func TestDateListPeriodsAndDates(t *testing.T) {
	assert.Equal(t, "20240101T100000Z,20240102T100000Z",
		periodStarts("20240101T100000Z/PT1H,20240102T100000Z/20240102T110000Z"))
	assert.Equal(t, storage.StatusConfirmed, parseStatus("confirmed"))
	assert.Equal(t, storage.StatusCanceled, parseStatus(" cancelled "))
}
