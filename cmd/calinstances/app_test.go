package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calinstances/internal/config"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		Timezone: "UTC",
		Storage:  config.StorageConfig{Type: "memory"},
		Instances: config.InstancesConfig{
			MinExpansionSpan: 62 * 24 * time.Hour,
			MaxExceptionSpan: 7 * 24 * time.Hour,
			TimezoneType:     config.TimezoneAuto,
			MaintenanceCron:  "@every 15m",
			TimezoneCacheTTL: time.Hour,
		},
	}
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestOpenStoreUnknownType(t *testing.T) {
	_, err := openStore(config.StorageConfig{Type: "cassandra"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestParseTime(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	got, err := parseTime("2024-03-10", la)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, la)))

	got, err = parseTime("2024-03-10T12:00:00Z", la)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)))

	_, err = parseTime("tomorrow", la)
	assert.Error(t, err)
}

func TestImportAndListInstances(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.createCalendar(ctx, []string{"-name", "work"}))
	cals, err := a.provider.ListCalendars(ctx)
	require.NoError(t, err)
	require.Len(t, cals, 1)

	ics := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//calinstances//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240301T090000Z\r\n" +
		"DTEND:20240301T100000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=3\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"RECURRENCE-ID:20240302T090000Z\r\n" +
		"DTSTART:20240302T140000Z\r\n" +
		"DTEND:20240302T150000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	path := filepath.Join(t.TempDir(), "daily.ics")
	require.NoError(t, os.WriteFile(path, []byte(ics), 0o600))

	// The override comes after its base in the file and in the import order.
	require.NoError(t, a.importICS(ctx, []string{"-calendar", "1", path}))

	var out bytes.Buffer
	require.NoError(t, a.listInstances(ctx, []string{"-from", "2024-03-01", "-to", "2024-03-05"}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "EVENT")
	assert.Contains(t, lines[1], "2024-03-01T09:00:00Z")
	assert.Contains(t, lines[2], "2024-03-02T14:00:00Z")
	assert.Contains(t, lines[3], "2024-03-03T09:00:00Z")

	out.Reset()
	require.NoError(t, a.listInstances(ctx, []string{"-from", "2024-03-02", "-to", "2024-03-02", "-by-day"}, &out))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "2024-03-02T14:00:00Z")
}

func TestImportRequiresCalendarAndFile(t *testing.T) {
	a := newTestApp(t)
	assert.Error(t, a.importICS(context.Background(), []string{"x.ics"}))
	assert.Error(t, a.importICS(context.Background(), []string{"-calendar", "1"}))
}
