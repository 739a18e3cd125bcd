package timefields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochJulianDay = 2440588

func TestJulianDay(t *testing.T) {
	assert.Equal(t, epochJulianDay, JulianDay(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, epochJulianDay, JulianDay(time.Date(1970, 1, 1, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, epochJulianDay-1, JulianDay(time.Date(1969, 12, 31, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2451545, JulianDay(time.Date(2000, 1, 1, 8, 0, 0, 0, time.UTC)))
}

func TestDayStart(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	start := DayStart(2451545, paris)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, paris), start)
	assert.Equal(t, 2451545, JulianDay(start))
}

func TestComputeMidnightBoundary(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	begin := time.Date(2024, 5, 10, 22, 0, 0, 0, la)
	end := time.Date(2024, 5, 11, 0, 0, 0, 0, la)
	f := Compute(begin.UTC(), end.UTC(), la)

	day := JulianDay(begin)
	assert.Equal(t, Fields{StartDay: day, EndDay: day, StartMinute: 22 * 60, EndMinute: MinutesPerDay}, f)
}

func TestComputeZeroLengthMidnight(t *testing.T) {
	at := time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)
	f := Compute(at, at, time.UTC)

	day := JulianDay(at)
	assert.Equal(t, Fields{StartDay: day, EndDay: day, StartMinute: 0, EndMinute: 0}, f)
}

func TestComputeAllDaySpan(t *testing.T) {
	begin := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	f := Compute(begin, begin.Add(72*time.Hour), time.UTC)

	day := JulianDay(begin)
	assert.Equal(t, Fields{StartDay: day, EndDay: day + 2, StartMinute: 0, EndMinute: MinutesPerDay}, f)
}

func TestComputeUsesReferenceZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	begin := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	f := Compute(begin, begin.Add(time.Hour), paris)

	assert.Equal(t, JulianDay(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)), f.StartDay)
	assert.Equal(t, 30, f.StartMinute)
	assert.Equal(t, 90, f.EndMinute)
	assert.Equal(t, f.StartDay, f.EndDay)
}
