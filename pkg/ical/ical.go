// Package ical imports VEVENTs from iCalendar data as provider events.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/pkg/duration"
	"github.com/sonroyaalmerol/calinstances/pkg/recurrence"
)

const propExceptionRule = "EXRULE"

const utcLayout = "20060102T150405Z"

// ParseEvents decodes every calendar in data and maps its VEVENTs to
// events of calendarID. Malformed events are skipped; their errors are
// joined into the returned error alongside the events that did parse.
func ParseEvents(data []byte, calendarID int64) ([]storage.Event, error) {
	dec := ical.NewDecoder(bytes.NewReader(data))

	var (
		events []storage.Event
		errs   []error
	)
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := parseEvent(comp, calendarID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func parseEvent(comp *ical.Component, calendarID int64) (storage.Event, error) {
	ev := storage.Event{CalendarID: calendarID, Status: storage.StatusConfirmed}

	uid := uuid.NewString()
	if p := comp.Props.Get(ical.PropUID); p != nil && p.Value != "" {
		uid = p.Value
	}
	ev.SyncID = mo.Some(uid)

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Title = p.Value
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return ev, fmt.Errorf("event %s: missing DTSTART", uid)
	}
	start, err := dtstart.DateTime(time.UTC)
	if err != nil {
		return ev, fmt.Errorf("event %s: invalid DTSTART: %w", uid, err)
	}
	ev.DTStart = start
	ev.AllDay = dtstart.ValueType() == ical.ValueDate
	ev.Timezone = timezoneOf(dtstart, ev.AllDay)

	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		end, err := p.DateTime(time.UTC)
		if err != nil {
			return ev, fmt.Errorf("event %s: invalid DTEND: %w", uid, err)
		}
		ev.DTEnd = mo.Some(end)
	} else if p := comp.Props.Get(ical.PropDuration); p != nil {
		if _, err := duration.Parse(p.Value); err != nil {
			return ev, fmt.Errorf("event %s: invalid DURATION: %w", uid, err)
		}
		ev.Duration = mo.Some(p.Value)
	} else if ev.AllDay {
		ev.Duration = mo.Some("P1D")
	} else {
		ev.Duration = mo.Some("PT0S")
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		ev.RRule = p.Value
	}
	if p := comp.Props.Get(propExceptionRule); p != nil {
		ev.ExRule = p.Value
	}
	if ev.RDate, err = dateList(comp.Props.Values(ical.PropRecurrenceDates)); err != nil {
		return ev, fmt.Errorf("event %s: invalid RDATE: %w", uid, err)
	}
	if ev.ExDate, err = dateList(comp.Props.Values(ical.PropExceptionDates)); err != nil {
		return ev, fmt.Errorf("event %s: invalid EXDATE: %w", uid, err)
	}

	if p := comp.Props.Get(ical.PropStatus); p != nil {
		ev.Status = parseStatus(p.Value)
	}

	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		orig, err := p.DateTime(time.UTC)
		if err != nil {
			return ev, fmt.Errorf("event %s: invalid RECURRENCE-ID: %w", uid, err)
		}
		if ev.RRule != "" || ev.RDate != "" {
			return ev, fmt.Errorf("event %s: recurrence override cannot recur", uid)
		}
		ev.OriginalSyncID = mo.Some(uid)
		ev.OriginalInstanceTime = mo.Some(orig)
		ev.SyncID = mo.Some(uid + "/" + orig.UTC().Format(utcLayout))
	}

	return ev, nil
}

// timezoneOf names the zone a DTSTART is expressed in. Floating and UTC
// times both map to UTC.
func timezoneOf(p *ical.Prop, allDay bool) string {
	if allDay {
		return "UTC"
	}
	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		return tzid
	}
	return "UTC"
}

// dateList flattens RDATE or EXDATE properties into one comma separated
// list. Date-times are rewritten in UTC so properties with different TZIDs
// can share a column; dates stay dates.
func dateList(props []ical.Prop) (string, error) {
	var out []string
	for _, p := range props {
		loc := time.UTC
		if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
			l, err := time.LoadLocation(tzid)
			if err != nil {
				return "", fmt.Errorf("unknown TZID %q: %w", tzid, err)
			}
			loc = l
		}

		value := p.Value
		if p.ValueType() == ical.ValuePeriod {
			value = periodStarts(value)
		}

		dates, dateOnly, err := recurrence.ParseDateList(value, loc)
		if err != nil {
			return "", err
		}
		for i, d := range dates {
			if dateOnly[i] {
				out = append(out, d.Format("20060102"))
			} else {
				out = append(out, d.UTC().Format(utcLayout))
			}
		}
	}
	return strings.Join(out, ","), nil
}

// periodStarts keeps the start of each PERIOD value.
func periodStarts(value string) string {
	parts := strings.Split(value, ",")
	for i, part := range parts {
		if j := strings.IndexByte(part, '/'); j >= 0 {
			parts[i] = part[:j]
		}
	}
	return strings.Join(parts, ",")
}

func parseStatus(s string) storage.EventStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CANCELLED":
		return storage.StatusCanceled
	case "TENTATIVE":
		return storage.StatusTentative
	default:
		return storage.StatusConfirmed
	}
}
