// Package provider is the event host: it validates event writes, keeps the
// instances table in step with them and answers instance queries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/calinstances/internal/config"
	"github.com/sonroyaalmerol/calinstances/internal/instances"
	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/pkg/duration"
	"github.com/sonroyaalmerol/calinstances/pkg/recurrence"
	"github.com/sonroyaalmerol/calinstances/pkg/timefields"
)

var ErrInvalidEvent = errors.New("invalid event")

type Options struct {
	TimezoneType   config.TimezoneType
	HomeTimezone   string
	DeviceTimezone string
}

type Provider struct {
	store     storage.Store
	ranges    *instances.RangeManager
	evaluator recurrence.Evaluator
	locations *instances.Locations
	logger    zerolog.Logger

	mu   sync.RWMutex
	opts Options
}

func New(store storage.Store, ranges *instances.RangeManager, evaluator recurrence.Evaluator, locations *instances.Locations, opts Options, logger zerolog.Logger) *Provider {
	if opts.TimezoneType == "" {
		opts.TimezoneType = config.TimezoneAuto
	}
	if opts.DeviceTimezone == "" {
		opts.DeviceTimezone = "UTC"
	}
	return &Provider{
		store:     store,
		ranges:    ranges,
		evaluator: evaluator,
		locations: locations,
		logger:    logger,
		opts:      opts,
	}
}

// InstancesTimezone is the timezone instances are currently computed in.
func (p *Provider) InstancesTimezone() string {
	return p.resolveTimezone("")
}

func (p *Provider) resolveTimezone(requested string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.opts.TimezoneType == config.TimezoneHome {
		return p.opts.HomeTimezone
	}
	if requested != "" {
		return requested
	}
	return p.opts.DeviceTimezone
}

// SetDeviceTimezone records a device timezone change. With the auto
// timezone type the next query or maintenance run rebuilds the instances.
func (p *Provider) SetDeviceTimezone(tz string) error {
	if _, err := p.locations.Load(tz); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.DeviceTimezone = tz
	return nil
}

// Calendars

func (p *Provider) CreateCalendar(ctx context.Context, c *storage.Calendar) (int64, error) {
	var id int64
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		id, err = tx.CreateCalendar(ctx, c)
		return err
	})
	return id, err
}

func (p *Provider) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	var out []*storage.Calendar
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListCalendars(ctx)
		return err
	})
	return out, err
}

// SetCalendarSyncEvents toggles whether a calendar's events are expanded.
// The expanded window is invalidated so the next query rebuilds it.
func (p *Provider) SetCalendarSyncEvents(ctx context.Context, id int64, sync bool) error {
	return p.store.WithTx(ctx, func(tx storage.Tx) error {
		cal, err := tx.GetCalendar(ctx, id)
		if err != nil {
			return err
		}
		if cal.SyncEvents == sync {
			return nil
		}
		if err := tx.SetCalendarSyncEvents(ctx, id, sync); err != nil {
			return err
		}
		if err := tx.DeleteAllInstances(ctx); err != nil {
			return err
		}
		p.logger.Debug().Int64("calendar_id", id).Bool("sync_events", sync).Msg("invalidated expansion window")
		return tx.PutExpansionWindow(ctx, storage.ExpansionWindow{})
	})
}

// Events

func (p *Provider) GetEvent(ctx context.Context, id int64) (*storage.Event, error) {
	var ev *storage.Event
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		ev, err = tx.GetEvent(ctx, id)
		return err
	})
	return ev, err
}

// InsertEvent stores ev and materializes its instances inside the current
// window. ev is normalized in place.
func (p *Provider) InsertEvent(ctx context.Context, ev *storage.Event) (int64, error) {
	if err := p.prepare(ev); err != nil {
		return 0, err
	}
	var id int64
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if id, err = tx.InsertEvent(ctx, ev); err != nil {
			return err
		}
		ev.ID = id
		return p.ranges.UpdateInstances(ctx, tx, ev, id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateEvent replaces the stored event with the same ID.
func (p *Provider) UpdateEvent(ctx context.Context, ev *storage.Event) error {
	if err := p.prepare(ev); err != nil {
		return err
	}
	return p.store.WithTx(ctx, func(tx storage.Tx) error {
		old, err := tx.GetEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}

		// The event left its old family: the old one may have lost an
		// exception or its base.
		if (old.IsRecurring() || old.IsException()) && old.Family() != ev.Family() {
			if err := tx.DeleteInstancesByEvent(ctx, ev.ID); err != nil {
				return err
			}
			if err := p.ranges.RefreshFamily(ctx, tx, old.Family()); err != nil {
				return err
			}
		}
		return p.ranges.UpdateInstances(ctx, tx, ev, ev.ID)
	})
}

// DeleteEvent removes an event and its instances. Deleting a base
// recurrence removes its exceptions too; deleting an exception brings back
// the occurrence it replaced.
func (p *Provider) DeleteEvent(ctx context.Context, id int64) error {
	return p.store.WithTx(ctx, func(tx storage.Tx) error {
		ev, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}

		if ev.IsRecurring() && !ev.IsException() {
			exceptions, err := tx.ListExceptions(ctx, ev.Family())
			if err != nil {
				return err
			}
			for _, exc := range exceptions {
				if err := tx.DeleteEvent(ctx, exc.ID); err != nil {
					return err
				}
			}
			if err := tx.DeleteInstancesByFamily(ctx, ev.Family()); err != nil {
				return err
			}
			return tx.DeleteEvent(ctx, id)
		}

		if err := tx.DeleteEvent(ctx, id); err != nil {
			return err
		}
		if ev.IsException() {
			return p.ranges.RefreshFamily(ctx, tx, ev.Family())
		}
		return nil
	})
}

// Queries

// Instances returns the instances intersecting [begin, end], expanding
// first if needed. tz is used with the auto timezone type; empty means the
// device timezone.
func (p *Provider) Instances(ctx context.Context, begin, end time.Time, tz string) ([]storage.Instance, error) {
	zone := p.resolveTimezone(tz)
	var out []storage.Instance
	err := p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := p.ranges.EnsureRange(ctx, tx, begin, end, true, false, zone); err != nil {
			return err
		}
		var err error
		out, err = tx.ListInstances(ctx, begin, end)
		return err
	})
	return out, err
}

// InstancesByDay returns the instances touching the Julian days
// [startDay, endDay] in the instance timezone.
func (p *Provider) InstancesByDay(ctx context.Context, startDay, endDay int, tz string) ([]storage.Instance, error) {
	if endDay < startDay {
		return nil, fmt.Errorf("invalid day range %d..%d", startDay, endDay)
	}
	zone := p.resolveTimezone(tz)
	loc, err := p.locations.Load(zone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	begin := timefields.DayStart(startDay, loc)
	end := timefields.DayStart(endDay+1, loc)

	var out []storage.Instance
	err = p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := p.ranges.EnsureRange(ctx, tx, begin, end, true, false, zone); err != nil {
			return err
		}
		var err error
		out, err = tx.ListInstancesByDay(ctx, startDay, endDay)
		return err
	})
	return out, err
}

// prepare validates ev and fills in the derived fields.
func (p *Provider) prepare(ev *storage.Event) error {
	if ev.DTStart.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidEvent)
	}

	hasOriginal := ev.OriginalSyncID.OrEmpty() != "" || ev.OriginalID.IsPresent()
	if hasOriginal != ev.OriginalInstanceTime.IsPresent() {
		return fmt.Errorf("%w: original event and original instance time must be set together", ErrInvalidEvent)
	}
	if hasOriginal && ev.IsRecurring() {
		return fmt.Errorf("%w: a recurrence exception cannot recur", ErrInvalidEvent)
	}

	if ev.AllDay {
		normalizeAllDay(ev)
	}

	if text, ok := ev.Duration.Get(); ok {
		if _, err := duration.Parse(text); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}

	if ev.IsRecurring() {
		if end, ok := ev.DTEnd.Get(); ok {
			if ev.Duration.IsPresent() {
				return fmt.Errorf("%w: recurring event has both end time and duration", ErrInvalidEvent)
			}
			ev.Duration = mo.Some(duration.Between(ev.DTStart, end).String())
			ev.DTEnd = mo.None[time.Time]()
		}
	} else if ev.DTEnd.IsAbsent() && ev.Duration.IsAbsent() {
		return fmt.Errorf("%w: event needs an end time or a duration", ErrInvalidEvent)
	}

	if ev.Timezone != "" {
		if _, err := p.locations.Load(ev.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidEvent, ev.Timezone)
		}
	}

	last, err := p.lastDate(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev.LastDate = last
	return nil
}

// normalizeAllDay pins all-day events to UTC midnight.
func normalizeAllDay(ev *storage.Event) {
	midnight := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	ev.DTStart = midnight(ev.DTStart)
	if end, ok := ev.DTEnd.Get(); ok {
		ev.DTEnd = mo.Some(midnight(end))
	}
	ev.Timezone = "UTC"
}

// lastDate is the end of the event's final occurrence, absent when the
// recurrence never ends.
func (p *Provider) lastDate(ev *storage.Event) (mo.Option[time.Time], error) {
	if !ev.IsRecurring() {
		return mo.Some(instances.EventEnd(ev, p.logger)), nil
	}

	loc := time.UTC
	if !ev.AllDay && ev.Timezone != "" {
		l, err := p.locations.Load(ev.Timezone)
		if err != nil {
			return mo.None[time.Time](), err
		}
		loc = l
	}

	anchor := recurrence.Anchor{Start: ev.DTStart.In(loc), AllDay: ev.AllDay}
	rules := recurrence.Rules{RRule: ev.RRule, RDate: ev.RDate, ExRule: ev.ExRule, ExDate: ev.ExDate}
	last, ok, err := p.evaluator.LastOccurrence(anchor, rules)
	if err != nil {
		return mo.None[time.Time](), err
	}
	if !ok {
		return mo.None[time.Time](), nil
	}

	d := duration.Zero
	switch text := ev.Duration.OrEmpty(); {
	case text != "":
		d, _ = duration.Parse(text)
	case ev.AllDay:
		d = duration.Days(1)
	}
	return mo.Some(d.AddTo(last).UTC()), nil
}
