package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calinstances/internal/config"
	"github.com/sonroyaalmerol/calinstances/internal/instances"
	"github.com/sonroyaalmerol/calinstances/internal/logging"
	"github.com/sonroyaalmerol/calinstances/internal/provider"
	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/internal/storage/filestore"
	"github.com/sonroyaalmerol/calinstances/internal/storage/postgres"
	"github.com/sonroyaalmerol/calinstances/internal/storage/sqlite"
	"github.com/sonroyaalmerol/calinstances/pkg/ical"
	"github.com/sonroyaalmerol/calinstances/pkg/recurrence"
	"github.com/sonroyaalmerol/calinstances/pkg/timefields"
)

type app struct {
	cfg         *config.Config
	logger      zerolog.Logger
	store       storage.Store
	locations   *instances.Locations
	provider    *provider.Provider
	maintenance *instances.MaintenanceService
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := openStore(cfg.Storage, logging.Component(logger, "storage"))
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}

	locations := instances.NewLocations(cfg.Instances.TimezoneCacheTTL)
	evaluator := recurrence.NewEvaluator()
	expander := instances.NewExpander(evaluator, locations, logging.Component(logger, "expander"))
	ranges := instances.NewRangeManager(expander, locations, instances.Options{
		MinExpansionSpan: cfg.Instances.MinExpansionSpan,
		MaxExceptionSpan: cfg.Instances.MaxExceptionSpan,
	}, logging.Component(logger, "instances"))

	p := provider.New(store, ranges, evaluator, locations, provider.Options{
		TimezoneType:   cfg.Instances.TimezoneType,
		HomeTimezone:   cfg.Instances.HomeTimezone,
		DeviceTimezone: cfg.Timezone,
	}, logging.Component(logger, "provider"))

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		locations:   locations,
		provider:    p,
		maintenance: instances.NewMaintenanceService(store, ranges, p.InstancesTimezone, logging.Component(logger, "maintenance")),
	}, nil
}

func openStore(cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlite.New(cfg.SQLitePath, logger)
	case "postgres":
		return postgres.New(cfg.PostgresURL, logger)
	case "filestore":
		return filestore.New(cfg.FileRoot, logger)
	case "memory":
		return filestore.NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func (a *app) close() {
	a.store.Close()
	a.logger.Debug().Msg("storage closed")
}

func (a *app) createCalendar(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calendar", flag.ContinueOnError)
	name := fs.String("name", "", "Calendar name (required)")
	display := fs.String("display", "", "Display name (optional; defaults to name)")
	color := fs.String("color", "", "Color (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-name is required")
	}
	if *display == "" {
		*display = *name
	}

	id, err := a.provider.CreateCalendar(ctx, &storage.Calendar{
		AccountName: "local",
		AccountType: "local",
		Name:        *name,
		DisplayName: *display,
		Color:       *color,
		Visible:     true,
		SyncEvents:  true,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("created calendar %d\n", id)
	return nil
}

func (a *app) importICS(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	calendarID := fs.Int64("calendar", 0, "Calendar ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calendarID == 0 || fs.NArg() != 1 {
		return errors.New("usage: import -calendar <id> <file.ics>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	events, perr := ical.ParseEvents(data, *calendarID)
	if perr != nil {
		a.logger.Warn().Err(perr).Msg("skipped malformed events")
	}

	// Bases first so overrides can be matched to them on insert.
	var imported int
	for _, pass := range []bool{false, true} {
		for i := range events {
			ev := &events[i]
			if ev.IsException() != pass {
				continue
			}
			if _, err := a.provider.InsertEvent(ctx, ev); err != nil {
				a.logger.Warn().Err(err).Str("sync_id", ev.SyncID.OrEmpty()).Msg("event not imported")
				continue
			}
			imported++
		}
	}
	a.logger.Info().Int("imported", imported).Int("parsed", len(events)).Msg("import finished")
	return nil
}

func (a *app) listInstances(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("instances", flag.ContinueOnError)
	from := fs.String("from", "", "Range start, RFC 3339 or YYYY-MM-DD (required)")
	to := fs.String("to", "", "Range end, RFC 3339 or YYYY-MM-DD (required)")
	tz := fs.String("tz", "", "Timezone (optional; defaults to the configured one)")
	byDay := fs.Bool("by-day", false, "Select by local day instead of instant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return errors.New("-from and -to are required")
	}

	zone := *tz
	if zone == "" || a.cfg.Instances.TimezoneType == config.TimezoneHome {
		zone = a.provider.InstancesTimezone()
	}
	loc, err := a.locations.Load(zone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	begin, err := parseTime(*from, loc)
	if err != nil {
		return err
	}
	end, err := parseTime(*to, loc)
	if err != nil {
		return err
	}

	var list []storage.Instance
	if *byDay {
		list, err = a.provider.InstancesByDay(ctx, timefields.JulianDay(begin.In(loc)), timefields.JulianDay(end.In(loc)), *tz)
	} else {
		list, err = a.provider.Instances(ctx, begin, end, *tz)
	}
	if err != nil {
		return err
	}
	return writeInstances(out, list, loc)
}

func (a *app) serve(ctx context.Context) error {
	a.logger.Info().
		Str("schedule", a.cfg.Instances.MaintenanceCron).
		Str("timezone", a.provider.InstancesTimezone()).
		Msg("instance maintenance running")
	if err := a.maintenance.RunOnce(ctx); err != nil {
		a.logger.Error().Err(err).Msg("initial maintenance failed")
	}
	if a.cfg.Instances.MaintenanceCron == "" {
		a.logger.Info().Msg("maintenance schedule disabled")
		<-ctx.Done()
	} else if err := a.maintenance.Start(ctx, a.cfg.Instances.MaintenanceCron); err != nil {
		return err
	}
	a.logger.Info().Msg("bye")
	return nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func writeInstances(out io.Writer, list []storage.Instance, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tBEGIN\tEND\tSTART_DAY\tSTART_MIN\tEND_DAY\tEND_MIN")
	for _, in := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
			in.EventID,
			in.Begin.In(loc).Format(time.RFC3339),
			in.End.In(loc).Format(time.RFC3339),
			in.StartDay, in.StartMinute, in.EndDay, in.EndMinute)
	}
	return w.Flush()
}
