package instances

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

// MaintenanceService periodically rebuilds the expanded window when the
// instance timezone no longer matches the one it was built in.
type MaintenanceService struct {
	store    storage.Store
	ranges   *RangeManager
	timezone func() string
	logger   zerolog.Logger
}

// NewMaintenanceService creates the service. timezone reports the timezone
// instances should currently be expressed in.
func NewMaintenanceService(store storage.Store, ranges *RangeManager, timezone func() string, logger zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		store:    store,
		ranges:   ranges,
		timezone: timezone,
		logger:   logger,
	}
}

// Start runs maintenance on the cron schedule until ctx is done.
func (s *MaintenanceService) Start(ctx context.Context, schedule string) error {
	log := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *MaintenanceService) run(ctx context.Context) {
	s.logger.Debug().Msg("running scheduled instance maintenance")
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("instance maintenance failed")
	}
}

// RunOnce rebuilds the cached window in the current timezone if needed.
func (s *MaintenanceService) RunOnce(ctx context.Context) error {
	want := s.timezone()
	return s.store.WithTx(ctx, func(tx storage.Tx) error {
		w, err := tx.GetExpansionWindow(ctx)
		if err != nil {
			return err
		}
		if !w.Expanded() || w.Timezone == want {
			return nil
		}
		s.logger.Info().
			Str("old_timezone", w.Timezone).
			Str("timezone", want).
			Msg("timezone changed, rebuilding instances")
		return s.ranges.EnsureRange(ctx, tx, w.MinInstant, w.MaxInstant, false, true, want)
	})
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
