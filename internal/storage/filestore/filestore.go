package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
)

// Store keeps the whole database in memory and, when rooted, persists it as
// a JSON snapshot after every committed transaction. Transactions run on a
// copy of the state which replaces the live state only on success.
type Store struct {
	root   string
	mu     sync.Mutex // serializes transactions
	state  *state
	logger zerolog.Logger
}

// New creates or opens a filesystem store rooted at rootDir.
// It will create the directory if missing.
func New(rootDir string, logger zerolog.Logger) (*Store, error) {
	if rootDir == "" {
		return nil, errors.New("rootDir required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{root: rootDir, state: newState(), logger: logger}

	var snap snapshot
	err := readJSON(s.snapshotPath(), &snap)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info().Str("root", rootDir).Msg("initialised empty filestore")
	case err != nil:
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	default:
		s.state = snap.toState()
		logger.Info().
			Str("root", rootDir).
			Int("events", len(s.state.events)).
			Int("instances", len(s.state.instances)).
			Msg("loaded filestore snapshot")
	}
	return s, nil
}

// NewMemory returns a store that never touches the filesystem.
func NewMemory(logger zerolog.Logger) *Store {
	return &Store{state: newState(), logger: logger}
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.root, "calendar.json")
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if s.root != "" {
		if err := writeJSON(s.snapshotPath(), work.toSnapshot()); err != nil {
			return fmt.Errorf("failed to persist snapshot: %w", err)
		}
	}
	s.state = work
	return nil
}

func (s *Store) Close() {}
