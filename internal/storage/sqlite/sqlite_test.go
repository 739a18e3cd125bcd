package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calinstances/internal/storage"
	"github.com/sonroyaalmerol/calinstances/internal/storage/storagetest"
)

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(filepath.Join(t.TempDir(), "calendar.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "calendar.db")

	s, err := New(dsn, zerolog.Nop())
	require.NoError(t, err)
	s.Close()

	s, err = New(dsn, zerolog.Nop())
	require.NoError(t, err)
	s.Close()
}
