package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
	"github.com/dkeye/Parley/internal/store/memory"
	"github.com/dkeye/Parley/internal/store/sqlite"
	"github.com/google/uuid"
)

// Slot returns an active B1 Spanish slot starting at start, with the given capacity.
func Slot(start time.Time, minP, maxP int) domain.TimeSlot {
	return domain.TimeSlot{
		ID:              domain.SlotID(uuid.NewString()),
		LanguageCode:    "es",
		Level:           domain.LevelB1,
		StartTime:       start,
		DurationMinutes: 30,
		MaxParticipants: maxP,
		MinParticipants: minP,
		Recurrence:      domain.RecurrenceOnce,
		Active:          true,
		CreatedAt:       start.Add(-24 * time.Hour),
		UpdatedAt:       start.Add(-24 * time.Hour),
	}
}

// SaveSlot persists slot or fails the test.
func SaveSlot(tb testing.TB, st store.SlotStore, slot domain.TimeSlot) domain.TimeSlot {
	tb.Helper()
	if err := st.SaveSlot(context.Background(), slot); err != nil {
		tb.Fatalf("save slot: %v", err)
	}
	return slot
}

// SQLiteStore opens a migrated store in a temp directory, closed on cleanup.
func SQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(tb.TempDir(), "parley.db"))
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return st
}

// Stores returns one fresh instance of every Store implementation, keyed by name.
func Stores(tb testing.TB) map[string]store.Store {
	tb.Helper()
	return map[string]store.Store{
		"memory": memory.New(),
		"sqlite": SQLiteStore(tb),
	}
}
