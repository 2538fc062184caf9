package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prcycle/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newCycle(pr int) *models.ReviewCycle {
	return &models.ReviewCycle{
		Repo:     "o/r",
		PRNumber: pr,
		Since:    t0,
		Mode:     models.ModeOnline,
		Status:   models.CycleStatusTriggered,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "logs", "review_cycles.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "logs"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestCycleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newCycle(42)
	require.NoError(t, s.CreateCycle(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.TriggeredAt.IsZero())

	got, err := s.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "o/r", got.Repo)
	assert.Equal(t, 42, got.PRNumber)
	assert.True(t, got.Since.Equal(t0))
	assert.Equal(t, time.UTC, got.Since.Location())
	assert.Equal(t, models.ModeOnline, got.Mode)
	assert.Equal(t, models.CycleStatusTriggered, got.Status)

	got.Status = models.CycleStatusPolling
	got.Iteration = 1
	got.Since = t0.Add(time.Minute)
	got.LastError = "HTTP 502"
	require.NoError(t, s.UpdateCycle(ctx, got))

	again, err := s.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusPolling, again.Status)
	assert.Equal(t, 1, again.Iteration)
	assert.True(t, again.Since.Equal(t0.Add(time.Minute)))
	assert.Equal(t, "HTTP 502", again.LastError)

	active, err := s.GetActiveCycle(ctx, "o/r", 42)
	require.NoError(t, err)
	assert.Equal(t, c.ID, active.ID)
}

func TestGetCycle_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCycle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetActiveCycle(context.Background(), "o/r", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCycle_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := newCycle(0)
	assert.Error(t, s.CreateCycle(ctx, bad))

	bad = newCycle(1)
	bad.Mode = "cloud"
	assert.Error(t, s.CreateCycle(ctx, bad))

	bad = newCycle(1)
	bad.Since = time.Time{}
	assert.Error(t, s.CreateCycle(ctx, bad))
}

func TestCreateCycle_OneActivePerPR(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newCycle(7)
	require.NoError(t, s.CreateCycle(ctx, first))

	err := s.CreateCycle(ctx, newCycle(7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active review cycle")

	// A different PR is independent.
	require.NoError(t, s.CreateCycle(ctx, newCycle(8)))

	// Once the first is terminal a new cycle may start.
	second := newCycle(7)
	second.ID = NewID()
	require.NoError(t, s.SupersedeCycle(ctx, first.ID, second.ID))
	require.NoError(t, s.CreateCycle(ctx, second))

	old, err := s.GetCycle(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusSuperseded, old.Status)
	assert.Equal(t, second.ID, old.SupersededBy)
}

func TestUpdateCycle_SinceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newCycle(1)
	c.Since = t0.Add(time.Hour)
	require.NoError(t, s.CreateCycle(ctx, c))

	c.Since = t0
	err := s.UpdateCycle(ctx, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWatermarkRetreat))

	stored, err := s.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Since.Equal(t0.Add(time.Hour)))

	// Equal is allowed.
	c.Since = t0.Add(time.Hour)
	c.Iteration = 3
	require.NoError(t, s.UpdateCycle(ctx, c))
}

func TestUpdateCycle_ImmutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newCycle(1)
	require.NoError(t, s.CreateCycle(ctx, c))

	c.PRNumber = 2
	err := s.UpdateCycle(ctx, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
}

func TestUpdateCycle_NotFound(t *testing.T) {
	s := newTestStore(t)
	c := newCycle(1)
	c.ID = "nope"
	err := s.UpdateCycle(context.Background(), c)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newCycle(1)
	require.NoError(t, s.CreateCycle(ctx, a))
	b := newCycle(2)
	require.NoError(t, s.CreateCycle(ctx, b))
	b.Status = models.CycleStatusReadyToMerge
	require.NoError(t, s.UpdateCycle(ctx, b))

	active, corrupt, err := s.ListActiveCycles(ctx)
	require.NoError(t, err)
	assert.Empty(t, corrupt)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	all, _, err := s.ListCycles(ctx, CycleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byPR, _, err := s.ListCycles(ctx, CycleFilter{PRNumber: 2})
	require.NoError(t, err)
	require.Len(t, byPR, 1)
	assert.Equal(t, b.ID, byPR[0].ID)
}

func TestCorruptCycle_IsQuarantined(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newCycle(5)
	require.NoError(t, s.CreateCycle(ctx, c))

	// Tamper behind the store's back.
	_, err := s.db.ExecContext(ctx, `UPDATE review_cycles SET status = 'polling' WHERE id = ?`, c.ID)
	require.NoError(t, err)

	_, err = s.GetCycle(ctx, c.ID)
	var corruptErr *StateCorruptionError
	require.True(t, errors.As(err, &corruptErr))
	assert.Equal(t, c.ID, corruptErr.ID)
	assert.Equal(t, 5, corruptErr.PRNumber)
	assert.Contains(t, corruptErr.Reason, "checksum")

	_, err = s.GetCycle(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound, "row moved out of review_cycles")

	q, err := s.ListQuarantined(ctx)
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, c.ID, q[0].ID)
	assert.Contains(t, q[0].Payload, `"status":"polling"`)
}

func TestCorruptCycle_ListReportsAndContinues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	good := newCycle(1)
	require.NoError(t, s.CreateCycle(ctx, good))
	bad := newCycle(2)
	require.NoError(t, s.CreateCycle(ctx, bad))

	_, err := s.db.ExecContext(ctx, `UPDATE review_cycles SET since = '2024-05-01T12:00:00' WHERE id = ?`, bad.ID)
	require.NoError(t, err)

	active, corrupt, err := s.ListActiveCycles(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, good.ID, active[0].ID)
	require.Len(t, corrupt, 1)
	assert.Equal(t, bad.ID, corrupt[0].ID)
}

func TestQuarantineCycle_Explicit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newCycle(3)
	require.NoError(t, s.CreateCycle(ctx, c))
	require.NoError(t, s.QuarantineCycle(ctx, c.ID, "manual"))

	_, err := s.GetCycle(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.QuarantineCycle(ctx, c.ID, "again"), ErrNotFound)
}

func TestPruneCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.now = func() time.Time { return t0 }
	old := newCycle(1)
	require.NoError(t, s.CreateCycle(ctx, old))
	old.Status = models.CycleStatusError
	require.NoError(t, s.UpdateCycle(ctx, old))
	stillActive := newCycle(2)
	require.NoError(t, s.CreateCycle(ctx, stillActive))

	s.now = func() time.Time { return t0.Add(48 * time.Hour) }
	recent := newCycle(3)
	require.NoError(t, s.CreateCycle(ctx, recent))
	recent.Status = models.CycleStatusReadyToMerge
	require.NoError(t, s.UpdateCycle(ctx, recent))

	n, err := s.PruneCycles(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, _, err := s.ListCycles(ctx, CycleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNewID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
