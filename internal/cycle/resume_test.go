package cycle

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

func TestResume_None(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNone, res.Status)
	assert.Empty(t, res.Cycles)
	assert.Contains(t, res.Message, "No review cycles")
}

func TestResume_FromCheckpoint(t *testing.T) {
	h := newHarness(t)
	checkpoint := t0.Add(100 * time.Second)
	c := h.seedCycle(42, checkpoint, models.CycleStatusAwaitingMainReviewer)

	seen := otherComment("handled before the crash")
	seen.CreatedAt = t0.Add(50 * time.Second)
	h.platform.AddItem(42, seen)
	ready := mainReview("No issues found.", models.ReviewStateApproved)
	ready.CreatedAt = t0.Add(150 * time.Second)
	h.platform.AddItem(42, ready)
	h.clock.Advance(300 * time.Second)

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusResumed, res.Status)
	require.Len(t, res.Cycles, 1)
	got := res.Cycles[0]
	assert.Equal(t, c.ID, got.CycleID)
	assert.Equal(t, OutcomeReady, got.Outcome)
	assert.Equal(t, models.CycleStatusReadyToMerge, got.Status)
	assert.Equal(t, 1, got.NewItemCount)
	require.Len(t, got.Report.Items, 1)
	assert.Equal(t, "No issues found.", got.Report.Items[0].Body)

	// Resume never asks the bots again.
	assert.Empty(t, h.platform.Comments(42))
	assert.NoFileExists(t, h.locks.Path(testRepo, 42))

	again, err := h.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNone, again.Status)
}

func TestResume_TimeoutLeavesCycleActive(t *testing.T) {
	h := newHarness(t)
	c := h.seedCycle(42, t0, models.CycleStatusTriggered)

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Cycles, 1)
	assert.Equal(t, OutcomeTimeout, res.Cycles[0].Outcome)
	assert.Equal(t, models.CycleStatusPolling, h.cycle(c.ID).Status)
}

func TestResume_SkipsLiveLock(t *testing.T) {
	h := newHarness(t)
	h.seedCycle(42, t0, models.CycleStatusPolling)
	lk, err := h.locks.Acquire(testRepo, 42)
	require.NoError(t, err)
	defer lk.Release()

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusNone, res.Status)
	require.Len(t, res.Cycles, 1)
	assert.Contains(t, res.Cycles[0].Skipped, "locked")
	assert.Equal(t, 0, h.platform.ListCalls)
}

func TestResume_ClearsStaleLock(t *testing.T) {
	h := newHarness(t)
	h.seedCycle(42, t0, models.CycleStatusPolling)
	h.postAt(10*time.Second, 42, mainComment("No issues found"))

	path := h.locks.Path(testRepo, 42)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("2147483640\n"), 0o600))

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusResumed, res.Status)
	assert.Equal(t, OutcomeReady, res.Cycles[0].Outcome)
	assert.NoFileExists(t, path)
}

func TestResume_SkipsOfflineAndOtherRepos(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	offline := &models.ReviewCycle{Repo: testRepo, PRNumber: 5, Since: t0, Mode: models.ModeOffline, Status: models.CycleStatusTriggered, TriggeredAt: t0}
	require.NoError(t, h.store.CreateCycle(ctx, offline))
	other := &models.ReviewCycle{Repo: "acme/gadgets", PRNumber: 6, Since: t0, Mode: models.ModeOnline, Status: models.CycleStatusPolling, TriggeredAt: t0}
	require.NoError(t, h.store.CreateCycle(ctx, other))

	res, err := h.engine.Resume(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusNone, res.Status)
	require.Len(t, res.Cycles, 2)
	for _, rc := range res.Cycles {
		assert.NotEmpty(t, rc.Skipped)
	}
	assert.Equal(t, 0, h.platform.ListCalls)
}

func TestResume_RemoteFailureIsAnError(t *testing.T) {
	h := newHarness(t)
	c := h.seedCycle(42, t0, models.CycleStatusPolling)
	boom := errors.New("HTTP 503: service unavailable")
	h.platform.ListErrs = []error{boom, boom, boom}

	res, err := h.engine.Resume(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "remote_unavailable", res.ErrorKind)
	assert.Contains(t, res.Message, "service unavailable")
	require.Len(t, res.Cycles, 1)
	assert.Contains(t, res.Cycles[0].Error, "service unavailable")

	stored := h.cycle(c.ID)
	assert.Equal(t, models.CycleStatusPolling, stored.Status)
	assert.True(t, stored.Resumable())
}
