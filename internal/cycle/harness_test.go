package cycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/gate"
	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/git/gittest"
	"github.com/joescharf/prcycle/internal/lock"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/reviewer"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

const (
	testRepo = "acme/widgets"
	mainBot  = "gemini-code-assist[bot]"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type scheduledItem struct {
	at   time.Time
	pr   int
	item models.FeedbackItem
	done bool
}

type fakeReviewer struct {
	body string
	err  error
	reqs []reviewer.Request
}

func (f *fakeReviewer) Name() string { return "fake" }

func (f *fakeReviewer) Review(_ context.Context, req reviewer.Request) (*reviewer.Review, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &reviewer.Review{Engine: "fake", Body: f.body}, nil
}

type harness struct {
	t        *testing.T
	clock    *timeutil.FakeClock
	platform *gittest.FakePlatform
	git      *gittest.FakeClient
	store    *store.SQLiteStore
	locks    *lock.Manager
	reviewer *fakeReviewer
	engine   *Engine
	sched    []*scheduledItem
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    timeutil.NewFakeClock(t0),
		platform: gittest.NewFakePlatform(testRepo),
		git:      gittest.NewFakeClient(),
		locks:    lock.NewManager(filepath.Join(t.TempDir(), "locks")),
		reviewer: &fakeReviewer{body: "main.go:1 consider a doc comment"},
	}
	h.platform.AddPR(42, git.PRStateOpen)
	// Comments land on the PR a moment after they are sent.
	h.platform.Now = func() time.Time { return h.clock.Now().Add(time.Second) }

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "review_cycles.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	h.store = s

	cfg := feedback.DefaultConfig()
	cfg.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	h.engine = &Engine{
		Repo:     testRepo,
		Path:     "/work",
		Store:    s,
		Locks:    h.locks,
		Feedback: feedback.NewClient(h.platform, cfg, h.clock),
		Git:      h.git,
		Gate:     gate.New(h.git, "/work"),
		Reviewer: h.reviewer,
		Clock:    h.clock,
		Config:   DefaultConfig(),
	}

	h.clock.OnSleep = func(now time.Time) {
		for _, s := range h.sched {
			if !s.done && !now.Before(s.at) {
				h.platform.AddItem(s.pr, s.item)
				s.done = true
			}
		}
	}
	return h
}

// postAt makes item appear on the PR once the clock reaches t0+offset.
func (h *harness) postAt(offset time.Duration, pr int, item models.FeedbackItem) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = t0.Add(offset)
	}
	h.sched = append(h.sched, &scheduledItem{at: t0.Add(offset), pr: pr, item: item})
}

func (h *harness) cycle(id string) *models.ReviewCycle {
	h.t.Helper()
	c, err := h.store.GetCycle(context.Background(), id)
	require.NoError(h.t, err)
	return c
}

// seedCycle stores an active cycle as a previous process would have left it.
func (h *harness) seedCycle(pr int, since time.Time, status models.CycleStatus) *models.ReviewCycle {
	h.t.Helper()
	c := &models.ReviewCycle{
		Repo:        testRepo,
		PRNumber:    pr,
		Since:       since,
		Mode:        models.ModeOnline,
		Status:      status,
		TriggeredAt: t0,
	}
	require.NoError(h.t, h.store.CreateCycle(context.Background(), c))
	return c
}

func mainReview(body, state string) models.FeedbackItem {
	return models.FeedbackItem{
		Author:      mainBot,
		Body:        body,
		Kind:        models.FeedbackKindReview,
		ReviewState: state,
		Source:      models.SourceReview,
	}
}

func mainComment(body string) models.FeedbackItem {
	return models.FeedbackItem{Author: mainBot, Body: body, Source: models.SourceIssueComment}
}

func otherComment(body string) models.FeedbackItem {
	return models.FeedbackItem{Author: "coderabbitai[bot]", Body: body, Source: models.SourceIssueComment}
}

func storeFilterAll() store.CycleFilter { return store.CycleFilter{} }
