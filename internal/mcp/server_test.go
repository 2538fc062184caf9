package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prcycle/internal/cycle"
	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/gate"
	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/git/gittest"
	"github.com/joescharf/prcycle/internal/lock"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestServer creates a Server over in-memory fakes and a temp database.
func newTestServer(t *testing.T) (*Server, *gittest.FakePlatform, *gittest.FakeClient, *store.SQLiteStore) {
	t.Helper()
	clock := timeutil.NewFakeClock(t0)
	platform := gittest.NewFakePlatform("acme/widgets")
	platform.AddPR(42, git.PRStateOpen)
	gc := gittest.NewFakeClient()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "review_cycles.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	cfg := feedback.DefaultConfig()
	cfg.Retry.Sleep = func(context.Context, time.Duration) error { return nil }

	e := &cycle.Engine{
		Repo:     "acme/widgets",
		Path:     "/work",
		Store:    s,
		Locks:    lock.NewManager(filepath.Join(t.TempDir(), "locks")),
		Feedback: feedback.NewClient(platform, cfg, clock),
		Git:      gc,
		Gate:     gate.New(gc, "/work"),
		Clock:    clock,
		Config:   cycle.DefaultConfig(),
	}
	return NewServer(e, "test"), platform, gc, s
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func TestNewServer(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleStatus(t *testing.T) {
	srv, platform, _, _ := newTestServer(t)
	platform.AddItem(42, models.FeedbackItem{Author: "gemini-code-assist[bot]", Body: "No issues found.", CreatedAt: t0.Add(time.Minute)})
	platform.AddItem(42, models.FeedbackItem{Author: "someone", Body: "old", CreatedAt: t0.Add(-time.Minute)})

	result, err := srv.handleStatus(context.Background(), callToolReq("prcycle_status", map[string]any{
		"pr_number": float64(42),
		"since":     "2026-05-01T12:00:00Z",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var rep feedback.Report
	resultJSON(t, result, &rep)
	assert.Equal(t, feedback.StatusSuccess, rep.Status)
	assert.Equal(t, 1, rep.NewItemCount)
	assert.True(t, rep.Ready)
	assert.Contains(t, rep.NextStep, "STOP")
}

func TestHandleStatus_NaiveSince(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleStatus(context.Background(), callToolReq("prcycle_status", map[string]any{
		"pr_number": float64(42),
		"since":     "2026-05-01T12:00:00",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid since")
}

func TestHandleStatus_MissingPR(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleStatus(context.Background(), callToolReq("prcycle_status", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleTriggerReview_Skip(t *testing.T) {
	srv, platform, _, _ := newTestServer(t)

	result, err := srv.handleTriggerReview(context.Background(), callToolReq("prcycle_trigger_review", map[string]any{
		"pr_number":    float64(42),
		"wait_seconds": float64(0),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var res cycle.TriggerResult
	resultJSON(t, result, &res)
	assert.Equal(t, cycle.StatusSuccess, res.Status)
	assert.Equal(t, cycle.DefaultTriggerComments, res.TriggeredBots)
	assert.Equal(t, cycle.StatusSkipped, res.InitialStatus.Status)
	assert.Len(t, platform.Comments(42), len(cycle.DefaultTriggerComments))
}

func TestHandleTriggerReview_Precondition(t *testing.T) {
	srv, platform, gc, _ := newTestServer(t)
	gc.Up = nil

	result, err := srv.handleTriggerReview(context.Background(), callToolReq("prcycle_trigger_review", map[string]any{
		"pr_number": float64(42),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var res cycle.TriggerResult
	resultJSON(t, result, &res)
	assert.Equal(t, cycle.StatusError, res.Status)
	assert.Equal(t, "missing_upstream", res.ErrorKind)
	assert.Empty(t, platform.Comments(42))
}

func TestHandleTriggerReview_BadMode(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleTriggerReview(context.Background(), callToolReq("prcycle_trigger_review", map[string]any{
		"pr_number": float64(42),
		"mode":      "cloud",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSafePush_Dirty(t *testing.T) {
	srv, _, gc, _ := newTestServer(t)
	gc.Dirty = true

	result, err := srv.handleSafePush(context.Background(), callToolReq("prcycle_safe_push", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var out map[string]string
	resultJSON(t, result, &out)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "uncommitted_changes", out["error_kind"])
}

func TestHandleSafePush_Pushes(t *testing.T) {
	srv, _, gc, _ := newTestServer(t)
	gc.Ahead = 1

	result, err := srv.handleSafePush(context.Background(), callToolReq("prcycle_safe_push", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var res gate.Result
	resultJSON(t, result, &res)
	assert.Equal(t, gate.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Pushed)
	require.Len(t, gc.Pushed, 1)
}

func TestHandleWait_Timeout(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleWait(context.Background(), callToolReq("prcycle_wait", map[string]any{
		"pr_number":       float64(42),
		"timeout_minutes": float64(1),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var rep feedback.Report
	resultJSON(t, result, &rep)
	assert.Equal(t, feedback.StatusTimeout, rep.Status)
	assert.True(t, rep.TimedOut)
}

func TestHandleResume_None(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleResume(context.Background(), callToolReq("prcycle_resume", nil))
	require.NoError(t, err)

	var res cycle.ResumeResult
	resultJSON(t, result, &res)
	assert.Equal(t, cycle.StatusNone, res.Status)
}

func TestHandleListCycles(t *testing.T) {
	srv, _, _, s := newTestServer(t)
	ctx := context.Background()
	for _, pr := range []int{1, 2} {
		require.NoError(t, s.CreateCycle(ctx, &models.ReviewCycle{
			Repo: "acme/widgets", PRNumber: pr, Since: t0, Mode: models.ModeOnline,
			Status: models.CycleStatusPolling, TriggeredAt: t0,
		}))
	}
	require.NoError(t, s.CreateCycle(ctx, &models.ReviewCycle{
		Repo: "acme/widgets", PRNumber: 3, Since: t0, Mode: models.ModeOnline,
		Status: models.CycleStatusReadyToMerge, TriggeredAt: t0,
	}))

	result, err := srv.handleListCycles(ctx, callToolReq("prcycle_list_cycles", nil))
	require.NoError(t, err)
	var out struct {
		Cycles []models.ReviewCycle `json:"cycles"`
	}
	resultJSON(t, result, &out)
	assert.Len(t, out.Cycles, 2)

	result, err = srv.handleListCycles(ctx, callToolReq("prcycle_list_cycles", map[string]any{"all": true}))
	require.NoError(t, err)
	resultJSON(t, result, &out)
	assert.Len(t, out.Cycles, 3)
}
