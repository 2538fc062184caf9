package git

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prcycle/internal/models"
)

// fakeGH answers gh api calls from canned responses keyed by endpoint.
type fakeGH struct {
	responses map[string]string
	errs      map[string]error
	calls     [][]string
}

func (f *fakeGH) run(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	key := args[len(args)-1]
	if args[1] == "--method" {
		key = args[3]
	}
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if out, ok := f.responses[key]; ok {
		return []byte(out), nil
	}
	return []byte("[]"), nil
}

func TestGitHubClient_GetPR(t *testing.T) {
	gh := &fakeGH{responses: map[string]string{
		"repos/o/r/pulls/42": `{"number":42,"title":"Add thing","state":"closed","merged":true,"html_url":"https://github.com/o/r/pull/42","head":{"ref":"feature"}}`,
	}}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	pr, err := c.GetPR(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, PRStateMerged, pr.State)
	assert.Equal(t, "feature", pr.Branch)
}

func TestGitHubClient_GetPR_NotFound(t *testing.T) {
	gh := &fakeGH{errs: map[string]error{
		"repos/o/r/pulls/7": errors.New("gh api repos/o/r/pulls/7: HTTP 404: Not Found"),
	}}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	_, err := c.GetPR(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGitHubClient_ListReviews_SkipsPending(t *testing.T) {
	gh := &fakeGH{responses: map[string]string{
		"repos/o/r/pulls/1/reviews?per_page=100&page=1": `[
			{"id":10,"user":{"login":"gemini-code-assist[bot]"},"body":"LGTM","state":"APPROVED","submitted_at":"2024-05-01T12:00:00Z"},
			{"id":11,"user":{"login":"me"},"body":"","state":"PENDING","submitted_at":null}
		]`,
	}}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	items, err := c.ListReviews(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].ID)
	assert.Equal(t, "gemini-code-assist[bot]", items[0].Author)
	assert.Equal(t, models.FeedbackKindReview, items[0].Kind)
	assert.Equal(t, "APPROVED", items[0].ReviewState)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), items[0].CreatedAt)
}

func TestGitHubClient_ListReviewComments_Line(t *testing.T) {
	gh := &fakeGH{responses: map[string]string{
		"repos/o/r/pulls/1/comments?per_page=100&page=1": `[
			{"id":20,"user":{"login":"bot"},"body":"nit","created_at":"2024-05-01T12:00:00Z","path":"main.go","line":12},
			{"id":21,"user":{"login":"bot"},"body":"outdated","created_at":"2024-05-01T12:01:00Z","path":"main.go","line":null,"original_line":7}
		]`,
	}}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	items, err := c.ListReviewComments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "main.go", items[0].Path)
	assert.Equal(t, 12, items[0].Line)
	assert.Equal(t, 7, items[1].Line)
	assert.Equal(t, models.SourceInlineComment, items[1].Source)
}

func TestGitHubClient_ListIssueComments_Paginates(t *testing.T) {
	full := make([]map[string]any, githubPerPage)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range full {
		full[i] = map[string]any{
			"id":         i + 1,
			"user":       map[string]string{"login": "bot"},
			"body":       fmt.Sprintf("comment %d", i+1),
			"created_at": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}
	}
	page1, err := json.Marshal(full)
	require.NoError(t, err)

	gh := &fakeGH{responses: map[string]string{
		"repos/o/r/issues/5/comments?per_page=100&page=1": string(page1),
		"repos/o/r/issues/5/comments?per_page=100&page=2": `[{"id":999,"user":{"login":"bot"},"body":"last","created_at":"2024-05-02T00:00:00Z"}]`,
	}}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	items, err := c.ListIssueComments(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, items, githubPerPage+1)
	assert.Equal(t, int64(999), items[len(items)-1].ID)
	assert.Len(t, gh.calls, 2)
}

func TestGitHubClient_PostComment(t *testing.T) {
	gh := &fakeGH{}
	c := NewGitHubClientWithRunner("o/r", gh.run)

	require.NoError(t, c.PostComment(context.Background(), 3, "/gemini review"))
	require.Len(t, gh.calls, 1)
	joined := strings.Join(gh.calls[0], " ")
	assert.Contains(t, joined, "--method POST")
	assert.Contains(t, joined, "repos/o/r/issues/3/comments")
	assert.Contains(t, joined, "body=/gemini review")
}
