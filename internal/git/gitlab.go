package git

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/joescharf/prcycle/internal/models"
)

const gitlabPerPage = 100

// GitLabClient implements Platform against the GitLab REST API.
// Merge requests stand in for pull requests; approval system notes
// are reported as reviews.
type GitLabClient struct {
	client  *gitlab.Client
	project string
}

// NewGitLabClient returns a GitLabClient for a project path such as group/project.
// An empty baseURL targets gitlab.com.
func NewGitLabClient(baseURL, token, project string) (*GitLabClient, error) {
	var (
		client *gitlab.Client
		err    error
	)
	if baseURL == "" {
		client, err = gitlab.NewClient(token)
	} else {
		apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
		client, err = gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
	}
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLabClient{client: client, project: project}, nil
}

func (c *GitLabClient) Name() string { return "gitlab" }

func (c *GitLabClient) Repo() string { return c.project }

func (c *GitLabClient) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	mr, resp, err := c.client.MergeRequests.GetMergeRequest(c.project, int64(number), nil, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("MR !%d in %s: %w", number, c.project, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching merge request from gitlab: %w", err)
	}

	state := PRStateOpen
	switch mr.State {
	case "merged":
		state = PRStateMerged
	case "closed", "locked":
		state = PRStateClosed
	}
	return &PullRequest{
		Number: number,
		Title:  mr.Title,
		State:  state,
		Branch: mr.SourceBranch,
		Base:   mr.TargetBranch,
		URL:    mr.WebURL,
	}, nil
}

// ListReviews maps approval system notes to APPROVED / CHANGES_REQUESTED reviews.
func (c *GitLabClient) ListReviews(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	notes, err := c.listNotes(ctx, number)
	if err != nil {
		return nil, err
	}
	var items []models.FeedbackItem
	for _, n := range notes {
		if !n.System || n.CreatedAt == nil {
			continue
		}
		state := gitlabReviewState(n.Body)
		if state == "" {
			continue
		}
		items = append(items, models.FeedbackItem{
			ID:          int64(n.ID),
			Author:      n.Author.Username,
			CreatedAt:   n.CreatedAt.UTC(),
			Body:        n.Body,
			Kind:        models.FeedbackKindReview,
			ReviewState: state,
			Source:      models.SourceReview,
		})
	}
	return items, nil
}

func (c *GitLabClient) ListReviewComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	notes, err := c.listNotes(ctx, number)
	if err != nil {
		return nil, err
	}
	var items []models.FeedbackItem
	for _, n := range notes {
		if n.System || n.CreatedAt == nil || n.Position == nil {
			continue
		}
		items = append(items, models.FeedbackItem{
			ID:        int64(n.ID),
			Author:    n.Author.Username,
			CreatedAt: n.CreatedAt.UTC(),
			Body:      n.Body,
			Kind:      models.FeedbackKindComment,
			Path:      n.Position.NewPath,
			Line:      int(n.Position.NewLine),
			Source:    models.SourceInlineComment,
		})
	}
	return items, nil
}

func (c *GitLabClient) ListIssueComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	notes, err := c.listNotes(ctx, number)
	if err != nil {
		return nil, err
	}
	var items []models.FeedbackItem
	for _, n := range notes {
		if n.System || n.CreatedAt == nil || n.Position != nil {
			continue
		}
		items = append(items, models.FeedbackItem{
			ID:        int64(n.ID),
			Author:    n.Author.Username,
			CreatedAt: n.CreatedAt.UTC(),
			Body:      n.Body,
			Kind:      models.FeedbackKindComment,
			Source:    models.SourceIssueComment,
		})
	}
	return items, nil
}

func (c *GitLabClient) PostComment(ctx context.Context, number int, body string) error {
	_, _, err := c.client.Notes.CreateMergeRequestNote(c.project, int64(number), &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post note on MR !%d: %w", number, err)
	}
	return nil
}

func (c *GitLabClient) listNotes(ctx context.Context, number int) ([]*gitlab.Note, error) {
	opts := &gitlab.ListMergeRequestNotesOptions{
		ListOptions: gitlab.ListOptions{
			Page:    1,
			PerPage: gitlabPerPage,
		},
	}

	var notes []*gitlab.Note
	for {
		page, resp, err := c.client.Notes.ListMergeRequestNotes(c.project, int64(number), opts, gitlab.WithContext(ctx))
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("MR !%d in %s: %w", number, c.project, ErrNotFound)
			}
			return nil, fmt.Errorf("listing merge request notes: %w", err)
		}
		for _, n := range page {
			if n != nil {
				notes = append(notes, n)
			}
		}
		if resp.NextPage == 0 {
			return notes, nil
		}
		opts.Page = resp.NextPage
	}
}

func gitlabReviewState(body string) string {
	lower := strings.ToLower(strings.TrimSpace(body))
	switch {
	case strings.HasPrefix(lower, "approved this merge request"):
		return models.ReviewStateApproved
	case strings.HasPrefix(lower, "unapproved this merge request"):
		return models.ReviewStateDismissed
	case strings.HasPrefix(lower, "requested changes"):
		return models.ReviewStateChangesRequested
	}
	return ""
}
