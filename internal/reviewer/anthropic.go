package reviewer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxDiffBytes keeps the prompt within a comfortable context size.
const maxDiffBytes = 200_000

// AnthropicReviewer reviews the diff with the Anthropic Messages API.
type AnthropicReviewer struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicReviewer creates a reviewer with the given API key and model.
func NewAnthropicReviewer(apiKey, model string) *AnthropicReviewer {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicReviewer{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func (r *AnthropicReviewer) Name() string { return "anthropic" }

// buildPrompt constructs the system and user prompts for a code review.
func buildPrompt(req Request) (system string, user string) {
	system = `You are a meticulous code reviewer. Review the unified diff you are given and report problems.

Rules:
- Group findings by file, citing the file path and line where possible
- Classify each finding as critical, warning or suggestion
- Focus on correctness, error handling, concurrency, security and tests
- Do not restate the diff or praise the change
- If you find nothing worth changing, reply with exactly: No issues found.`

	var sb strings.Builder
	if req.Repo != "" {
		sb.WriteString("Repository: ")
		sb.WriteString(req.Repo)
		sb.WriteString("\n")
	}
	if req.PRNumber > 0 {
		fmt.Fprintf(&sb, "Pull request: #%d\n", req.PRNumber)
	}
	diff := req.Diff
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n... (diff truncated)"
	}
	sb.WriteString("\nReview this diff:\n\n")
	sb.WriteString(diff)
	user = sb.String()
	return
}

func (r *AnthropicReviewer) Review(ctx context.Context, req Request) (*Review, error) {
	if strings.TrimSpace(req.Diff) == "" {
		return nil, errors.New("nothing to review: diff is empty")
	}
	systemPrompt, userPrompt := buildPrompt(req)

	msg, err := r.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %s", MaskTokens(err.Error()))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	return &Review{Engine: r.Name(), Body: text}, nil
}
