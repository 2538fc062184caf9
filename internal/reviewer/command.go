package reviewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a local review run.
const DefaultTimeout = 10 * time.Minute

// Exec runs name with args in dir, feeding stdin, and returns stdout and stderr.
type Exec func(ctx context.Context, dir, stdin, name string, args ...string) (stdout, stderr string, err error)

// CommandReviewer runs gemini-cli (or a configured command) over the working tree.
type CommandReviewer struct {
	Settings Settings
	// Command overrides the gemini-cli invocation; the diff is passed on stdin.
	Command []string
	Timeout time.Duration
	exec    Exec
}

// NewCommandReviewer returns a reviewer that shells out.
func NewCommandReviewer(settings Settings, command []string, timeout time.Duration) *CommandReviewer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandReviewer{Settings: settings, Command: command, Timeout: timeout, exec: RunCommand}
}

// WithExec replaces the process runner.
func (r *CommandReviewer) WithExec(fn Exec) *CommandReviewer {
	r.exec = fn
	return r
}

func (r *CommandReviewer) Name() string { return "command" }

// Args returns the command line that will be run.
func (r *CommandReviewer) Args() []string {
	if len(r.Command) > 0 {
		return r.Command
	}
	return []string{
		"npx", "-y", "@google/gemini-cli@" + r.Settings.GeminiCLIChannel,
		"--approval-mode", "yolo",
		"--model", r.Settings.LocalModel,
		"--prompt", "/code-review",
	}
}

func (r *CommandReviewer) Review(ctx context.Context, req Request) (*Review, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := r.Args()
	stdin := ""
	if len(r.Command) > 0 {
		stdin = req.Diff
	}
	stdout, stderr, err := r.exec(ctx, req.Path, stdin, args[0], args[1:]...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("local reviewer timed out after %s", r.Timeout)
		}
		var notFound *exec.Error
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("local reviewer executable %q not found; install Node.js/npx or set reviewer.command", args[0])
		}
		return nil, fmt.Errorf("local reviewer failed: %s\nstderr: %s",
			MaskTokens(err.Error()), MaskTokens(strings.TrimSpace(StripANSI(stderr))))
	}

	body := strings.TrimSpace(StripANSI(stdout))
	if body == "" {
		return nil, errors.New("local reviewer produced no output")
	}
	return &Review{Engine: r.Name(), Body: body}, nil
}

// RunCommand runs name in dir with stdin and captures both output streams.
func RunCommand(ctx context.Context, dir, stdin, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
