// Package verify checks local fixes against saved review feedback: it runs
// the project's tests and lists every item that points at a file.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/reviewer"
)

// DefaultTestCommand runs when no test command is configured.
var DefaultTestCommand = []string{"go", "test", "./..."}

// Result statuses.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusSkipped = "skipped"
	StatusCheck   = "verify_with_test"
)

// maxOutput bounds the test output kept in a result.
const maxOutput = 4000

// TestRun is the outcome of the test command.
type TestRun struct {
	Command  []string `json:"command"`
	Status   string   `json:"status"`
	ExitCode int      `json:"exit_code"`
	Output   string   `json:"output,omitempty"`
}

// Check is one file-anchored feedback item to confirm by hand.
type Check struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Author  string `json:"author,omitempty"`
	Excerpt string `json:"excerpt"`
	Status  string `json:"status"`
}

// Result is the verification report. Status is "success" when the tests
// pass and "error" otherwise.
type Result struct {
	Status   string  `json:"status"`
	Tests    TestRun `json:"tests"`
	File     string  `json:"file"`
	Checks   []Check `json:"checks"`
	Note     string  `json:"note,omitempty"`
	Passed   bool    `json:"passed"`
	NextStep string  `json:"next_step"`
}

// Verifier runs the test command and reads feedback files.
type Verifier struct {
	Dir     string
	Command []string
	exec    reviewer.Exec
}

// New returns a Verifier that runs command (or DefaultTestCommand) in dir.
func New(dir string, command []string) *Verifier {
	if len(command) == 0 {
		command = DefaultTestCommand
	}
	return &Verifier{Dir: dir, Command: command, exec: reviewer.RunCommand}
}

// WithExec replaces the process runner.
func (v *Verifier) WithExec(fn reviewer.Exec) *Verifier {
	v.exec = fn
	return v
}

// Run executes the tests, then lists the file-anchored items in file.
// A missing file only skips the item listing; an unparsable one is an error.
func (v *Verifier) Run(ctx context.Context, file string) (*Result, error) {
	res := &Result{File: file, Checks: []Check{}}

	tests, err := v.runTests(ctx)
	if err != nil {
		return nil, err
	}
	res.Tests = tests
	res.Passed = tests.Status == StatusPass
	res.Status = "error"
	if res.Passed {
		res.Status = "success"
	}

	items, err := Load(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Note = fmt.Sprintf("feedback file %s not found; item checks skipped", file)
	case err != nil:
		return nil, err
	default:
		res.Checks = Checks(items)
	}

	res.NextStep = nextStep(res)
	return res, nil
}

func (v *Verifier) runTests(ctx context.Context) (TestRun, error) {
	run := TestRun{Command: v.Command}
	stdout, stderr, err := v.exec(ctx, v.Dir, "", v.Command[0], v.Command[1:]...)
	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	var (
		notFound *exec.Error
		exitErr  *exec.ExitError
	)
	switch {
	case err == nil:
		run.Status = StatusPass
	case errors.As(err, &notFound):
		return run, fmt.Errorf("test command %q not found; set verify.test_command", v.Command[0])
	default:
		run.Status = StatusFail
		run.ExitCode = -1
		if errors.As(err, &exitErr) {
			run.ExitCode = exitErr.ExitCode()
		}
		run.Output = tail(reviewer.StripANSI(stdout+stderr), maxOutput)
	}
	return run, nil
}

// Load reads feedback items from a status report or a bare item array.
func Load(file string) ([]models.FeedbackItem, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []models.FeedbackItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return items, nil
	}
	var doc struct {
		Items         []models.FeedbackItem `json:"items"`
		InitialStatus *struct {
			Items []models.FeedbackItem `json:"items"`
		} `json:"initial_status"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if doc.InitialStatus != nil {
		return append(doc.InitialStatus.Items, doc.Items...), nil
	}
	return doc.Items, nil
}

// Checks lists the items that name a file, in input order.
func Checks(items []models.FeedbackItem) []Check {
	checks := []Check{}
	for _, it := range items {
		if it.Path == "" {
			continue
		}
		checks = append(checks, Check{
			Path:    it.Path,
			Line:    it.Line,
			Author:  it.Author,
			Excerpt: excerpt(it.Body, 60),
			Status:  StatusCheck,
		})
	}
	return checks
}

func nextStep(r *Result) string {
	if !r.Passed {
		return "Tests failed. Fix the failures before pushing, then run 'verify' again."
	}
	if len(r.Checks) == 0 {
		return "Tests pass. Commit and run 'safe_push', then 'trigger_review <pr_number>'."
	}
	return fmt.Sprintf("Tests pass. Confirm each of the %d listed item(s) is covered by a test, then commit and run 'safe_push'.", len(r.Checks))
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
