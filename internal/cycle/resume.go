package cycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// ResumedCycle reports what happened to one active cycle during resume.
type ResumedCycle struct {
	CycleID      string             `json:"cycle_id"`
	Repo         string             `json:"repo"`
	PRNumber     int                `json:"pr_number"`
	Status       models.CycleStatus `json:"status"`
	Outcome      Outcome            `json:"outcome,omitempty"`
	NewItemCount int                `json:"new_item_count"`
	NextStep     string             `json:"next_step,omitempty"`
	Skipped      string             `json:"skipped,omitempty"`
	Error        string             `json:"error,omitempty"`
	Report       *feedback.Report   `json:"report,omitempty"`
}

// ResumeResult is the terminal result of a resume.
type ResumeResult struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Cycles      []ResumedCycle `json:"cycles"`
	Quarantined []string       `json:"quarantined,omitempty"`
}

// Resume re-enters the polling loop for every interrupted cycle of this
// repository, starting from the persisted watermark. No review is requested
// again. Cycles locked by a live process are skipped. If any cycle fails,
// the result has status "error" and carries the kind of the first failure.
func (e *Engine) Resume(ctx context.Context) (*ResumeResult, error) {
	cycles, corrupt, err := e.Store.ListActiveCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}

	res := &ResumeResult{Status: StatusNone, Cycles: []ResumedCycle{}}
	for _, ce := range corrupt {
		res.Quarantined = append(res.Quarantined, ce.Error())
		e.report().Warning("%v", ce)
	}

	var (
		resumed  int
		failures []error
	)
	for _, c := range cycles {
		entry := ResumedCycle{CycleID: c.ID, Repo: c.Repo, PRNumber: c.PRNumber, Status: c.Status}
		switch {
		case !c.Resumable():
			entry.Skipped = "offline cycles are never polled"
		case c.Repo != e.Repo:
			entry.Skipped = "cycle belongs to " + c.Repo + "; run resume from that repository"
		}
		if entry.Skipped != "" {
			res.Cycles = append(res.Cycles, entry)
			continue
		}

		if cleared, err := e.Locks.ClearStale(c.Repo, c.PRNumber); err != nil {
			e.report().Warning("%v", err)
		} else if cleared {
			e.report().Info("Cleared stale lock for PR #%d", c.PRNumber)
		}

		lr, err := e.resumeOne(ctx, c)
		if err != nil {
			entry.Status = c.Status
			if ErrorKind(err) == "locked" {
				entry.Skipped = err.Error()
			} else {
				entry.Error = err.Error()
				failures = append(failures, err)
			}
			res.Cycles = append(res.Cycles, entry)
			continue
		}

		resumed++
		entry.Status = c.Status
		entry.Outcome = lr.Outcome
		entry.NewItemCount = lr.Report.NewItemCount
		entry.NextStep = lr.Report.NextStep
		entry.Report = lr.Report
		res.Cycles = append(res.Cycles, entry)

		if lr.Outcome == OutcomeInterrupted {
			res.Status = StatusInterrupted
			res.Message = fmt.Sprintf("Interrupted while polling PR #%d; the last checkpoint is kept", c.PRNumber)
			return res, nil
		}
	}

	res.Message = resumeMessage(resumed, len(cycles), len(corrupt))
	switch {
	case len(failures) > 0:
		res.Status = StatusError
		res.ErrorKind = ErrorKind(failures[0])
		res.Message += fmt.Sprintf("; %d failed: %v", len(failures), failures[0])
	case resumed > 0:
		res.Status = StatusResumed
	}
	return res, nil
}

func (e *Engine) resumeOne(ctx context.Context, c *models.ReviewCycle) (*LoopResult, error) {
	lk, err := e.Locks.Acquire(c.Repo, c.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("PR #%d: %w", c.PRNumber, err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			e.report().Warning("%v", err)
		}
	}()

	e.report().Info("Resuming PR #%d (cycle %s) from %s", c.PRNumber, c.ID, timeutil.Format(c.Since))
	return e.Poll(ctx, c, c.PRNumber, LoopOptions{
		Timeout: e.triggerTimeout(),
		Policy:  StopOnMainReviewer,
	})
}

func resumeMessage(resumed, active, corrupt int) string {
	var parts []string
	switch {
	case active == 0:
		parts = append(parts, "No review cycles to resume")
	case resumed == 0:
		parts = append(parts, fmt.Sprintf("None of %d active cycle(s) could be resumed", active))
	default:
		parts = append(parts, fmt.Sprintf("Resumed %d of %d active cycle(s)", resumed, active))
	}
	if corrupt > 0 {
		parts = append(parts, fmt.Sprintf("%d corrupt record(s) quarantined", corrupt))
	}
	return strings.Join(parts, "; ")
}
