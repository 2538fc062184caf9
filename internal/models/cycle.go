package models

import (
	"fmt"
	"time"
)

// Mode selects where a review is requested.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeLocal   Mode = "local"
	ModeOffline Mode = "offline"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOnline, ModeLocal, ModeOffline:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want online, local or offline)", s)
}

// CycleStatus is the lifecycle state of a review cycle.
type CycleStatus string

const (
	CycleStatusTriggered            CycleStatus = "triggered"
	CycleStatusPolling              CycleStatus = "polling"
	CycleStatusAwaitingMainReviewer CycleStatus = "awaiting_main_reviewer"
	CycleStatusRateLimited          CycleStatus = "rate_limited"
	CycleStatusReadyToMerge         CycleStatus = "ready_to_merge"
	CycleStatusError                CycleStatus = "error"
	CycleStatusSuperseded           CycleStatus = "superseded"
)

// ParseCycleStatus validates a status read back from storage.
func ParseCycleStatus(s string) (CycleStatus, error) {
	switch st := CycleStatus(s); st {
	case CycleStatusTriggered, CycleStatusPolling, CycleStatusAwaitingMainReviewer,
		CycleStatusRateLimited, CycleStatusReadyToMerge, CycleStatusError, CycleStatusSuperseded:
		return st, nil
	}
	return "", fmt.Errorf("unknown cycle status %q", s)
}

// IsTerminal reports whether the cycle has ended its active life.
func (s CycleStatus) IsTerminal() bool {
	switch s {
	case CycleStatusReadyToMerge, CycleStatusError, CycleStatusSuperseded:
		return true
	}
	return false
}

// TerminalStatuses lists every status that ends a cycle.
func TerminalStatuses() []CycleStatus {
	return []CycleStatus{CycleStatusReadyToMerge, CycleStatusError, CycleStatusSuperseded}
}

// ReviewCycle is the persisted state of one PR under review.
type ReviewCycle struct {
	ID           string      `json:"id"`
	Repo         string      `json:"repo"`
	PRNumber     int         `json:"pr_number"`
	Since        time.Time   `json:"since"` // feedback at or before this instant has been seen
	Mode         Mode        `json:"mode"`
	Iteration    int         `json:"iteration"`
	Status       CycleStatus `json:"status"`
	TriggeredAt  time.Time   `json:"triggered_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LastError    string      `json:"last_error,omitempty"`
	SupersededBy string      `json:"superseded_by,omitempty"`
}

// Resumable reports whether a poller may pick the cycle back up.
func (c *ReviewCycle) Resumable() bool {
	return !c.Status.IsTerminal() && c.Mode != ModeOffline
}

// QuarantinedCycle is a stored record that failed validation.
type QuarantinedCycle struct {
	ID            string    `json:"id"`
	Repo          string    `json:"repo"`
	PRNumber      int       `json:"pr_number"`
	Reason        string    `json:"reason"`
	Payload       string    `json:"payload"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}
