package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prcycle/internal/models"
)

// ErrNotFound is returned when no cycle matches a lookup.
var ErrNotFound = errors.New("review cycle not found")

// ErrWatermarkRetreat is returned when an update would move since backwards.
var ErrWatermarkRetreat = errors.New("since watermark would move backwards")

// StateCorruptionError reports a stored cycle that failed validation.
// The offending row has been moved to the quarantine table.
type StateCorruptionError struct {
	ID       string
	Repo     string
	PRNumber int
	Reason   string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("review cycle %s (%s#%d) is corrupt and was quarantined: %s", e.ID, e.Repo, e.PRNumber, e.Reason)
}

// CycleFilter narrows ListCycles.
type CycleFilter struct {
	Repo       string
	PRNumber   int
	ActiveOnly bool
	Limit      int
}

// Store defines the persistence interface for review cycles.
type Store interface {
	// Cycles
	CreateCycle(ctx context.Context, c *models.ReviewCycle) error
	GetCycle(ctx context.Context, id string) (*models.ReviewCycle, error)
	GetActiveCycle(ctx context.Context, repo string, prNumber int) (*models.ReviewCycle, error)
	ListActiveCycles(ctx context.Context) ([]*models.ReviewCycle, []*StateCorruptionError, error)
	ListCycles(ctx context.Context, filter CycleFilter) ([]*models.ReviewCycle, []*StateCorruptionError, error)
	UpdateCycle(ctx context.Context, c *models.ReviewCycle) error
	SupersedeCycle(ctx context.Context, id, supersededBy string) error
	PruneCycles(ctx context.Context, before time.Time) (int64, error)

	// Quarantine
	QuarantineCycle(ctx context.Context, id, reason string) error
	ListQuarantined(ctx context.Context) ([]*models.QuarantinedCycle, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
