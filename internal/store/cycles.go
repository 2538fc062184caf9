package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/timeutil"
)

const cycleColumns = `id, repo, pr_number, since, mode, iteration, status, triggered_at, updated_at, last_error, superseded_by, checksum`

// terminalStatusList is the SQL literal list of terminal statuses.
const terminalStatusList = `('ready_to_merge', 'error', 'superseded')`

// cycleRow is a review_cycles row exactly as stored. Every column is read as
// text so that a malformed value surfaces as corruption, not a scan error.
type cycleRow struct {
	ID           string `json:"id"`
	Repo         string `json:"repo"`
	PRNumber     string `json:"pr_number"`
	Since        string `json:"since"`
	Mode         string `json:"mode"`
	Iteration    string `json:"iteration"`
	Status       string `json:"status"`
	TriggeredAt  string `json:"triggered_at"`
	UpdatedAt    string `json:"updated_at"`
	LastError    string `json:"last_error"`
	SupersededBy string `json:"superseded_by"`
	Checksum     string `json:"checksum"`
}

func encodeCycle(c *models.ReviewCycle) cycleRow {
	r := cycleRow{
		ID:           c.ID,
		Repo:         c.Repo,
		PRNumber:     strconv.Itoa(c.PRNumber),
		Since:        timeutil.FormatStorage(c.Since),
		Mode:         string(c.Mode),
		Iteration:    strconv.Itoa(c.Iteration),
		Status:       string(c.Status),
		TriggeredAt:  timeutil.FormatStorage(c.TriggeredAt),
		UpdatedAt:    timeutil.FormatStorage(c.UpdatedAt),
		LastError:    c.LastError,
		SupersededBy: c.SupersededBy,
	}
	r.Checksum = r.sum()
	return r
}

// sum is the blake3 digest of every column except the checksum itself.
func (r cycleRow) sum() string {
	fields := []string{
		r.ID, r.Repo, r.PRNumber, r.Since, r.Mode, r.Iteration,
		r.Status, r.TriggeredAt, r.UpdatedAt, r.LastError, r.SupersededBy,
	}
	digest := blake3.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(digest[:])
}

func (r cycleRow) decode() (*models.ReviewCycle, error) {
	if r.Checksum != r.sum() {
		return nil, errors.New("checksum mismatch")
	}
	pr, err := strconv.Atoi(r.PRNumber)
	if err != nil || pr <= 0 {
		return nil, fmt.Errorf("invalid pr_number %q", r.PRNumber)
	}
	iteration, err := strconv.Atoi(r.Iteration)
	if err != nil || iteration < 0 {
		return nil, fmt.Errorf("invalid iteration %q", r.Iteration)
	}
	mode, err := models.ParseMode(r.Mode)
	if err != nil {
		return nil, err
	}
	status, err := models.ParseCycleStatus(r.Status)
	if err != nil {
		return nil, err
	}
	since, err := timeutil.ParseUTC(r.Since)
	if err != nil {
		return nil, fmt.Errorf("since: %w", err)
	}
	triggeredAt, err := timeutil.ParseUTC(r.TriggeredAt)
	if err != nil {
		return nil, fmt.Errorf("triggered_at: %w", err)
	}
	updatedAt, err := timeutil.ParseUTC(r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &models.ReviewCycle{
		ID:           r.ID,
		Repo:         r.Repo,
		PRNumber:     pr,
		Since:        since,
		Mode:         mode,
		Iteration:    iteration,
		Status:       status,
		TriggeredAt:  triggeredAt,
		UpdatedAt:    updatedAt,
		LastError:    r.LastError,
		SupersededBy: r.SupersededBy,
	}, nil
}

func validateCycle(c *models.ReviewCycle) error {
	if c.Repo == "" {
		return errors.New("repo is required")
	}
	if c.PRNumber <= 0 {
		return fmt.Errorf("pr_number must be positive, got %d", c.PRNumber)
	}
	if _, err := models.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := models.ParseCycleStatus(string(c.Status)); err != nil {
		return err
	}
	if c.Since.IsZero() {
		return errors.New("since is required")
	}
	if c.Iteration < 0 {
		return fmt.Errorf("iteration must be non-negative, got %d", c.Iteration)
	}
	return nil
}

func (s *SQLiteStore) CreateCycle(ctx context.Context, c *models.ReviewCycle) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	now := s.now()
	if c.TriggeredAt.IsZero() {
		c.TriggeredAt = now
	}
	c.UpdatedAt = now
	c.Since = c.Since.UTC()
	c.TriggeredAt = c.TriggeredAt.UTC()
	if err := validateCycle(c); err != nil {
		return fmt.Errorf("create cycle: %w", err)
	}

	r := encodeCycle(c)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Repo, c.PRNumber, r.Since, r.Mode, c.Iteration, r.Status,
		r.TriggeredAt, r.UpdatedAt, r.LastError, r.SupersededBy, r.Checksum,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create cycle: %s#%d already has an active review cycle", c.Repo, c.PRNumber)
		}
		return fmt.Errorf("create cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*models.ReviewCycle, error) {
	rows, err := s.queryRows(ctx, `SELECT `+cycleColumns+` FROM review_cycles WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.decodeOrQuarantine(ctx, rows[0])
}

func (s *SQLiteStore) GetActiveCycle(ctx context.Context, repo string, prNumber int) (*models.ReviewCycle, error) {
	rows, err := s.queryRows(ctx,
		`SELECT `+cycleColumns+` FROM review_cycles
		WHERE repo = ? AND pr_number = ? AND status NOT IN `+terminalStatusList+`
		ORDER BY triggered_at DESC`, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("get active cycle: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no active cycle for %s#%d", ErrNotFound, repo, prNumber)
	}
	return s.decodeOrQuarantine(ctx, rows[0])
}

func (s *SQLiteStore) ListActiveCycles(ctx context.Context) ([]*models.ReviewCycle, []*StateCorruptionError, error) {
	return s.ListCycles(ctx, CycleFilter{ActiveOnly: true})
}

// ListCycles returns matching cycles, newest first. Corrupt rows are
// quarantined and reported separately instead of failing the listing.
func (s *SQLiteStore) ListCycles(ctx context.Context, filter CycleFilter) ([]*models.ReviewCycle, []*StateCorruptionError, error) {
	query := `SELECT ` + cycleColumns + ` FROM review_cycles WHERE 1=1`
	var args []any
	if filter.Repo != "" {
		query += ` AND repo = ?`
		args = append(args, filter.Repo)
	}
	if filter.PRNumber > 0 {
		query += ` AND pr_number = ?`
		args = append(args, filter.PRNumber)
	}
	if filter.ActiveOnly {
		query += ` AND status NOT IN ` + terminalStatusList
	}
	query += ` ORDER BY triggered_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.queryRows(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list cycles: %w", err)
	}

	var (
		cycles  []*models.ReviewCycle
		corrupt []*StateCorruptionError
	)
	for _, r := range rows {
		c, err := s.decodeOrQuarantine(ctx, r)
		var corruptErr *StateCorruptionError
		switch {
		case errors.As(err, &corruptErr):
			corrupt = append(corrupt, corruptErr)
		case err != nil:
			return nil, nil, err
		default:
			cycles = append(cycles, c)
		}
	}
	return cycles, corrupt, nil
}

// UpdateCycle checkpoints the mutable fields of c. The update is rejected
// when it would move since backwards or change an immutable field.
func (s *SQLiteStore) UpdateCycle(ctx context.Context, c *models.ReviewCycle) error {
	if err := validateCycle(c); err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	c.Since = c.Since.UTC()
	c.UpdatedAt = s.now()

	r := encodeCycle(c)
	result, err := s.db.ExecContext(ctx,
		`UPDATE review_cycles
		SET since = ?, iteration = ?, status = ?, updated_at = ?, last_error = ?, superseded_by = ?, checksum = ?
		WHERE id = ? AND repo = ? AND pr_number = ? AND mode = ? AND triggered_at = ? AND since <= ?`,
		r.Since, c.Iteration, r.Status, r.UpdatedAt, r.LastError, r.SupersededBy, r.Checksum,
		r.ID, r.Repo, c.PRNumber, r.Mode, r.TriggeredAt, r.Since,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("update cycle: %s#%d already has an active review cycle", c.Repo, c.PRNumber)
		}
		return fmt.Errorf("update cycle: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}

	current, err := s.GetCycle(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if c.Since.Before(current.Since) {
		return fmt.Errorf("update cycle %s: %w (stored %s, new %s)", c.ID, ErrWatermarkRetreat,
			timeutil.Format(current.Since), timeutil.Format(c.Since))
	}
	return fmt.Errorf("update cycle %s: immutable fields (repo, pr_number, mode, triggered_at) cannot change", c.ID)
}

// SupersedeCycle marks a cycle as replaced by a newer one.
func (s *SQLiteStore) SupersedeCycle(ctx context.Context, id, supersededBy string) error {
	c, err := s.GetCycle(ctx, id)
	if err != nil {
		return fmt.Errorf("supersede cycle: %w", err)
	}
	c.Status = models.CycleStatusSuperseded
	c.SupersededBy = supersededBy
	return s.UpdateCycle(ctx, c)
}

// PruneCycles deletes terminal cycles and quarantined rows last touched before the cutoff.
func (s *SQLiteStore) PruneCycles(ctx context.Context, before time.Time) (int64, error) {
	cutoff := timeutil.FormatStorage(before)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM review_cycles WHERE status IN `+terminalStatusList+` AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cycles: %w", err)
	}
	n, _ := result.RowsAffected()

	result, err = s.db.ExecContext(ctx, `DELETE FROM quarantined_cycles WHERE quarantined_at < ?`, cutoff)
	if err != nil {
		return n, fmt.Errorf("prune quarantined cycles: %w", err)
	}
	q, _ := result.RowsAffected()
	return n + q, nil
}

// QuarantineCycle moves a row out of review_cycles, keeping its raw columns.
func (s *SQLiteStore) QuarantineCycle(ctx context.Context, id, reason string) error {
	rows, err := s.queryRows(ctx, `SELECT `+cycleColumns+` FROM review_cycles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("quarantine cycle: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("quarantine cycle: %w: %s", ErrNotFound, id)
	}
	return s.quarantine(ctx, rows[0], reason)
}

func (s *SQLiteStore) ListQuarantined(ctx context.Context) ([]*models.QuarantinedCycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo, pr_number, reason, payload, quarantined_at FROM quarantined_cycles ORDER BY quarantined_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.QuarantinedCycle
	for rows.Next() {
		q := &models.QuarantinedCycle{}
		var at string
		if err := rows.Scan(&q.ID, &q.Repo, &q.PRNumber, &q.Reason, &q.Payload, &at); err != nil {
			return nil, fmt.Errorf("scan quarantined: %w", err)
		}
		q.QuarantinedAt, _ = timeutil.ParseUTC(at)
		out = append(out, q)
	}
	return out, rows.Err()
}

// queryRows reads every matching row before returning so the single
// connection is free for follow-up writes.
func (s *SQLiteStore) queryRows(ctx context.Context, query string, args ...any) ([]cycleRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []cycleRow
	for rows.Next() {
		var (
			r    cycleRow
			cols [12]sql.NullString
		)
		dest := make([]any, len(cols))
		for i := range cols {
			dest[i] = &cols[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		r.ID, r.Repo, r.PRNumber, r.Since = cols[0].String, cols[1].String, cols[2].String, cols[3].String
		r.Mode, r.Iteration, r.Status, r.TriggeredAt = cols[4].String, cols[5].String, cols[6].String, cols[7].String
		r.UpdatedAt, r.LastError, r.SupersededBy, r.Checksum = cols[8].String, cols[9].String, cols[10].String, cols[11].String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) decodeOrQuarantine(ctx context.Context, r cycleRow) (*models.ReviewCycle, error) {
	c, err := r.decode()
	if err == nil {
		return c, nil
	}
	if qErr := s.quarantine(ctx, r, err.Error()); qErr != nil {
		return nil, fmt.Errorf("cycle %s is corrupt (%v) and could not be quarantined: %w", r.ID, err, qErr)
	}
	pr, _ := strconv.Atoi(r.PRNumber)
	return nil, &StateCorruptionError{ID: r.ID, Repo: r.Repo, PRNumber: pr, Reason: err.Error()}
}

func (s *SQLiteStore) quarantine(ctx context.Context, r cycleRow, reason string) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	pr, _ := strconv.Atoi(r.PRNumber)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO quarantined_cycles (id, repo, pr_number, reason, payload, quarantined_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Repo, pr, reason, string(payload), timeutil.FormatStorage(s.now()),
	); err != nil {
		return fmt.Errorf("insert quarantined: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM review_cycles WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("delete corrupt cycle: %w", err)
	}
	return tx.Commit()
}
