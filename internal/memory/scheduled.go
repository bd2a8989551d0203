package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"arlo/internal/scheduler"
)

// Scheduled item types and statuses.
const (
	ItemTask     = "task"
	ItemReminder = "reminder"

	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// ScheduledItem is one recurrence-driven task or reminder.
type ScheduledItem struct {
	ID          int64          `json:"id"`
	Type        string         `json:"item_type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Schedule    scheduler.Spec `json:"schedule"`
	NextRunAt   time.Time      `json:"next_run_at"`
	Status      string         `json:"status"`
	LastRunAt   time.Time      `json:"last_run_at"`
	RunCount    int            `json:"run_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

const itemCols = `id, item_type, title, description, schedule, next_run_at, status, last_run_at, run_count, created_at`

func scanItem(row interface{ Scan(...any) error }) (ScheduledItem, error) {
	var it ScheduledItem
	var schedule, created string
	var nextRun, lastRun sql.NullString
	err := row.Scan(&it.ID, &it.Type, &it.Title, &it.Description, &schedule,
		&nextRun, &it.Status, &lastRun, &it.RunCount, &created)
	if err != nil {
		return ScheduledItem{}, err
	}
	if err := json.Unmarshal([]byte(schedule), &it.Schedule); err != nil {
		return ScheduledItem{}, fmt.Errorf("item %d: decode schedule: %w", it.ID, err)
	}
	it.NextRunAt = parseTime(nextRun)
	it.LastRunAt = parseTime(lastRun)
	it.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
	return it, nil
}

// CreateScheduledItem validates the spec, computes the first fire and
// stores the item. A spec with no future fire is rejected.
func (s *Store) CreateScheduledItem(itemType, title, description string, spec scheduler.Spec) (ScheduledItem, error) {
	if itemType != ItemTask && itemType != ItemReminder {
		return ScheduledItem{}, fmt.Errorf("unknown item type %q", itemType)
	}
	if err := spec.Validate(); err != nil {
		return ScheduledItem{}, err
	}
	next := scheduler.ComputeNextRun(spec, time.Now())
	if next.IsZero() {
		return ScheduledItem{}, fmt.Errorf("schedule has no future fire")
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return ScheduledItem{}, err
	}
	res, err := s.db.Exec(`
		INSERT INTO scheduled_items (item_type, title, description, schedule, next_run_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)`,
		itemType, title, description, string(raw), fmtTime(next), fmtTime(time.Now()))
	if err != nil {
		return ScheduledItem{}, err
	}
	id, _ := res.LastInsertId()
	return s.ScheduledItem(id)
}

// ScheduledItem fetches one item.
func (s *Store) ScheduledItem(id int64) (ScheduledItem, error) {
	return scanItem(s.db.QueryRow(`SELECT `+itemCols+` FROM scheduled_items WHERE id = ?`, id))
}

// DueItems returns active items with next_run_at <= now, soonest first.
func (s *Store) DueItems(now time.Time) ([]ScheduledItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemCols+` FROM scheduled_items
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at ASC`, fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpcomingItems returns active items ordered by next fire.
func (s *Store) UpcomingItems(limit int) ([]ScheduledItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemCols+` FROM scheduled_items
		WHERE status = 'active'
		ORDER BY next_run_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListScheduledItems returns every non-cancelled item, newest first.
func (s *Store) ListScheduledItems() ([]ScheduledItem, error) {
	rows, err := s.db.Query(`
		SELECT ` + itemCols + ` FROM scheduled_items
		WHERE status != 'cancelled'
		ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// MarkItemRun advances an item after a fire: bumps run_count, stamps
// last_run_at, and either sets the next fire or transitions to done when
// the schedule is exhausted. One statement, so the transition is atomic.
func (s *Store) MarkItemRun(id int64, now time.Time) error {
	it, err := s.ScheduledItem(id)
	if err != nil {
		return err
	}
	next := scheduler.ComputeNextRun(it.Schedule, now)
	if next.IsZero() {
		_, err = s.db.Exec(`
			UPDATE scheduled_items
			SET run_count = run_count + 1, last_run_at = ?, next_run_at = NULL, status = 'done'
			WHERE id = ?`, fmtTime(now), id)
		return err
	}
	_, err = s.db.Exec(`
		UPDATE scheduled_items
		SET run_count = run_count + 1, last_run_at = ?, next_run_at = ?
		WHERE id = ?`, fmtTime(now), fmtTime(next), id)
	return err
}

// SetItemStatus moves an item between active/paused/cancelled. Resuming
// recomputes the next fire; pausing and cancelling clear it.
func (s *Store) SetItemStatus(id int64, status string) error {
	switch status {
	case StatusActive:
		it, err := s.ScheduledItem(id)
		if err != nil {
			return err
		}
		next := scheduler.ComputeNextRun(it.Schedule, time.Now())
		if next.IsZero() {
			_, err = s.db.Exec(`UPDATE scheduled_items SET status = 'done', next_run_at = NULL WHERE id = ?`, id)
			return err
		}
		_, err = s.db.Exec(`UPDATE scheduled_items SET status = 'active', next_run_at = ? WHERE id = ?`, fmtTime(next), id)
		return err
	case StatusPaused, StatusCancelled:
		_, err := s.db.Exec(`UPDATE scheduled_items SET status = ?, next_run_at = NULL WHERE id = ?`, status, id)
		return err
	}
	return fmt.Errorf("unknown status %q", status)
}

func collectItems(rows *sql.Rows) ([]ScheduledItem, error) {
	var out []ScheduledItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
