package memory

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ImprovementAttempt records one improvement cycle's outcome.
type ImprovementAttempt struct {
	ID           int64     `json:"id"`
	Cycle        int       `json:"cycle"`
	Branch       string    `json:"branch"`
	ChangedFiles []string  `json:"changed_files"`
	Merged       bool      `json:"merged"`
	TokensUsed   int       `json:"tokens_used"`
	Error        string    `json:"error"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveAttempt appends one improvement attempt.
func (s *Store) SaveAttempt(a ImprovementAttempt) error {
	files, err := json.Marshal(a.ChangedFiles)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO improvement_attempts (cycle, branch, changed_files, merged, tokens_used, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Cycle, a.Branch, string(files), a.Merged, a.TokensUsed, a.Error, fmtTime(time.Now()))
	return err
}

// RecentAttempts returns the last n attempts, most recent first.
func (s *Store) RecentAttempts(n int) ([]ImprovementAttempt, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle, branch, changed_files, merged, tokens_used, error, created_at
		FROM improvement_attempts ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImprovementAttempt
	for rows.Next() {
		var a ImprovementAttempt
		var files, created string
		if err := rows.Scan(&a.ID, &a.Cycle, &a.Branch, &files, &a.Merged, &a.TokensUsed, &a.Error, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(files), &a.ChangedFiles)
		a.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
		out = append(out, a)
	}
	return out, rows.Err()
}

// TokensUsedSince sums attempt token usage after the cutoff. The
// improvement loop's hourly budget gate reads this.
func (s *Store) TokensUsedSince(cutoff time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`
		SELECT SUM(tokens_used) FROM improvement_attempts WHERE created_at >= ?`,
		fmtTime(cutoff)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// AttemptsSince counts cycles after the cutoff, for the cycles-per-hour gate.
func (s *Store) AttemptsSince(cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM improvement_attempts WHERE created_at >= ?`,
		fmtTime(cutoff)).Scan(&n)
	return n, err
}
