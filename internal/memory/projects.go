package memory

import (
	"database/sql"
	"fmt"
	"time"
)

// Project is a named logical workspace with an optional long-lived
// objective serviced by the autonomous loop.
type Project struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	Description         string    `json:"description"`
	WorkspacePath       string    `json:"workspace_path"`
	Objective           string    `json:"objective"`
	LastUsedAt          time.Time `json:"last_used_at"`
	LastAutonomousAt    time.Time `json:"last_autonomous_at"`
	AutonomousRunsToday int       `json:"autonomous_runs_today"`
	AutonomousRunsDate  string    `json:"autonomous_runs_date"`
	CreatedAt           time.Time `json:"created_at"`
}

const projectCols = `id, name, slug, description, workspace_path, objective,
	last_used_at, last_autonomous_at, autonomous_runs_today, autonomous_runs_date, created_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	var lastUsed, lastAuto sql.NullString
	var created string
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.WorkspacePath, &p.Objective,
		&lastUsed, &lastAuto, &p.AutonomousRunsToday, &p.AutonomousRunsDate, &created)
	if err != nil {
		return Project{}, err
	}
	p.LastUsedAt = parseTime(lastUsed)
	p.LastAutonomousAt = parseTime(lastAuto)
	p.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
	return p, nil
}

// CreateProject inserts a project. Slugs are unique.
func (s *Store) CreateProject(name, slug, description, workspacePath string) (Project, error) {
	res, err := s.db.Exec(`
		INSERT INTO projects (name, slug, description, workspace_path, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, slug, description, workspacePath, fmtTime(time.Now()))
	if err != nil {
		return Project{}, fmt.Errorf("create project %q: %w", slug, err)
	}
	id, _ := res.LastInsertId()
	return s.ProjectByID(id)
}

// ProjectByID fetches one project.
func (s *Store) ProjectByID(id int64) (Project, error) {
	return scanProject(s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ?`, id))
}

// ProjectBySlug fetches a project by its URL-safe slug. Returns
// sql.ErrNoRows when absent.
func (s *Store) ProjectBySlug(slug string) (Project, error) {
	return scanProject(s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE slug = ?`, slug))
}

// ListProjects returns every project ordered by name.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectCols + ` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject rewrites mutable fields.
func (s *Store) UpdateProject(p Project) error {
	_, err := s.db.Exec(`
		UPDATE projects SET name = ?, description = ?, workspace_path = ?, objective = ?
		WHERE id = ?`,
		p.Name, p.Description, p.WorkspacePath, p.Objective, p.ID)
	return err
}

// DeleteProject removes a project row. The workspace directory stays.
func (s *Store) DeleteProject(id int64) error {
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	return err
}

// TouchProjectUsed stamps last_used_at.
func (s *Store) TouchProjectUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE projects SET last_used_at = ? WHERE id = ?`, fmtTime(time.Now()), id)
	return err
}

// SetObjective updates a project's objective text.
func (s *Store) SetObjective(id int64, objective string) error {
	_, err := s.db.Exec(`UPDATE projects SET objective = ? WHERE id = ?`, objective, id)
	return err
}

// ProjectsWithObjectives returns projects with a non-empty objective,
// ordered by last_autonomous_at ascending (nulls first) for round-robin.
func (s *Store) ProjectsWithObjectives() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT ` + projectCols + ` FROM projects
		WHERE objective != ''
		ORDER BY last_autonomous_at IS NOT NULL, last_autonomous_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordAutonomousRun stamps last_autonomous_at and advances the daily
// counter, rolling it over when the date changes.
func (s *Store) RecordAutonomousRun(id int64, now time.Time) error {
	today := now.UTC().Format("2006-01-02")
	_, err := s.db.Exec(`
		UPDATE projects SET
			last_autonomous_at = ?,
			autonomous_runs_today = CASE WHEN autonomous_runs_date = ? THEN autonomous_runs_today + 1 ELSE 1 END,
			autonomous_runs_date = ?
		WHERE id = ?`,
		fmtTime(now), today, today, id)
	return err
}

// RunsOn returns the daily counter valid for the given date, treating a
// stale date as zero.
func (p Project) RunsOn(date time.Time) int {
	if p.AutonomousRunsDate == date.UTC().Format("2006-01-02") {
		return p.AutonomousRunsToday
	}
	return 0
}
