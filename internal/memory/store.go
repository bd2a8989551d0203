// Package memory is the durable layer: a single-writer SQLite store for
// conversations, tasks, knowledge, projects, improvement attempts and
// scheduled items, plus a vector index for semantic recall.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TEXT NOT NULL,
    user_msg    TEXT NOT NULL,
    agent_msg   TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL,
    agent       TEXT NOT NULL DEFAULT '',
    input       TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    name                  TEXT NOT NULL,
    slug                  TEXT NOT NULL UNIQUE,
    description           TEXT NOT NULL DEFAULT '',
    workspace_path        TEXT NOT NULL,
    objective             TEXT NOT NULL DEFAULT '',
    last_used_at          TEXT,
    last_autonomous_at    TEXT,
    autonomous_runs_today INTEGER NOT NULL DEFAULT 0,
    autonomous_runs_date  TEXT NOT NULL DEFAULT '',
    created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS improvement_attempts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle         INTEGER NOT NULL,
    branch        TEXT NOT NULL,
    changed_files TEXT NOT NULL DEFAULT '[]',
    merged        INTEGER NOT NULL DEFAULT 0,
    tokens_used   INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    item_type   TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    schedule    TEXT NOT NULL,
    next_run_at TEXT,
    status      TEXT NOT NULL DEFAULT 'active',
    last_run_at TEXT,
    run_count   INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_due
    ON scheduled_items(next_run_at) WHERE status = 'active';
`

// Store wraps the SQLite handle. SQLite is single-writer; the connection
// pool is capped to one to serialize mutations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

const timeLayout = time.RFC3339

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Conversation is one persisted user/assistant exchange.
type Conversation struct {
	ID       int64          `json:"id"`
	Time     time.Time      `json:"ts"`
	UserMsg  string         `json:"user_msg"`
	AgentMsg string         `json:"agent_msg"`
	Metadata map[string]any `json:"metadata"`
}

// SaveConversation appends one exchange.
func (s *Store) SaveConversation(userMsg, agentMsg string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (ts, user_msg, agent_msg, metadata) VALUES (?, ?, ?, ?)`,
		fmtTime(time.Now()), userMsg, agentMsg, string(meta),
	)
	return err
}

// RecentConversations returns the last n exchanges, most recent last.
func (s *Store) RecentConversations(n int) ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, ts, user_msg, agent_msg, metadata FROM conversations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var ts, meta string
		if err := rows.Scan(&c.ID, &ts, &c.UserMsg, &c.AgentMsg, &meta); err != nil {
			return nil, err
		}
		c.Time = parseTime(sql.NullString{String: ts, Valid: true})
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
		out = append(out, c)
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// ConversationsWhere returns up to n conversations whose metadata matches
// the given key/value, most recent first.
func (s *Store) ConversationsWhere(key, value string, n int) ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, ts, user_msg, agent_msg, metadata
		 FROM conversations
		 WHERE json_extract(metadata, '$.'||?) = ?
		 ORDER BY id DESC LIMIT ?`, key, value, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var ts, meta string
		if err := rows.Scan(&c.ID, &ts, &c.UserMsg, &c.AgentMsg, &meta); err != nil {
			return nil, err
		}
		c.Time = parseTime(sql.NullString{String: ts, Valid: true})
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TaskRecord mirrors one plan task's durable state.
type TaskRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Agent     string    `json:"agent"`
	Input     string    `json:"input"`
	Result    string    `json:"result"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertTask writes a task's state, inserting on first sight.
func (s *Store) UpsertTask(t TaskRecord) error {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, name, status, agent, input, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			agent = excluded.agent,
			input = excluded.input,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Status, t.Agent, t.Input, t.Result, t.Error, now, now)
	return err
}

// RecentTasks returns the last n tasks by update time, most recent first.
func (s *Store) RecentTasks(n int) ([]TaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, name, status, agent, input, result, error, created_at, updated_at
		 FROM tasks ORDER BY updated_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Agent, &t.Input, &t.Result, &t.Error, &created, &updated); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
		t.UpdatedAt = parseTime(sql.NullString{String: updated, Valid: true})
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetKnowledge writes a knowledge key. Values are stored as JSON.
func (s *Store) SetKnowledge(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal knowledge %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO knowledge (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), fmtTime(time.Now()))
	return err
}

// GetKnowledge reads a knowledge key into out. Returns false when absent.
func (s *Store) GetKnowledge(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM knowledge WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), out)
}

// AllKnowledge returns every key with its raw JSON value.
func (s *Store) AllKnowledge() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM knowledge ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
