// Package errcollect captures ERROR-level log records emitted by the
// runtime's own components. The improvement loop consumes them to enter
// "fix mode"; its own records are discarded to prevent self-feedback.
package errcollect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"arlo/internal/logging"
)

const (
	ringSize      = 50
	dedupWindow   = 60 * time.Second
	defaultMaxAge = 30 * time.Minute
)

// ignoredOrigins never produce records. The improvement loop would
// otherwise react to its own failures forever.
var ignoredOrigins = map[string]bool{
	"improve": true,
}

// Record is one deduplicated error occurrence.
type Record struct {
	ID       int       `json:"id"`
	Time     time.Time `json:"time"`
	Origin   string    `json:"origin"`
	Message  string    `json:"message"`
	Stack    string    `json:"stack,omitempty"`
	Count    int       `json:"count"`
	Resolved bool      `json:"resolved"`
}

type state struct {
	mu      sync.Mutex
	records []*Record
	nextID  int
	index   *lru.Cache[string, *Record]
	now     func() time.Time
}

// Collector is a slog.Handler holding a bounded ring of recent errors.
// Copies produced by WithAttrs share the same underlying ring.
type Collector struct {
	st    *state
	attrs []slog.Attr
}

// New builds an empty collector.
func New() *Collector {
	index, _ := lru.New[string, *Record](ringSize)
	return &Collector{st: &state{index: index, nextID: 1, now: time.Now}}
}

// Enabled reports interest in ERROR and above only.
func (c *Collector) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

// Handle records the error, deduplicating repeats of the same origin and
// message within the dedup window.
func (c *Collector) Handle(_ context.Context, rec slog.Record) error {
	origin, stack := "", ""
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case logging.OriginKey:
			origin = a.Value.String()
		case "stack":
			stack = a.Value.String()
		}
		return true
	}
	for _, a := range c.attrs {
		collect(a)
	}
	rec.Attrs(collect)

	if origin == "" || ignoredOrigins[originRoot(origin)] {
		return nil
	}
	c.Add(origin, rec.Message, stack)
	return nil
}

// WithAttrs carries component attributes into the collector so origin
// survives slog's Logger.With chaining.
func (c *Collector) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, c.attrs...), attrs...)
	return &Collector{st: c.st, attrs: merged}
}

// WithGroup is accepted but ignored; the collector only reads flat attrs.
func (c *Collector) WithGroup(string) slog.Handler { return c }

// Add inserts an error directly, applying dedup and the ring bound.
func (c *Collector) Add(origin, message, stack string) {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := origin + "|" + message
	if existing, ok := s.index.Get(key); ok && !existing.Resolved && now.Sub(existing.Time) < dedupWindow {
		existing.Count++
		existing.Time = now
		return
	}

	rec := &Record{
		ID:      s.nextID,
		Time:    now,
		Origin:  origin,
		Message: message,
		Stack:   stack,
		Count:   1,
	}
	s.nextID++
	s.index.Add(key, rec)
	s.records = append(s.records, rec)
	if len(s.records) > ringSize {
		s.records = s.records[len(s.records)-ringSize:]
	}
}

// Unresolved returns unresolved records no older than maxAge, oldest first.
// Zero maxAge means the default 30 minutes.
func (c *Collector) Unresolved(maxAge time.Duration) []*Record {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-maxAge)
	var out []*Record
	for _, r := range s.records {
		if !r.Resolved && r.Time.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// HasActionable reports whether any unresolved recent error exists.
func (c *Collector) HasActionable() bool {
	return len(c.Unresolved(0)) > 0
}

// MarkAllResolved flags every record resolved. Called after a merged fix.
func (c *Collector) MarkAllResolved() {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		r.Resolved = true
	}
}

// FormatForPrompt renders the unresolved errors for the fix-mode prompt.
func (c *Collector) FormatForPrompt() string {
	records := c.Unresolved(0)
	if len(records) == 0 {
		return "No unresolved errors."
	}

	now := c.st.now().UTC()
	var b strings.Builder
	for _, r := range records {
		age := now.Sub(r.Time).Round(time.Second)
		fmt.Fprintf(&b, "[%d] %s (%s ago) x%d\n%s\n", r.ID, r.Origin, age, r.Count, r.Message)
		if r.Stack != "" {
			b.WriteString(r.Stack)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func originRoot(origin string) string {
	if i := strings.IndexByte(origin, '.'); i >= 0 {
		return origin[:i]
	}
	return origin
}
