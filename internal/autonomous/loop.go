// Package autonomous drives idle-time work: firing scheduled items on
// clock-aligned ticks and servicing long-lived project objectives.
package autonomous

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arlo/internal/logging"
	"arlo/internal/memory"
	"arlo/internal/orchestrator"
	"arlo/internal/scheduler"
	"arlo/internal/workspace"
)

const (
	// IntentAutonomous labels loop-originated runs for the runner.
	IntentAutonomous = "autonomous"

	defaultWarmup = time.Minute
	runTimeout    = 5 * time.Minute
	historyCount  = 3
	summaryChars  = 200
)

// Runner is the orchestrator surface the loop drives.
type Runner interface {
	Run(ctx context.Context, input, intent string) (string, error)
}

// Config carries the tick parameters.
type Config struct {
	Enabled     bool
	TickMinutes int
	DailyCap    int
}

// Loop fires scheduled items and processes project objectives.
type Loop struct {
	cfg       Config
	runner    Runner
	store     *memory.Store
	reminders *orchestrator.ReminderQueue
	improving func() bool
	log       *logging.Logger

	warmup time.Duration
	now    func() time.Time

	running atomic.Bool

	mu               sync.Mutex
	lastObjectiveRun time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New builds the loop. The improving probe gates ticks so the loop never
// runs concurrently with a self-mutation cycle; nil means never.
func New(cfg Config, runner Runner, store *memory.Store, reminders *orchestrator.ReminderQueue, improving func() bool, log *logging.Logger) *Loop {
	if improving == nil {
		improving = func() bool { return false }
	}
	return &Loop{
		cfg:       cfg,
		runner:    runner,
		store:     store,
		reminders: reminders,
		improving: improving,
		log:       logging.OrNop(log).Component("autonomous"),
		warmup:    defaultWarmup,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals shutdown and waits for the loop to exit. A tick in flight
// completes or hits its own run timeout first.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
	<-l.done
}

// Running reports whether a tick is in flight.
func (l *Loop) Running() bool { return l.running.Load() }

func (l *Loop) run() {
	defer close(l.done)
	if !l.cfg.Enabled {
		return
	}

	select {
	case <-l.stop:
		return
	case <-time.After(l.warmup):
	}

	for {
		next := scheduler.NextAlignedTick(l.cfg.TickMinutes, l.now())
		select {
		case <-l.stop:
			return
		case <-time.After(next.Sub(l.now())):
		}
		l.tick()
	}
}

// tick is one pass: fire due items, then at most one objective.
func (l *Loop) tick() {
	l.running.Store(true)
	defer l.running.Store(false)

	if l.improving() {
		l.log.Debug("improvement cycle in flight, skipping tick")
		return
	}
	now := l.now()
	l.fireDueItems(now)
	l.processObjective(now)
}

// fireDueItems runs every active item whose next fire has passed. The
// schedule advances even when the run fails, so a broken task cannot wedge
// the loop.
func (l *Loop) fireDueItems(now time.Time) {
	if l.store == nil {
		return
	}
	due, err := l.store.DueItems(now)
	if err != nil {
		l.log.Warn("due query failed", "err", err)
		return
	}
	for _, item := range due {
		switch item.Type {
		case memory.ItemReminder:
			if l.reminders != nil {
				l.reminders.Push(orchestrator.Reminder{
					ID:    item.ID,
					Title: item.Title,
					DueAt: item.NextRunAt,
				})
			}
			l.log.Info("reminder due", "id", item.ID, "title", item.Title)
		case memory.ItemTask:
			input := item.Description
			if input == "" {
				input = item.Title
			}
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			_, err := l.runner.Run(ctx, input, IntentAutonomous)
			cancel()
			if err != nil {
				l.log.Warn("scheduled task failed", "id", item.ID, "err", err)
			}
		}
		if err := l.store.MarkItemRun(item.ID, now); err != nil {
			l.log.Warn("item advance failed", "id", item.ID, "err", err)
		}
	}
}

// objectiveInterval tiers the gap between objective runs by how many
// projects are waiting: more objectives, tighter cadence.
func objectiveInterval(n int) time.Duration {
	switch {
	case n == 0:
		return 0
	case n <= 6:
		return 60 * time.Minute
	case n <= 14:
		return 30 * time.Minute
	case n <= 25:
		return 15 * time.Minute
	case n <= 40:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// processObjective services at most one project objective per tick,
// round-robin by least-recently-serviced, capped per project per day.
func (l *Loop) processObjective(now time.Time) {
	if l.store == nil {
		return
	}
	projects, err := l.store.ProjectsWithObjectives()
	if err != nil {
		l.log.Warn("objective query failed", "err", err)
		return
	}
	interval := objectiveInterval(len(projects))
	if interval == 0 {
		return
	}

	l.mu.Lock()
	last := l.lastObjectiveRun
	l.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < interval {
		return
	}

	for _, p := range projects {
		if p.RunsOn(now) >= l.cfg.DailyCap {
			continue
		}
		l.runObjective(now, p)
		return
	}
}

func (l *Loop) runObjective(now time.Time, p memory.Project) {
	l.mu.Lock()
	l.lastObjectiveRun = now
	l.mu.Unlock()

	if err := workspace.Set(p.WorkspacePath); err != nil {
		l.log.Warn("project workspace unavailable", "slug", p.Slug, "err", err)
		return
	}
	l.log.Info("processing objective", "slug", p.Slug)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	_, err := l.runner.Run(ctx, l.objectivePrompt(p), IntentAutonomous)
	cancel()
	if err != nil {
		l.log.Warn("objective run failed", "slug", p.Slug, "err", err)
	}
	if err := l.store.RecordAutonomousRun(p.ID, now); err != nil {
		l.log.Warn("run record failed", "slug", p.Slug, "err", err)
	}
}

// objectivePrompt includes the last few autonomous summaries so successive
// runs build on each other instead of repeating the same step.
func (l *Loop) objectivePrompt(p memory.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working autonomously on project %q.\nObjective: %s\n", p.Name, p.Objective)

	if history := l.recentAutonomousSummaries(p.Slug); len(history) > 0 {
		b.WriteString("\nYour previous autonomous sessions on this project:\n")
		for _, s := range history {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\nDo not repeat previous work; take the next concrete step.\n")
	} else {
		b.WriteString("\nTake one concrete step toward the objective.\n")
	}
	return b.String()
}

func (l *Loop) recentAutonomousSummaries(slug string) []string {
	convs, err := l.store.ConversationsWhere("project_slug", slug, 20)
	if err != nil {
		return nil
	}
	var out []string
	for _, c := range convs {
		if c.Metadata["intent"] != IntentAutonomous {
			continue
		}
		summary := c.AgentMsg
		if len(summary) > summaryChars {
			summary = summary[:summaryChars] + "..."
		}
		out = append(out, summary)
		if len(out) == historyCount {
			break
		}
	}
	return out
}
