// Package improve runs the self-improvement loop: idle-gated cycles that
// edit this runtime's own source on short-lived git branches and merge
// the result when the working tree actually changed.
package improve

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arlo/internal/errcollect"
	"arlo/internal/logging"
	"arlo/internal/memory"
	"arlo/internal/vcs"
	"arlo/internal/workspace"
)

const (
	// IntentImprovement labels loop-originated runs for the runner.
	IntentImprovement = "improvement"

	branchPrefix = "improve/"
	stateKey     = "improvement_loop_state"

	defaultWarmup     = 30 * time.Second
	defaultGatePeriod = time.Minute
	cycleTimeout      = 5 * time.Minute
	gitTimeout        = 30 * time.Second
)

const fixPrompt = `The runtime has logged unresolved errors:

%s

Diagnose the root cause and patch it. Make the smallest safe change that
fixes the error. Run the tests afterwards.`

const rotationPrompt = `The last improvement attempts produced no changes. Radically change
strategy: pick a different area of the codebase and make a small, safe,
concrete improvement there. Run the tests afterwards.`

const genericPrompt = `Review this codebase and identify one concrete, small improvement.
Implement it and verify it with the tests.`

// Runner is the orchestrator surface the loop drives.
type Runner interface {
	Run(ctx context.Context, input, intent string) (string, error)
	LastRunTokens() int
	LastUserActivity() time.Time
}

// Config carries the gate parameters.
type Config struct {
	Enabled                bool
	Interval               time.Duration
	MaxCyclesPerHour       int
	TokenBudgetPerHour     int
	IdleBefore             time.Duration
	NoImprovementThreshold int
}

// state is the durable part of the loop, persisted under stateKey so the
// counters survive restarts.
type state struct {
	Cycle                    int       `json:"cycle"`
	ConsecutiveNoImprovement int       `json:"consecutive_no_improvement"`
	LastRunAt                time.Time `json:"last_run_at"`
	LastCycleTokens          int       `json:"last_cycle_tokens"`
}

// Status is a read-only snapshot for the HTTP facade and the CLI.
type Status struct {
	Enabled                  bool      `json:"enabled"`
	Running                  bool      `json:"running"`
	Cycle                    int       `json:"cycle"`
	ConsecutiveNoImprovement int       `json:"consecutive_no_improvement"`
	LastRunAt                time.Time `json:"last_run_at"`
	LastCycleTokens          int       `json:"last_cycle_tokens"`
}

// Loop is the improvement loop.
type Loop struct {
	cfg       Config
	runner    Runner
	store     *memory.Store
	collector *errcollect.Collector
	log       *logging.Logger

	repoRoot string
	git      vcs.Git
	mainline string

	warmup     time.Duration
	gatePeriod time.Duration
	now        func() time.Time

	running atomic.Bool

	mu sync.Mutex
	st state

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New builds the loop anchored at repoRoot. Persisted counters are
// reloaded from the store.
func New(cfg Config, runner Runner, store *memory.Store, collector *errcollect.Collector, repoRoot string, log *logging.Logger) *Loop {
	l := &Loop{
		cfg:        cfg,
		runner:     runner,
		store:      store,
		collector:  collector,
		log:        logging.OrNop(log).Component("improve"),
		repoRoot:   repoRoot,
		git:        vcs.Git{Dir: repoRoot},
		mainline:   "main",
		warmup:     defaultWarmup,
		gatePeriod: defaultGatePeriod,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if store != nil {
		var st state
		if ok, err := store.GetKnowledge(stateKey, &st); err == nil && ok {
			l.st = st
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	if branch, err := l.git.CurrentBranch(ctx); err == nil && !strings.HasPrefix(branch, branchPrefix) {
		l.mainline = branch
	}
	return l
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals shutdown and waits for the loop to exit. An in-flight
// cycle finishes first.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
	<-l.done
}

// Running reports whether a cycle is in flight. The orchestrator and the
// autonomous loop consult this for mutual exclusion.
func (l *Loop) Running() bool { return l.running.Load() }

// Status snapshots the loop counters.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Enabled:                  l.cfg.Enabled,
		Running:                  l.running.Load(),
		Cycle:                    l.st.Cycle,
		ConsecutiveNoImprovement: l.st.ConsecutiveNoImprovement,
		LastRunAt:                l.st.LastRunAt,
		LastCycleTokens:          l.st.LastCycleTokens,
	}
}

func (l *Loop) run() {
	defer close(l.done)

	select {
	case <-l.stop:
		return
	case <-time.After(l.warmup):
	}

	ticker := time.NewTicker(l.gatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if l.gateOpen() {
				l.runCycle()
			}
		}
	}
}

// gateOpen evaluates every admission condition for one cycle.
func (l *Loop) gateOpen() bool {
	if !l.cfg.Enabled {
		return false
	}
	now := l.now()

	l.mu.Lock()
	lastRun := l.st.LastRunAt
	l.mu.Unlock()

	if !lastRun.IsZero() && now.Sub(lastRun) < l.cfg.Interval {
		return false
	}
	if l.store != nil {
		// Both hourly caps read persisted attempts, so a restart cannot
		// reset them.
		cycles, err := l.store.AttemptsSince(now.Add(-time.Hour))
		if err == nil && cycles >= l.cfg.MaxCyclesPerHour {
			return false
		}
		tokens, err := l.store.TokensUsedSince(now.Add(-time.Hour))
		if err == nil && tokens >= l.cfg.TokenBudgetPerHour {
			l.log.Debug("token budget exhausted", "tokens", tokens)
			return false
		}
	}

	// Unresolved errors bypass the idle requirement: a broken runtime
	// should be fixed even while the user is active.
	errorMode := l.collector != nil && l.collector.HasActionable()
	if !errorMode && now.Sub(l.runner.LastUserActivity()) < l.cfg.IdleBefore {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	if !l.git.IsRepo(ctx) {
		return false
	}
	branch, err := l.git.CurrentBranch(ctx)
	if err != nil {
		return false
	}
	if strings.HasPrefix(branch, branchPrefix) {
		// A crashed cycle left us on its branch; recover and wait a tick.
		l.log.Warn("found stale improvement branch, returning to mainline", "branch", branch)
		_ = l.git.Checkout(ctx, l.mainline)
		return false
	}
	return true
}

// runCycle executes one improvement attempt end to end.
func (l *Loop) runCycle() {
	l.running.Store(true)
	defer l.running.Store(false)

	now := l.now()
	l.mu.Lock()
	l.st.Cycle++
	cycle := l.st.Cycle
	rotation := l.st.ConsecutiveNoImprovement >= l.cfg.NoImprovementThreshold
	l.mu.Unlock()

	if err := workspace.Set(l.repoRoot); err != nil {
		l.log.Warn("cannot enter repo root", "err", err)
		return
	}

	gitCtx, cancelGit := context.WithTimeout(context.Background(), gitTimeout)
	defer cancelGit()

	branch := branchPrefix + now.UTC().Format("20060102-150405")
	if err := l.git.CreateBranch(gitCtx, branch); err != nil {
		l.log.Warn("branch create failed", "branch", branch, "err", err)
		return
	}

	fixMode := l.collector != nil && l.collector.HasActionable()
	prompt := genericPrompt
	switch {
	case fixMode:
		prompt = fmt.Sprintf(fixPrompt, l.collector.FormatForPrompt())
	case rotation:
		prompt = rotationPrompt
	}
	l.log.Info("improvement cycle starting", "cycle", cycle, "branch", branch, "fix_mode", fixMode)

	runCtx, cancelRun := context.WithTimeout(context.Background(), cycleTimeout)
	_, runErr := l.runner.Run(runCtx, prompt, IntentImprovement)
	cancelRun()
	tokens := l.runner.LastRunTokens()

	attempt := memory.ImprovementAttempt{
		Cycle:      cycle,
		Branch:     branch,
		TokensUsed: tokens,
	}
	if runErr != nil {
		attempt.Error = runErr.Error()
	}

	changed, err := l.git.ChangedFiles(gitCtx, l.mainline)
	if err != nil {
		l.log.Warn("diff failed", "err", err)
	}
	attempt.ChangedFiles = changed

	if len(changed) > 0 {
		merged := l.commitAndMerge(gitCtx, branch, cycle)
		attempt.Merged = merged
		if merged {
			l.mu.Lock()
			l.st.ConsecutiveNoImprovement = 0
			l.mu.Unlock()
			if fixMode && l.collector != nil {
				l.collector.MarkAllResolved()
			}
			l.log.Info("improvement merged", "cycle", cycle, "files", len(changed))
		}
	} else {
		l.mu.Lock()
		l.st.ConsecutiveNoImprovement++
		l.mu.Unlock()
		l.log.Info("no changes produced", "cycle", cycle)
	}

	// Cleanup runs unconditionally so a failed merge never strands HEAD
	// on the cycle branch.
	_ = l.git.Checkout(gitCtx, l.mainline)
	_ = l.git.DeleteBranch(gitCtx, branch)

	l.mu.Lock()
	l.st.LastRunAt = now
	l.st.LastCycleTokens = tokens
	st := l.st
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveAttempt(attempt); err != nil {
			l.log.Warn("attempt save failed", "err", err)
		}
		if err := l.store.SetKnowledge(stateKey, st); err != nil {
			l.log.Warn("state save failed", "err", err)
		}
	}
}

func (l *Loop) commitAndMerge(ctx context.Context, branch string, cycle int) bool {
	msg := fmt.Sprintf("improve: cycle %d", cycle)
	if err := l.git.CommitAll(ctx, msg); err != nil {
		l.log.Warn("commit failed", "err", err)
		return false
	}
	if err := l.git.Checkout(ctx, l.mainline); err != nil {
		l.log.Warn("checkout mainline failed", "err", err)
		return false
	}
	if err := l.git.Merge(ctx, branch); err != nil {
		l.log.Warn("merge failed", "branch", branch, "err", err)
		return false
	}
	return true
}
