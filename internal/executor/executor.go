// Package executor runs plan DAGs: ready-set scheduling, parallel batches
// under a semaphore, dependency context threading, deadlock detection and
// best-effort task persistence.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"arlo/internal/agent"
	"arlo/internal/agent/ports"
	"arlo/internal/bus"
	"arlo/internal/logging"
	"arlo/internal/memory"
	"arlo/internal/planner"
)

const (
	// DefaultMaxParallel caps one batch's width.
	DefaultMaxParallel = 5

	resultTruncateLen = 3000
)

// Executor drives a plan to a terminal state.
type Executor struct {
	provider    ports.Provider
	registry    ports.ToolRegistry
	events      *bus.Bus
	store       *memory.Store
	log         *logging.Logger
	maxParallel int

	agentOpts []agent.Option
}

// New builds an executor. The store may be nil; persistence is best
// effort either way.
func New(provider ports.Provider, registry ports.ToolRegistry, events *bus.Bus, store *memory.Store, log *logging.Logger) *Executor {
	return &Executor{
		provider:    provider,
		registry:    registry,
		events:      events,
		store:       store,
		log:         logging.OrNop(log).Component("executor"),
		maxParallel: DefaultMaxParallel,
	}
}

// SetMaxParallel overrides the batch width cap.
func (e *Executor) SetMaxParallel(n int) {
	if n > 0 {
		e.maxParallel = n
	}
}

// SetAgentOptions forwards options to every agent the executor builds.
func (e *Executor) SetAgentOptions(opts ...agent.Option) {
	e.agentOpts = opts
}

// Execute mutates the plan in place until every task is done or failed.
// Returns the total tokens consumed across the plan's agent runs.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, memoryContext string) int {
	e.publish("plan.started", map[string]any{"plan_id": plan.ID, "tasks": len(plan.Tasks)})

	completed := map[string]bool{}
	tokens := 0

	for !plan.Terminal() {
		ready := readyTasks(plan, completed)

		if len(ready) == 0 {
			e.failDeadlocked(plan, completed)
			break
		}

		if len(ready) == 1 {
			tokens += e.runTask(ctx, plan, ready[0], memoryContext)
		} else {
			tokens += e.runBatch(ctx, plan, ready, memoryContext)
		}

		for _, t := range ready {
			if t.Status == planner.StatusDone {
				completed[t.ID] = true
			}
		}
	}

	e.publish("plan.completed", map[string]any{
		"plan_id":      plan.ID,
		"has_failures": plan.HasFailures(),
		"tokens_used":  tokens,
	})
	return tokens
}

func readyTasks(plan *planner.Plan, completed map[string]bool) []*planner.TaskSpec {
	var ready []*planner.TaskSpec
	for _, t := range plan.Tasks {
		if t.Status != planner.StatusPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// failDeadlocked closes out a plan whose ready-set is empty while pending
// tasks remain: each one fails naming its unsatisfied dependencies.
func (e *Executor) failDeadlocked(plan *planner.Plan, completed map[string]bool) {
	for _, t := range plan.Tasks {
		if t.Status != planner.StatusPending {
			continue
		}
		var unsatisfied []string
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				unsatisfied = append(unsatisfied, dep)
			}
		}
		sort.Strings(unsatisfied)
		t.Status = planner.StatusFailed
		t.Error = fmt.Sprintf("deadlock: unsatisfied deps [%s]", strings.Join(unsatisfied, ", "))
		t.FinishedAt = time.Now().UTC()
		e.log.Error("task deadlocked", "task", t.ID, "deps", unsatisfied)
		e.publish("task.failed", map[string]any{"plan_id": plan.ID, "task_id": t.ID, "error": t.Error})
		e.persist(plan, t)
	}
}

func (e *Executor) runBatch(ctx context.Context, plan *planner.Plan, batch []*planner.TaskSpec, memoryContext string) int {
	sem := semaphore.NewWeighted(int64(e.maxParallel))
	var wg sync.WaitGroup
	var mu sync.Mutex
	tokens := 0

	for _, t := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			t.Status = planner.StatusFailed
			t.Error = err.Error()
			t.FinishedAt = time.Now().UTC()
			continue
		}
		wg.Add(1)
		go func(t *planner.TaskSpec) {
			defer wg.Done()
			defer sem.Release(1)
			n := e.runTask(ctx, plan, t, memoryContext)
			mu.Lock()
			tokens += n
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return tokens
}

// runTask executes one task with an agent of its role (generalist when the
// role is unknown) and mirrors the result onto the task.
func (e *Executor) runTask(ctx context.Context, plan *planner.Plan, t *planner.TaskSpec, memoryContext string) int {
	t.Status = planner.StatusRunning
	t.StartedAt = time.Now().UTC()
	e.publish("task.started", map[string]any{"plan_id": plan.ID, "task_id": t.ID, "agent": t.Agent})

	depContext := dependencyContext(plan, t)
	fullContext := depContext
	if memoryContext != "" {
		fullContext = memoryContext + "\n\n" + depContext
	}

	role := t.Agent
	if !agent.KnownRole(role) {
		role = agent.RoleGeneralist
	}
	a := agent.New(role, e.provider, e.registry, e.log, e.agentOpts...)

	res := a.Run(ctx, agent.Context{
		TaskID:          t.ID,
		TaskDescription: t.Description,
		MemoryContext:   fullContext,
	})

	t.FinishedAt = time.Now().UTC()
	t.TokensUsed = res.TokensUsed
	if res.Success {
		t.Status = planner.StatusDone
		t.Result = res.Output
		e.publish("task.completed", map[string]any{"plan_id": plan.ID, "task_id": t.ID})
	} else {
		t.Status = planner.StatusFailed
		t.Error = res.Error
		e.log.Error("task failed", "task", t.ID, "agent", t.Agent, "err", res.Error)
		e.publish("task.failed", map[string]any{"plan_id": plan.ID, "task_id": t.ID, "error": res.Error})
	}

	e.persist(plan, t)
	return res.TokensUsed
}

// dependencyContext renders predecessor outcomes for a task's agent:
// the original request first, then one section per dependency.
func dependencyContext(plan *planner.Plan, t *planner.TaskSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original user request: %s", plan.OriginalRequest)

	for _, depID := range t.DependsOn {
		dep := plan.Task(depID)
		if dep == nil {
			continue
		}
		switch dep.Status {
		case planner.StatusDone:
			fmt.Fprintf(&b, "\n\n### %s — OK\n%s", dep.Name, truncate(dep.Result, resultTruncateLen))
		case planner.StatusFailed:
			fmt.Fprintf(&b, "\n\n### %s — FAILED\nError: %s", dep.Name, dep.Error)
		}
	}
	return b.String()
}

// persist is best effort: storage failures never fail the task.
func (e *Executor) persist(plan *planner.Plan, t *planner.TaskSpec) {
	if e.store == nil {
		return
	}
	err := e.store.UpsertTask(memory.TaskRecord{
		ID:     t.ID,
		Name:   t.Name,
		Status: t.Status,
		Agent:  t.Agent,
		Input:  t.Description,
		Result: t.Result,
		Error:  t.Error,
	})
	if err != nil {
		e.log.Warn("task persist failed", "task", t.ID, "err", err)
	}
}

func (e *Executor) publish(eventType string, payload map[string]any) {
	if e.events != nil {
		e.events.Publish(eventType, payload)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
