package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/agent/ports"
	"arlo/internal/bus"
	"arlo/internal/llm"
	"arlo/internal/planner"
	"arlo/internal/toolregistry"
)

func newPlan(tasks ...*planner.TaskSpec) *planner.Plan {
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = planner.StatusPending
		}
	}
	return &planner.Plan{ID: "p1", OriginalRequest: "the request", Tasks: tasks}
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	mock := llm.NewMock(llm.Reply("done"))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "first", Description: "do first", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "second", Description: "do second", Agent: "coder", DependsOn: []string{"t1"}},
	)
	e.Execute(context.Background(), plan, "")

	require.True(t, plan.Terminal())
	assert.Equal(t, planner.StatusDone, plan.Tasks[0].Status)
	assert.Equal(t, planner.StatusDone, plan.Tasks[1].Status)
	assert.False(t, plan.Tasks[1].StartedAt.Before(plan.Tasks[0].FinishedAt))
}

func TestExecuteDeadlockOnMissingDep(t *testing.T) {
	mock := llm.NewMock(llm.Reply("done"))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "orphan", Description: "d", Agent: "coder", DependsOn: []string{"t0"}},
	)
	e.Execute(context.Background(), plan, "")

	require.True(t, plan.Terminal())
	assert.Equal(t, planner.StatusFailed, plan.Tasks[0].Status)
	assert.Equal(t, "deadlock: unsatisfied deps [t0]", plan.Tasks[0].Error)
	assert.Zero(t, mock.Calls(), "deadlocked tasks never reach the provider")
}

func TestExecuteRunsReachableBeforeDeadlocking(t *testing.T) {
	mock := llm.NewMock(llm.Reply("done"))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "ok", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "stuck", Description: "d", Agent: "coder", DependsOn: []string{"t0"}},
	)
	e.Execute(context.Background(), plan, "")

	assert.Equal(t, planner.StatusDone, plan.Tasks[0].Status)
	assert.Equal(t, planner.StatusFailed, plan.Tasks[1].Status)
	assert.Contains(t, plan.Tasks[1].Error, "unsatisfied deps [t0]")
}

func TestExecuteFailedDepDeadlocksDependent(t *testing.T) {
	mock := llm.NewMock(llm.Fail(llm.NewPermanentError("broken")))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "a", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "b", Description: "d", Agent: "coder", DependsOn: []string{"t1"}},
	)
	e.Execute(context.Background(), plan, "")

	require.True(t, plan.Terminal())
	assert.Equal(t, planner.StatusFailed, plan.Tasks[0].Status)
	assert.Contains(t, plan.Tasks[0].Error, "broken")
	assert.Equal(t, planner.StatusFailed, plan.Tasks[1].Status)
	assert.Contains(t, plan.Tasks[1].Error, "unsatisfied deps [t1]")
	assert.True(t, plan.HasFailures())
}

func TestExecuteDependencyContext(t *testing.T) {
	mock := llm.NewMock(
		llm.Reply("first result"),
		llm.Reply("second result"),
	)
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "research", Description: "find docs", Agent: "researcher"},
		&planner.TaskSpec{ID: "t2", Name: "implement", Description: "write code", Agent: "coder", DependsOn: []string{"t1"}},
	)
	e.Execute(context.Background(), plan, "## Knowledge\nkey: value")

	require.Equal(t, 2, mock.Calls())
	system := mock.Requests[1].Messages[0].Content
	assert.Contains(t, system, "Original user request: the request")
	assert.Contains(t, system, "### research — OK\nfirst result")
	assert.Contains(t, system, "## Knowledge\nkey: value")
}

func TestExecuteTruncatesLongDepResults(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "big", Status: planner.StatusDone, Result: string(long)},
		&planner.TaskSpec{ID: "t2", Name: "next", DependsOn: []string{"t1"}},
	)

	ctx := dependencyContext(plan, plan.Tasks[1])
	assert.Contains(t, ctx, "### big — OK")
	assert.LessOrEqual(t, len(ctx), 3000+200)
	assert.Contains(t, ctx, "...")
}

func TestExecuteParallelBatch(t *testing.T) {
	p := &blockingProvider{delay: 50 * time.Millisecond}
	e := New(p, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "a", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "b", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t3", Name: "c", Description: "d", Agent: "coder"},
	)
	e.Execute(context.Background(), plan, "")

	require.True(t, plan.Terminal())
	assert.False(t, plan.HasFailures())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&p.peak), int32(2), "independent tasks overlap")
}

// blockingProvider holds each Complete call open so overlap is observable.
type blockingProvider struct {
	delay    time.Duration
	inFlight int32
	peak     int32
	mu       sync.Mutex
}

func (p *blockingProvider) Complete(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	p.mu.Lock()
	if n > p.peak {
		p.peak = n
	}
	p.mu.Unlock()
	time.Sleep(p.delay)
	atomic.AddInt32(&p.inFlight, -1)
	return &ports.CompletionResponse{Content: "done", FinishReason: ports.FinishStop}, nil
}

func (p *blockingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ports.ErrEmbeddingsUnavailable
}

func (p *blockingProvider) SupportsTools() bool { return false }

func (p *blockingProvider) Model() string { return "blocking" }

func TestExecuteSemaphoreCapsWidth(t *testing.T) {
	mock := llm.NewMock(llm.Reply("done"))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)
	e.SetMaxParallel(1)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "a", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "b", Description: "d", Agent: "coder"},
	)
	e.Execute(context.Background(), plan, "")

	require.True(t, plan.Terminal())
	assert.False(t, plan.HasFailures())
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	events := bus.New(0, nil)
	defer events.Close()

	var mu sync.Mutex
	var seen []string
	events.Subscribe(bus.Wildcard, func(ev bus.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	mock := llm.NewMock(llm.Reply("done"))
	e := New(mock, toolregistry.New(nil), events, nil, nil)

	plan := newPlan(&planner.TaskSpec{ID: "t1", Name: "a", Description: "d", Agent: "coder"})
	e.Execute(context.Background(), plan, "")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "plan.started", seen[0])
	assert.Contains(t, seen, "task.started")
	assert.Contains(t, seen, "task.completed")
	assert.Equal(t, "plan.completed", seen[len(seen)-1])
}

func TestExecuteSumsTokens(t *testing.T) {
	mock := llm.NewMock(llm.ReplyWithUsage("done", 100, 20))
	e := New(mock, toolregistry.New(nil), nil, nil, nil)

	plan := newPlan(
		&planner.TaskSpec{ID: "t1", Name: "a", Description: "d", Agent: "coder"},
		&planner.TaskSpec{ID: "t2", Name: "b", Description: "d", Agent: "coder", DependsOn: []string{"t1"}},
	)
	total := e.Execute(context.Background(), plan, "")

	assert.Equal(t, 240, total)
	assert.Equal(t, 120, plan.Tasks[0].TokensUsed)
	assert.Equal(t, 120, plan.Tasks[1].TokensUsed)
}
