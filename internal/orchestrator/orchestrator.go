// Package orchestrator is the front door of the runtime: it owns the
// stores, the bus, the background loops and the request pipeline that
// turns user input into agent work.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arlo/internal/agent"
	"arlo/internal/agent/ports"
	"arlo/internal/bus"
	"arlo/internal/errcollect"
	"arlo/internal/executor"
	"arlo/internal/logging"
	"arlo/internal/memory"
	"arlo/internal/planner"
	"arlo/internal/toolregistry"
	"arlo/internal/workspace"
)

// Request intents. User requests get the activity stamp and the
// improvement-loop gate; loop-originated requests bypass both.
const (
	IntentUser        = "user"
	IntentImprovement = "improvement"
	IntentAutonomous  = "autonomous"
)

const (
	directModeMaxLen    = 500
	improvementWaitPoll = time.Second
	improvementWaitMax  = 30 * time.Second

	synthesisPrompt = `You have results from multiple specialized agents working in parallel.
Synthesize everything into ONE clear, structured, useful answer for the user.
Do not repeat content unnecessarily. Be direct. Use markdown.`
)

var projectMentionRe = regexp.MustCompile(`(?i)(?:^|\s)#([a-z0-9][a-z0-9-]*)`)

// multiStepCues flag requests that need a plan even when short.
var multiStepCues = []string{"and then", "step 1", "step 2"}

// multiStepWords are matched on word boundaries.
var multiStepWords = []string{"then", "first", "also"}

var numberedListRe = regexp.MustCompile(`(?m)(^|\s)[12]\.\s`)

// Loop is a background worker the orchestrator owns.
type Loop interface {
	Start()
	Stop()
	Running() bool
}

// Orchestrator routes requests through project switching, memory context,
// direct or planned execution, synthesis and persistence.
type Orchestrator struct {
	provider       ports.Provider
	store          *memory.Store
	vectors        *memory.Vectors
	contextBuilder *memory.ContextBuilder
	registry       *toolregistry.Registry
	planner        *planner.Planner
	exec           *executor.Executor
	events         *bus.Bus
	collector      *errcollect.Collector
	log            *logging.Logger

	session   *Session
	reminders *ReminderQueue

	maxIterations int

	improveLoop Loop
	autoLoop    Loop

	mu            sync.RWMutex
	lastActivity  time.Time
	lastRunTokens atomic.Int64
}

// Deps carries everything New wires together. Vectors and Collector may
// be nil.
type Deps struct {
	Provider       ports.Provider
	Store          *memory.Store
	Vectors        *memory.Vectors
	ContextBuilder *memory.ContextBuilder
	Registry       *toolregistry.Registry
	Events         *bus.Bus
	Collector      *errcollect.Collector
	Logger         *logging.Logger
	MaxIterations  int
	MaxParallel    int
}

// New assembles an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	log := logging.OrNop(d.Logger)
	o := &Orchestrator{
		provider:       d.Provider,
		store:          d.Store,
		vectors:        d.Vectors,
		contextBuilder: d.ContextBuilder,
		registry:       d.Registry,
		planner:        planner.New(d.Provider, log),
		events:         d.Events,
		collector:      d.Collector,
		log:            log.Component("orchestrator"),
		session:        &Session{},
		reminders:      &ReminderQueue{},
		maxIterations:  d.MaxIterations,
		lastActivity:   time.Now(),
	}
	o.exec = executor.New(d.Provider, d.Registry, d.Events, d.Store, log)
	if d.MaxParallel > 0 {
		o.exec.SetMaxParallel(d.MaxParallel)
	}
	if d.MaxIterations > 0 {
		o.exec.SetAgentOptions(agent.WithMaxIterations(d.MaxIterations))
	}
	return o
}

// AttachImprovementLoop hands the improvement loop to the orchestrator,
// which owns its lifecycle from then on.
func (o *Orchestrator) AttachImprovementLoop(l Loop) { o.improveLoop = l }

// AttachAutonomousLoop hands the autonomous loop to the orchestrator.
func (o *Orchestrator) AttachAutonomousLoop(l Loop) { o.autoLoop = l }

// Start launches the attached background loops.
func (o *Orchestrator) Start() {
	if o.improveLoop != nil {
		o.improveLoop.Start()
	}
	if o.autoLoop != nil {
		o.autoLoop.Start()
	}
	o.log.Info("orchestrator started", "workspace", workspace.Root())
}

// Stop shuts the loops down and closes the owned resources.
func (o *Orchestrator) Stop() {
	if o.improveLoop != nil {
		o.improveLoop.Stop()
	}
	if o.autoLoop != nil {
		o.autoLoop.Stop()
	}
	if o.events != nil {
		o.events.Close()
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			o.log.Warn("store close failed", "err", err)
		}
	}
	o.log.Info("orchestrator stopped")
}

// Session returns the shared session state.
func (o *Orchestrator) Session() *Session { return o.session }

// Reminders returns the pending-reminder queue.
func (o *Orchestrator) Reminders() *ReminderQueue { return o.reminders }

// Store exposes the memory store for the HTTP facade and the CLI.
func (o *Orchestrator) Store() *memory.Store { return o.store }

// Events exposes the bus for the HTTP facade.
func (o *Orchestrator) Events() *bus.Bus { return o.events }

// Collector exposes the error collector; may be nil.
func (o *Orchestrator) Collector() *errcollect.Collector { return o.collector }

// Registry exposes the tool registry.
func (o *Orchestrator) Registry() *toolregistry.Registry { return o.registry }

// LastRunTokens reports the token cost of the most recent run.
func (o *Orchestrator) LastRunTokens() int { return int(o.lastRunTokens.Load()) }

// LastUserActivity reports when the user last issued a request.
func (o *Orchestrator) LastUserActivity() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastActivity
}

// ImprovementRunning reports whether an improvement cycle is in flight.
func (o *Orchestrator) ImprovementRunning() bool {
	return o.improveLoop != nil && o.improveLoop.Running()
}

// Run is the request pipeline. User intent stamps activity and yields to
// a running improvement cycle; all intents share the rest of the path.
func (o *Orchestrator) Run(ctx context.Context, input, intent string) (string, error) {
	if intent == IntentUser {
		o.mu.Lock()
		o.lastActivity = time.Now()
		o.mu.Unlock()

		o.waitForImprovement(ctx)
		input = o.switchProjectFromMention(input)
	}

	memoryCtx := ""
	if o.contextBuilder != nil {
		memoryCtx = o.contextBuilder.Build(ctx, input)
	}

	if isSimpleTask(input) {
		return o.runDirect(ctx, input, memoryCtx, intent)
	}
	return o.runPlanned(ctx, input, memoryCtx, intent)
}

// waitForImprovement polls until the improvement cycle finishes or the
// grace window runs out, so user requests don't contend with
// self-mutation.
func (o *Orchestrator) waitForImprovement(ctx context.Context) {
	if !o.ImprovementRunning() {
		return
	}
	o.log.Info("improvement cycle in flight, waiting")
	deadline := time.Now().Add(improvementWaitMax)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(improvementWaitPoll):
		}
		if !o.ImprovementRunning() {
			return
		}
	}
}

// switchProjectFromMention handles a leading or embedded #slug: switch the
// workspace and session to that project and strip the mention. Unknown
// slugs leave the input untouched.
func (o *Orchestrator) switchProjectFromMention(input string) string {
	m := projectMentionRe.FindStringSubmatchIndex(input)
	if m == nil {
		return input
	}
	slug := strings.ToLower(input[m[2]:m[3]])

	p, err := o.store.ProjectBySlug(slug)
	if err != nil {
		return input
	}
	if err := workspace.Set(p.WorkspacePath); err != nil {
		o.log.Warn("project workspace unavailable", "slug", slug, "err", err)
		return input
	}
	if err := o.store.TouchProjectUsed(p.ID); err != nil {
		o.log.Warn("project touch failed", "slug", slug, "err", err)
	}
	o.session.SetActiveProject(&p)
	if o.events != nil {
		o.events.Publish("project_changed", map[string]any{
			"project_id":   p.ID,
			"project_name": p.Name,
			"project_slug": p.Slug,
		})
	}
	o.log.Info("switched project", "slug", slug)

	start := m[0]
	if start < len(input) && input[start] == ' ' {
		start++
	}
	cleaned := strings.TrimSpace(input[:start] + input[m[1]:])
	if cleaned == "" {
		return input
	}
	return cleaned
}

// isSimpleTask decides direct mode: short input without multi-step cues.
func isSimpleTask(input string) bool {
	if len(input) > directModeMaxLen {
		return false
	}
	lower := strings.ToLower(input)
	for _, cue := range multiStepCues {
		if strings.Contains(lower, cue) {
			return false
		}
	}
	padded := " " + lower + " "
	for _, w := range multiStepWords {
		if strings.Contains(padded, " "+w+" ") || strings.Contains(padded, " "+w+",") {
			return false
		}
	}
	return !numberedListRe.MatchString(lower)
}

// runDirect dispatches to the coder agent, bypassing planner and
// executor.
func (o *Orchestrator) runDirect(ctx context.Context, input, memoryCtx, intent string) (string, error) {
	o.log.Info("direct mode", "input", truncateForLog(input))

	opts := []agent.Option{}
	if o.maxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(o.maxIterations))
	}
	a := agent.New(agent.RoleCoder, o.provider, o.registry, o.log, opts...)
	res := a.Run(ctx, agent.Context{
		TaskID:          "direct-" + uuid.NewString()[:8],
		TaskDescription: input,
		MemoryContext:   memoryCtx,
	})
	o.lastRunTokens.Store(int64(res.TokensUsed))

	response := res.Output
	if !res.Success {
		response = "Error: " + res.Error
	}

	o.persistRun(ctx, input, response, o.runMetadata(intent, map[string]any{
		"mode":    "direct",
		"agent":   res.AgentName,
		"success": res.Success,
	}))
	o.persistDirectTask(input, res)
	return response, ctx.Err()
}

// runPlanned goes through planner, executor and synthesis.
func (o *Orchestrator) runPlanned(ctx context.Context, input, memoryCtx, intent string) (string, error) {
	plan := o.planner.CreatePlan(ctx, input, memoryCtx)
	o.log.Info("plan created", "summary", plan.Summary, "tasks", len(plan.Tasks))

	tokens := o.exec.Execute(ctx, plan, memoryCtx)
	o.lastRunTokens.Store(int64(tokens))
	response := o.synthesize(ctx, input, plan)

	o.persistRun(ctx, input, response, o.runMetadata(intent, map[string]any{
		"mode":    "planned",
		"plan_id": plan.ID,
		"tasks":   len(plan.Tasks),
		"success": !plan.HasFailures(),
	}))
	return response, ctx.Err()
}

// runMetadata stamps intent and active project onto conversation metadata
// so loops can query their own history later.
func (o *Orchestrator) runMetadata(intent string, meta map[string]any) map[string]any {
	meta["intent"] = intent
	if p := o.session.ActiveProject(); p != nil {
		meta["project_slug"] = p.Slug
	}
	return meta
}

// synthesize turns a finished plan into one answer: a single successful
// task passes through, anything else goes to the orchestrator-role agent
// as a digest.
func (o *Orchestrator) synthesize(ctx context.Context, input string, plan *planner.Plan) string {
	if len(plan.Tasks) == 1 && plan.Tasks[0].Status == planner.StatusDone {
		if plan.Tasks[0].Result == "" {
			return "(no result)"
		}
		return plan.Tasks[0].Result
	}

	var digest strings.Builder
	for _, t := range plan.Tasks {
		switch t.Status {
		case planner.StatusDone:
			fmt.Fprintf(&digest, "### %s (agent: %s)\n%s\n\n", t.Name, t.Agent, t.Result)
		case planner.StatusFailed:
			fmt.Fprintf(&digest, "### %s — FAILED\nError: %s\n\n", t.Name, t.Error)
		}
	}
	if digest.Len() == 0 {
		return "The agents produced no results."
	}

	synth := agent.New(agent.RoleOrchestrator, o.provider, o.registry, o.log)
	res := synth.Run(ctx, agent.Context{
		TaskID:          "synth-" + plan.ID,
		TaskDescription: fmt.Sprintf("User request: %s\n\nAgent results:\n%s", input, digest.String()),
		MemoryContext:   synthesisPrompt,
	})
	if !res.Success {
		return digest.String()
	}
	o.lastRunTokens.Add(int64(res.TokensUsed))
	return res.Output
}

// persistRun saves the conversation and, when embeddings are available,
// a semantic snippet. Both are best effort.
func (o *Orchestrator) persistRun(ctx context.Context, input, response string, metadata map[string]any) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveConversation(input, response, metadata); err != nil {
		o.log.Warn("conversation save failed", "err", err)
	}

	if o.vectors == nil {
		return
	}
	embedding, err := o.provider.Embed(ctx, input+"\n"+response)
	if err != nil {
		o.log.Debug("embedding skipped", "err", err)
		return
	}
	snippet := fmt.Sprintf("User: %s\nAssistant: %s", input, truncate(response, 500))
	if err := o.vectors.StoreText(ctx, snippet, embedding, nil); err != nil {
		o.log.Debug("semantic store failed", "err", err)
	}
}

func (o *Orchestrator) persistDirectTask(input string, res agent.Result) {
	if o.store == nil {
		return
	}
	rec := memory.TaskRecord{
		ID:     res.TaskID,
		Name:   truncate(input, 100),
		Agent:  res.AgentName,
		Input:  truncate(input, 2000),
		Status: planner.StatusDone,
	}
	if res.Success {
		rec.Result = truncate(res.Output, 5000)
	} else {
		rec.Status = planner.StatusFailed
		rec.Error = truncate(res.Error, 2000)
	}
	if err := o.store.UpsertTask(rec); err != nil {
		o.log.Warn("task persist failed", "err", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func truncateForLog(s string) string { return truncate(s, 80) }
