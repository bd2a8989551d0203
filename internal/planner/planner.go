package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"arlo/internal/agent"
	"arlo/internal/agent/ports"
	"arlo/internal/logging"
)

const planTemperature = 0.3

const systemPrompt = `You decompose a user request into subtasks for specialized agents.
Reply with JSON only, no prose, matching exactly:
{
  "plan_summary": "one line",
  "tasks": [
    {"id": "t1", "name": "short name", "description": "what to do", "agent": "coder|researcher|generalist", "depends_on": []}
  ]
}
Rules: ids are unique; depends_on lists ids of prerequisite tasks; keep plans
as small as possible; independent tasks must not depend on each other.`

// Planner asks the provider for a plan. It never invokes tools.
type Planner struct {
	provider ports.Provider
	log      *logging.Logger
}

// New builds a planner on the given provider.
func New(provider ports.Provider, log *logging.Logger) *Planner {
	return &Planner{provider: provider, log: logging.OrNop(log).Component("planner")}
}

// CreatePlan issues one completion and parses the JSON plan. Any failure
// (provider error, unparseable output, empty task list) yields the
// fallback single-task generalist plan whose description is the raw
// request.
func (p *Planner) CreatePlan(ctx context.Context, request, contextText string) *Plan {
	userMsg := request
	if contextText != "" {
		userMsg = contextText + "\n\n" + request
	}

	resp, err := p.provider.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: systemPrompt},
			{Role: ports.RoleUser, Content: userMsg},
		},
		Temperature: planTemperature,
	})
	if err != nil {
		p.log.Warn("planning call failed, using fallback", "err", err)
		return Fallback(request)
	}

	plan, err := parsePlan(resp.Content, request)
	if err != nil {
		p.log.Warn("plan unparseable, using fallback", "err", err)
		return Fallback(request)
	}
	return plan
}

// Fallback is the one-task generalist plan.
func Fallback(request string) *Plan {
	return &Plan{
		ID:      uuid.NewString(),
		Summary: "direct execution",
		Tasks: []*TaskSpec{{
			ID:          "t1",
			Name:        "execute request",
			Description: request,
			Agent:       agent.RoleGeneralist,
			Status:      StatusPending,
		}},
		OriginalRequest: request,
	}
}

type wirePlan struct {
	PlanSummary string `json:"plan_summary"`
	Tasks       []struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Agent       string   `json:"agent"`
		DependsOn   []string `json:"depends_on"`
	} `json:"tasks"`
}

func parsePlan(content, request string) (*Plan, error) {
	raw := stripFences(content)

	var wire wirePlan
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// Models emit almost-JSON often enough to be worth a repair pass.
		fixed, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("parse plan: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &wire); err != nil {
			return nil, fmt.Errorf("parse repaired plan: %w", err)
		}
	}
	if len(wire.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}

	plan := &Plan{
		ID:              uuid.NewString(),
		Summary:         wire.PlanSummary,
		OriginalRequest: request,
	}
	for _, t := range wire.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("plan task missing id")
		}
		// Unknown ids in depends_on are kept; the executor treats them as
		// unsatisfiable and fails the task as deadlocked.
		plan.Tasks = append(plan.Tasks, &TaskSpec{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Agent:       t.Agent,
			DependsOn:   t.DependsOn,
			Status:      StatusPending,
		})
	}
	return plan, nil
}

// stripFences removes an optional markdown code fence, tagged or not.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "json" || first == "" {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
