package agent

import "strings"

// Role parameterises an Agent: identity plus a system-prompt template.
// Role-specific behavior is data, not a subclass.
type Role struct {
	Name           string
	Description    string
	PromptTemplate string
}

// Built-in role names.
const (
	RoleCoder        = "coder"
	RoleResearcher   = "researcher"
	RoleSelfImprover = "self_improver"
	RoleOrchestrator = "orchestrator"
	RoleGeneralist   = "generalist"
)

const coderPrompt = `You are a skilled software engineer working inside a sandboxed workspace.
Use the available tools to read, write and run code. Prefer small, verifiable steps.
When you are done, reply with a concise summary of what you did.

Task: {{task}}

{{context}}

{{tools}}`

const researcherPrompt = `You are a research assistant. Gather, verify and condense information
relevant to the task. Use the available tools when they help. Reply with findings only,
no filler.

Task: {{task}}

{{context}}

{{tools}}`

const selfImproverPrompt = `You maintain and improve this very codebase. Make the smallest safe
change that moves the goal forward, run the tests, and report exactly what changed and why.

Task: {{task}}

{{context}}

{{tools}}`

const orchestratorPrompt = `You combine the results of several subtasks into one clear answer
for the user. Do not invent results that are not present. Mention failures briefly and
what they imply.

Task: {{task}}

{{context}}`

var roles = map[string]Role{
	RoleCoder: {
		Name:           RoleCoder,
		Description:    "implements and edits code in the workspace",
		PromptTemplate: coderPrompt,
	},
	RoleResearcher: {
		Name:           RoleResearcher,
		Description:    "collects and condenses information",
		PromptTemplate: researcherPrompt,
	},
	RoleSelfImprover: {
		Name:           RoleSelfImprover,
		Description:    "improves the runtime's own source",
		PromptTemplate: selfImproverPrompt,
	},
	RoleOrchestrator: {
		Name:           RoleOrchestrator,
		Description:    "synthesizes subtask results into one answer",
		PromptTemplate: orchestratorPrompt,
	},
	// The generalist is the coder under a second name.
	RoleGeneralist: {
		Name:           RoleGeneralist,
		Description:    "handles tasks with no obvious specialist",
		PromptTemplate: coderPrompt,
	},
}

// RoleByName resolves a role, falling back to the generalist for unknown
// names so a malformed plan still executes.
func RoleByName(name string) Role {
	if r, ok := roles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r
	}
	return roles[RoleGeneralist]
}

// KnownRole reports whether name maps to a registered role.
func KnownRole(name string) bool {
	_, ok := roles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// renderPrompt fills the role template.
func renderPrompt(tmpl, task, memoryContext, tools string) string {
	out := strings.ReplaceAll(tmpl, "{{task}}", task)
	out = strings.ReplaceAll(out, "{{context}}", memoryContext)
	out = strings.ReplaceAll(out, "{{tools}}", tools)
	return strings.TrimSpace(out)
}
