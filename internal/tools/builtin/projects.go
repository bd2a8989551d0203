package builtin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"arlo/internal/agent/ports"
	"arlo/internal/bus"
	"arlo/internal/memory"
	"arlo/internal/workspace"
)

// ProjectSession is the orchestrator-side state the project tools mutate
// when the active project changes.
type ProjectSession interface {
	ActiveProjectID() int64
	SetActiveProject(p *memory.Project)
}

// ProjectToolConfig wires the project tools to the store, the bus and the
// session.
type ProjectToolConfig struct {
	Store   *memory.Store
	Events  *bus.Bus
	Session ProjectSession

	// BaseWorkspace is where the sandbox returns when the active project
	// is deleted, and where new project workspaces are created by default.
	BaseWorkspace string
}

var slugPattern = regexp.MustCompile(`[^a-z0-9-]`)

// Slugify turns a display name into a URL-safe slug.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return slugPattern.ReplaceAllString(s, "")
}

// findProject resolves by exact slug first, then by fuzzy name/slug match.
// Ambiguity comes back as a candidate list.
func findProject(store *memory.Store, nameOrSlug string) (*memory.Project, []memory.Project, error) {
	p, err := store.ProjectBySlug(strings.ToLower(nameOrSlug))
	if err == nil {
		return &p, nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}

	term := strings.ToLower(nameOrSlug)
	all, err := store.ListProjects()
	if err != nil {
		return nil, nil, err
	}
	var candidates []memory.Project
	for _, cand := range all {
		if strings.Contains(strings.ToLower(cand.Name), term) || strings.Contains(cand.Slug, term) {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 1 {
		return &candidates[0], nil, nil
	}
	return nil, candidates, nil
}

func ambiguous(candidates []memory.Project) string {
	slugs := make([]string, len(candidates))
	for i, c := range candidates {
		slugs[i] = c.Slug
	}
	return fmt.Sprintf("multiple projects match: %s. Be more specific", strings.Join(slugs, ", "))
}

type listProjects struct {
	cfg ProjectToolConfig
}

// NewListProjects lists every project, marking the active one.
func NewListProjects(cfg ProjectToolConfig) ports.ToolExecutor {
	return &listProjects{cfg: cfg}
}

func (t *listProjects) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	projects, err := t.cfg.Store.ListProjects()
	if err != nil {
		return fail(call, err), nil
	}
	if len(projects) == 0 {
		return ok(call, "No projects yet. Use create_project to create one."), nil
	}

	var activeID int64
	if t.cfg.Session != nil {
		activeID = t.cfg.Session.ActiveProjectID()
	}
	var b strings.Builder
	b.WriteString("Projects:\n")
	for _, p := range projects {
		mark := ""
		if p.ID == activeID {
			mark = " [ACTIVE]"
		}
		fmt.Fprintf(&b, "- %s%s\n  slug: %s | workspace: %s\n", p.Name, mark, p.Slug, p.WorkspacePath)
		if p.Description != "" {
			fmt.Fprintf(&b, "  %s\n", p.Description)
		}
		if p.Objective != "" {
			fmt.Fprintf(&b, "  objective: %s\n", p.Objective)
		}
	}
	return ok(call, strings.TrimRight(b.String(), "\n")), nil
}

func (t *listProjects) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_projects",
		Description: "List all projects and show which one is active",
		Parameters:  ports.ParameterSchema{Type: "object"},
	}
}

func (t *listProjects) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "list_projects", Category: "projects"}
}

type switchProject struct {
	cfg ProjectToolConfig
}

// NewSwitchProject changes the active project and moves the workspace
// sandbox to its directory.
func NewSwitchProject(cfg ProjectToolConfig) ports.ToolExecutor {
	return &switchProject{cfg: cfg}
}

func (t *switchProject) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	nameOrSlug, err := stringArg(call, "name_or_slug")
	if err != nil {
		return fail(call, err), nil
	}
	p, candidates, err := findProject(t.cfg.Store, nameOrSlug)
	if err != nil {
		return fail(call, err), nil
	}
	if p == nil {
		if len(candidates) > 0 {
			return fail(call, errors.New(ambiguous(candidates))), nil
		}
		return fail(call, fmt.Errorf("project not found: %q. Use list_projects to see what exists", nameOrSlug)), nil
	}

	if err := workspace.Set(p.WorkspacePath); err != nil {
		return fail(call, err), nil
	}
	if err := t.cfg.Store.TouchProjectUsed(p.ID); err != nil {
		return fail(call, err), nil
	}
	if t.cfg.Session != nil {
		t.cfg.Session.SetActiveProject(p)
	}
	if t.cfg.Events != nil {
		t.cfg.Events.Publish("project_changed", map[string]any{
			"project_id":   p.ID,
			"project_name": p.Name,
			"project_slug": p.Slug,
		})
	}
	return ok(call, fmt.Sprintf("Active project: %s (slug: %s)\nWorkspace: %s", p.Name, p.Slug, p.WorkspacePath)), nil
}

func (t *switchProject) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "switch_project",
		Description: "Switch the active project by name or slug. Updates the working workspace and the session.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"name_or_slug": {Type: "string", Description: "Name or slug of the project to switch to"},
			},
			Required: []string{"name_or_slug"},
		},
	}
}

func (t *switchProject) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "switch_project", Category: "projects"}
}

type createProject struct {
	cfg ProjectToolConfig
}

// NewCreateProject registers a new project and its workspace directory.
func NewCreateProject(cfg ProjectToolConfig) ports.ToolExecutor {
	return &createProject{cfg: cfg}
}

func (t *createProject) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := stringArg(call, "name")
	if err != nil {
		return fail(call, err), nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fail(call, errors.New("project name must not be empty")), nil
	}
	slug := Slugify(name)
	if slug == "" {
		return fail(call, fmt.Errorf("name %q produces an empty slug, use alphanumeric characters", name)), nil
	}
	if existing, err := t.cfg.Store.ProjectBySlug(slug); err == nil {
		return fail(call, fmt.Errorf("a project with slug %q already exists (name: %s)", slug, existing.Name)), nil
	}

	description := optStringArg(call, "description", "")
	wp := optStringArg(call, "workspace_path", "")
	if wp == "" {
		base := workspace.Root()
		if base == "" {
			base = t.cfg.BaseWorkspace
		}
		wp = filepath.Join(base, slug)
	}
	abs, err := filepath.Abs(wp)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fail(call, err), nil
	}

	p, err := t.cfg.Store.CreateProject(name, slug, description, abs)
	if err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Project %q created.\n  slug: %s\n  workspace: %s\nUse switch_project(%q) to activate it.",
		p.Name, p.Slug, p.WorkspacePath, p.Slug)), nil
}

func (t *createProject) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "create_project",
		Description: "Create a new project. 'workspace_path' must be absolute; when omitted a subdirectory of the current workspace is used.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"name":           {Type: "string", Description: "Display name of the project"},
				"description":    {Type: "string", Description: "Optional project description"},
				"workspace_path": {Type: "string", Description: "Absolute path of the project directory; defaults to <workspace>/<slug>"},
			},
			Required: []string{"name"},
		},
	}
}

func (t *createProject) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "create_project", Category: "projects"}
}

type editProject struct {
	cfg ProjectToolConfig
}

// NewEditProject renames a project or updates its description.
func NewEditProject(cfg ProjectToolConfig) ports.ToolExecutor {
	return &editProject{cfg: cfg}
}

func (t *editProject) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	nameOrSlug, err := stringArg(call, "name_or_slug")
	if err != nil {
		return fail(call, err), nil
	}
	p, candidates, err := findProject(t.cfg.Store, nameOrSlug)
	if err != nil {
		return fail(call, err), nil
	}
	if p == nil {
		if len(candidates) > 0 {
			return fail(call, errors.New(ambiguous(candidates))), nil
		}
		return fail(call, fmt.Errorf("project not found: %q", nameOrSlug)), nil
	}

	newName := strings.TrimSpace(optStringArg(call, "new_name", ""))
	newDescription := optStringArg(call, "new_description", "")
	if newName == "" && newDescription == "" {
		return fail(call, errors.New("nothing to update: provide new_name and/or new_description")), nil
	}

	var changes []string
	if newName != "" {
		newSlug := Slugify(newName)
		if newSlug == "" {
			return fail(call, fmt.Errorf("new name %q produces an empty slug", newName)), nil
		}
		if newSlug != p.Slug {
			if _, err := t.cfg.Store.ProjectBySlug(newSlug); err == nil {
				return fail(call, fmt.Errorf("a project with slug %q already exists", newSlug)), nil
			}
		}
		p.Name = newName
		p.Slug = newSlug
		changes = append(changes, fmt.Sprintf("name -> %q", newName))
	}
	if newDescription != "" {
		p.Description = newDescription
		changes = append(changes, fmt.Sprintf("description -> %q", newDescription))
	}

	if err := t.cfg.Store.UpdateProject(*p); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Project updated: %s", strings.Join(changes, ", "))), nil
}

func (t *editProject) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "edit_project",
		Description: "Edit the name or description of an existing project, identified by name or slug",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"name_or_slug":    {Type: "string", Description: "Project to edit"},
				"new_name":        {Type: "string", Description: "New display name (optional)"},
				"new_description": {Type: "string", Description: "New description (optional)"},
			},
			Required: []string{"name_or_slug"},
		},
	}
}

func (t *editProject) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "edit_project", Category: "projects"}
}

type deleteProject struct {
	cfg ProjectToolConfig
}

// NewDeleteProject removes a project row. The workspace directory is left
// on disk.
func NewDeleteProject(cfg ProjectToolConfig) ports.ToolExecutor {
	return &deleteProject{cfg: cfg}
}

func (t *deleteProject) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	nameOrSlug, err := stringArg(call, "name_or_slug")
	if err != nil {
		return fail(call, err), nil
	}
	p, candidates, err := findProject(t.cfg.Store, nameOrSlug)
	if err != nil {
		return fail(call, err), nil
	}
	if p == nil {
		if len(candidates) > 0 {
			return fail(call, errors.New(ambiguous(candidates))), nil
		}
		return fail(call, fmt.Errorf("project not found: %q", nameOrSlug)), nil
	}

	if err := t.cfg.Store.DeleteProject(p.ID); err != nil {
		return fail(call, err), nil
	}

	if t.cfg.Session != nil && t.cfg.Session.ActiveProjectID() == p.ID {
		t.cfg.Session.SetActiveProject(nil)
		if t.cfg.BaseWorkspace != "" {
			if err := workspace.Set(t.cfg.BaseWorkspace); err != nil {
				return fail(call, err), nil
			}
		}
	}
	return ok(call, fmt.Sprintf("Project %q deleted. The directory %s was kept.", p.Name, p.WorkspacePath)), nil
}

func (t *deleteProject) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "delete_project",
		Description: "Delete a project from the database. The workspace directory is NOT removed. If it was active, the workspace falls back to the base directory.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"name_or_slug": {Type: "string", Description: "Project to delete"},
			},
			Required: []string{"name_or_slug"},
		},
	}
}

func (t *deleteProject) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "delete_project", Category: "projects"}
}

type setObjective struct {
	cfg ProjectToolConfig
}

// NewSetObjective sets or clears a project's long-running objective; the
// autonomous loop picks it up.
func NewSetObjective(cfg ProjectToolConfig) ports.ToolExecutor {
	return &setObjective{cfg: cfg}
}

func (t *setObjective) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	nameOrSlug, err := stringArg(call, "name_or_slug")
	if err != nil {
		return fail(call, err), nil
	}
	objective := optStringArg(call, "objective", "")

	p, candidates, err := findProject(t.cfg.Store, nameOrSlug)
	if err != nil {
		return fail(call, err), nil
	}
	if p == nil {
		if len(candidates) > 0 {
			return fail(call, errors.New(ambiguous(candidates))), nil
		}
		return fail(call, fmt.Errorf("project not found: %q", nameOrSlug)), nil
	}

	if err := t.cfg.Store.SetObjective(p.ID, objective); err != nil {
		return fail(call, err), nil
	}
	if objective == "" {
		return ok(call, fmt.Sprintf("Objective cleared for project %q.", p.Name)), nil
	}
	return ok(call, fmt.Sprintf("Objective for project %q set to: %s", p.Name, objective)), nil
}

func (t *setObjective) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "set_objective",
		Description: "Set (or clear, with an empty string) a project's long-running objective. The autonomous loop works on objectives in the background.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"name_or_slug": {Type: "string", Description: "Project whose objective to set"},
				"objective":    {Type: "string", Description: "Objective text; empty clears it"},
			},
			Required: []string{"name_or_slug"},
		},
	}
}

func (t *setObjective) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "set_objective", Category: "projects"}
}
