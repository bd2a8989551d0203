package builtin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/memory"
	"arlo/internal/workspace"
)

type fakeSession struct {
	active *memory.Project
}

func (s *fakeSession) ActiveProjectID() int64 {
	if s.active == nil {
		return 0
	}
	return s.active.ID
}

func (s *fakeSession) SetActiveProject(p *memory.Project) { s.active = p }

func projectConfig(t *testing.T) (ProjectToolConfig, *fakeSession) {
	t.Helper()
	base := setWorkspace(t)
	session := &fakeSession{}
	return ProjectToolConfig{
		Store:         newStore(t),
		Session:       session,
		BaseWorkspace: base,
	}, session
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-cool-project", Slugify("My Cool Project"))
	assert.Equal(t, "snake-case", Slugify("snake_case"))
	assert.Equal(t, "v2", Slugify("V2!!"))
	assert.Equal(t, "", Slugify("???"))
}

func TestCreateAndListProjects(t *testing.T) {
	cfg, _ := projectConfig(t)

	res, err := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{
		"name":        "My Site",
		"description": "a static site",
	}))
	require.NoError(t, err)
	require.True(t, res.Success(), "error: %v", res.Error)
	assert.Contains(t, res.Content, "slug: my-site")

	p, err := cfg.Store.ProjectBySlug("my-site")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace.Root(), "my-site"), p.WorkspacePath)
	assert.DirExists(t, p.WorkspacePath)

	res, _ = NewListProjects(cfg).Execute(context.Background(), call("list_projects", nil))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "My Site")
	assert.Contains(t, res.Content, "a static site")
}

func TestCreateProjectDuplicateSlug(t *testing.T) {
	cfg, _ := projectConfig(t)
	created, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "Alpha"}))
	require.True(t, created.Success())

	res, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "alpha"}))
	require.False(t, res.Success())
	assert.Contains(t, res.Error.Error(), "already exists")
}

func TestSwitchProject(t *testing.T) {
	cfg, session := projectConfig(t)
	base := workspace.Root()
	created, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "Alpha"}))
	require.True(t, created.Success())

	res, _ := NewSwitchProject(cfg).Execute(context.Background(), call("switch_project", map[string]any{"name_or_slug": "alpha"}))
	require.True(t, res.Success(), "error: %v", res.Error)

	p, _ := cfg.Store.ProjectBySlug("alpha")
	assert.Equal(t, p.WorkspacePath, workspace.Root())
	assert.NotEqual(t, base, workspace.Root())
	require.NotNil(t, session.active)
	assert.Equal(t, p.ID, session.active.ID)
	assert.False(t, p.LastUsedAt.IsZero())
}

func TestSwitchProjectFuzzyAndAmbiguous(t *testing.T) {
	cfg, _ := projectConfig(t)
	for _, name := range []string{"Backend API", "Backend Worker", "Frontend"} {
		res, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": name}))
		require.True(t, res.Success())
	}

	res, _ := NewSwitchProject(cfg).Execute(context.Background(), call("switch_project", map[string]any{"name_or_slug": "front"}))
	require.True(t, res.Success(), "single fuzzy match resolves")
	assert.Contains(t, res.Content, "Frontend")

	res, _ = NewSwitchProject(cfg).Execute(context.Background(), call("switch_project", map[string]any{"name_or_slug": "backend"}))
	require.False(t, res.Success())
	assert.Contains(t, res.Error.Error(), "multiple projects match")

	res, _ = NewSwitchProject(cfg).Execute(context.Background(), call("switch_project", map[string]any{"name_or_slug": "nope"}))
	require.False(t, res.Success())
	assert.Contains(t, res.Error.Error(), "not found")
}

func TestEditProject(t *testing.T) {
	cfg, _ := projectConfig(t)
	created, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "Alpha"}))
	require.True(t, created.Success())

	res, _ := NewEditProject(cfg).Execute(context.Background(), call("edit_project", map[string]any{"name_or_slug": "alpha"}))
	require.False(t, res.Success(), "no fields given")

	res, _ = NewEditProject(cfg).Execute(context.Background(), call("edit_project", map[string]any{
		"name_or_slug": "alpha", "new_name": "Beta", "new_description": "renamed",
	}))
	require.True(t, res.Success(), "error: %v", res.Error)

	p, err := cfg.Store.ProjectBySlug("beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta", p.Name)
	assert.Equal(t, "renamed", p.Description)
}

func TestDeleteProjectResetsActiveWorkspace(t *testing.T) {
	cfg, session := projectConfig(t)
	base := cfg.BaseWorkspace
	created, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "Alpha"}))
	require.True(t, created.Success())
	switched, _ := NewSwitchProject(cfg).Execute(context.Background(), call("switch_project", map[string]any{"name_or_slug": "alpha"}))
	require.True(t, switched.Success())
	projectDir := workspace.Root()

	res, _ := NewDeleteProject(cfg).Execute(context.Background(), call("delete_project", map[string]any{"name_or_slug": "alpha"}))
	require.True(t, res.Success(), "error: %v", res.Error)

	assert.Nil(t, session.active)
	assert.Equal(t, base, workspace.Root())
	assert.DirExists(t, projectDir, "project directory is kept on disk")
	_, err := cfg.Store.ProjectBySlug("alpha")
	assert.Error(t, err)
}

func TestSetObjective(t *testing.T) {
	cfg, _ := projectConfig(t)
	created, _ := NewCreateProject(cfg).Execute(context.Background(), call("create_project", map[string]any{"name": "Alpha"}))
	require.True(t, created.Success())

	res, _ := NewSetObjective(cfg).Execute(context.Background(), call("set_objective", map[string]any{
		"name_or_slug": "alpha", "objective": "keep the changelog current",
	}))
	require.True(t, res.Success(), "error: %v", res.Error)

	p, _ := cfg.Store.ProjectBySlug("alpha")
	assert.Equal(t, "keep the changelog current", p.Objective)

	res, _ = NewSetObjective(cfg).Execute(context.Background(), call("set_objective", map[string]any{"name_or_slug": "alpha"}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "cleared")
	p, _ = cfg.Store.ProjectBySlug("alpha")
	assert.Empty(t, p.Objective)
}
