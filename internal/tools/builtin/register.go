package builtin

import (
	"arlo/internal/agent/ports"
	"arlo/internal/memory"
	"arlo/internal/toolregistry"
)

// RegisterWorkspace installs the sandboxed file and shell tools.
func RegisterWorkspace(reg *toolregistry.Registry) error {
	return registerAll(reg,
		NewReadFile(),
		NewWriteFile(),
		NewAppendFile(),
		NewDeleteFile(),
		NewListFiles(),
		NewMakeDir(),
		NewCheckPath(),
		NewRunCommand(),
	)
}

// RegisterSource installs the self-improvement tools operating on the
// runtime's own repository.
func RegisterSource(reg *toolregistry.Registry) error {
	return registerAll(reg,
		NewReadSource(),
		NewWriteSource(),
		NewListSource(),
		NewRunTests(),
		NewGitCommit(),
	)
}

// RegisterScheduling installs the scheduled-task and reminder tools.
func RegisterScheduling(reg *toolregistry.Registry, store *memory.Store) error {
	return registerAll(reg,
		NewCreateScheduledTask(store),
		NewCreateReminder(store),
		NewListScheduledItems(store),
		NewGetScheduledItem(store),
		NewCancelScheduledItem(store),
		NewPauseScheduledItem(store),
		NewResumeScheduledItem(store),
	)
}

// RegisterProjects installs the project management tools.
func RegisterProjects(reg *toolregistry.Registry, cfg ProjectToolConfig) error {
	return registerAll(reg,
		NewListProjects(cfg),
		NewSwitchProject(cfg),
		NewCreateProject(cfg),
		NewEditProject(cfg),
		NewDeleteProject(cfg),
		NewSetObjective(cfg),
	)
}

func registerAll(reg *toolregistry.Registry, tools ...ports.ToolExecutor) error {
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
