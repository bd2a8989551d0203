package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"arlo/internal/agent/ports"
	"arlo/internal/memory"
	"arlo/internal/scheduler"
)

var scheduleProperty = ports.Property{
	Type: "object",
	Description: `Schedule spec: {"type": "once|interval|daily|weekly|monthly", ...}. ` +
		`Examples: {"type": "daily", "time": "09:00"}, {"type": "interval", "minutes": 30}, ` +
		`{"type": "weekly", "day": "monday", "time": "10:00"}`,
}

func parseScheduleArg(call ports.ToolCall) (scheduler.Spec, error) {
	obj, err := objArg(call, "schedule")
	if err != nil {
		return scheduler.Spec{}, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return scheduler.Spec{}, err
	}
	return scheduler.Parse(raw)
}

func describeItem(it memory.ScheduledItem) string {
	next := "n/a"
	if !it.NextRunAt.IsZero() {
		next = it.NextRunAt.UTC().Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("[%d] %s (%s, %s)\n  Schedule: %s\n  Next run: %s | Runs: %d",
		it.ID, it.Title, it.Type, it.Status, scheduler.Describe(it.Schedule), next, it.RunCount)
}

type createScheduledTask struct {
	store *memory.Store
}

// NewCreateScheduledTask stores a recurring task the autonomous loop will
// execute.
func NewCreateScheduledTask(store *memory.Store) ports.ToolExecutor {
	return &createScheduledTask{store: store}
}

func (t *createScheduledTask) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	title, err := stringArg(call, "title")
	if err != nil {
		return fail(call, err), nil
	}
	description, err := stringArg(call, "description")
	if err != nil {
		return fail(call, err), nil
	}
	spec, err := parseScheduleArg(call)
	if err != nil {
		return fail(call, err), nil
	}

	it, err := t.store.CreateScheduledItem(memory.ItemTask, title, description, spec)
	if err != nil {
		return fail(call, err), nil
	}
	return ok(call, "Scheduled task created:\n"+describeItem(it)), nil
}

func (t *createScheduledTask) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "create_scheduled_task",
		Description: "Create a scheduled task that runs automatically per its schedule",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"title":       {Type: "string", Description: "Title of the scheduled task"},
				"description": {Type: "string", Description: "What the task should do when it fires"},
				"schedule":    scheduleProperty,
			},
			Required: []string{"title", "description", "schedule"},
		},
	}
}

func (t *createScheduledTask) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "create_scheduled_task", Category: "scheduling"}
}

type createReminder struct {
	store *memory.Store
}

// NewCreateReminder stores a reminder shown to the user when due; no agent
// runs for it.
func NewCreateReminder(store *memory.Store) ports.ToolExecutor {
	return &createReminder{store: store}
}

func (t *createReminder) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	title, err := stringArg(call, "title")
	if err != nil {
		return fail(call, err), nil
	}
	spec, err := parseScheduleArg(call)
	if err != nil {
		return fail(call, err), nil
	}

	it, err := t.store.CreateScheduledItem(memory.ItemReminder, title, "", spec)
	if err != nil {
		return fail(call, err), nil
	}
	return ok(call, "Reminder created:\n"+describeItem(it)), nil
}

func (t *createReminder) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "create_reminder",
		Description: "Create a reminder shown to the user when due (does not run an agent). Same schedule spec as create_scheduled_task.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"title":    {Type: "string", Description: "Reminder text"},
				"schedule": scheduleProperty,
			},
			Required: []string{"title", "schedule"},
		},
	}
}

func (t *createReminder) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "create_reminder", Category: "scheduling"}
}

type listScheduled struct {
	store *memory.Store
}

// NewListScheduledItems lists scheduled tasks and reminders.
func NewListScheduledItems(store *memory.Store) ports.ToolExecutor {
	return &listScheduled{store: store}
}

func (t *listScheduled) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	status := optStringArg(call, "status", "")
	items, err := t.store.ListScheduledItems()
	if err != nil {
		return fail(call, err), nil
	}

	var out []string
	for _, it := range items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, describeItem(it))
	}
	if len(out) == 0 {
		if status != "" {
			return ok(call, fmt.Sprintf("No scheduled items with status '%s'.", status)), nil
		}
		return ok(call, "No scheduled items."), nil
	}
	return ok(call, fmt.Sprintf("Scheduled items (%d):\n%s", len(out), strings.Join(out, "\n"))), nil
}

func (t *listScheduled) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_scheduled_items",
		Description: "List scheduled tasks and reminders, optionally filtered by status",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"status": {Type: "string", Description: "Filter by status", Enum: []any{"active", "paused", "done", "cancelled"}},
			},
		},
	}
}

func (t *listScheduled) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "list_scheduled_items", Category: "scheduling"}
}

type getScheduled struct {
	store *memory.Store
}

// NewGetScheduledItem shows one scheduled item in full.
func NewGetScheduledItem(store *memory.Store) ports.ToolExecutor {
	return &getScheduled{store: store}
}

func (t *getScheduled) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	id, err := idArg(call, "item_id")
	if err != nil {
		return fail(call, err), nil
	}
	it, err := t.store.ScheduledItem(id)
	if err != nil {
		return fail(call, fmt.Errorf("item %d not found", id)), nil
	}

	last := "never"
	if !it.LastRunAt.IsZero() {
		last = it.LastRunAt.UTC().Format("2006-01-02 15:04")
	}
	detail := describeItem(it) + fmt.Sprintf("\n  Description: %s\n  Last run: %s\n  Created: %s",
		it.Description, last, it.CreatedAt.UTC().Format("2006-01-02 15:04"))
	return ok(call, detail), nil
}

func (t *getScheduled) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get_scheduled_item",
		Description: "Show the full detail of one scheduled item",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"item_id": {Type: "integer", Description: "Id of the item"},
			},
			Required: []string{"item_id"},
		},
	}
}

func (t *getScheduled) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "get_scheduled_item", Category: "scheduling"}
}

// itemStatusTool covers cancel, pause and resume: same shape, different
// target status and preconditions.
type itemStatusTool struct {
	store  *memory.Store
	name   string
	verb   string
	target string
	from   string
}

// NewCancelScheduledItem cancels a scheduled item.
func NewCancelScheduledItem(store *memory.Store) ports.ToolExecutor {
	return &itemStatusTool{store: store, name: "cancel_scheduled_item", verb: "cancelled", target: memory.StatusCancelled}
}

// NewPauseScheduledItem pauses an active item.
func NewPauseScheduledItem(store *memory.Store) ports.ToolExecutor {
	return &itemStatusTool{store: store, name: "pause_scheduled_item", verb: "paused", target: memory.StatusPaused, from: memory.StatusActive}
}

// NewResumeScheduledItem resumes a paused item, recomputing its next fire.
func NewResumeScheduledItem(store *memory.Store) ports.ToolExecutor {
	return &itemStatusTool{store: store, name: "resume_scheduled_item", verb: "resumed", target: memory.StatusActive, from: memory.StatusPaused}
}

func (t *itemStatusTool) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	id, err := idArg(call, "item_id")
	if err != nil {
		return fail(call, err), nil
	}
	it, err := t.store.ScheduledItem(id)
	if err != nil {
		return fail(call, fmt.Errorf("item %d not found", id)), nil
	}
	if t.from != "" {
		if it.Status != t.from {
			return fail(call, fmt.Errorf("item %d is %s, expected %s", id, it.Status, t.from)), nil
		}
	} else if it.Status == t.target {
		return ok(call, fmt.Sprintf("Item %d was already %s.", id, t.verb)), nil
	}
	if err := t.store.SetItemStatus(id, t.target); err != nil {
		return fail(call, err), nil
	}

	it, err = t.store.ScheduledItem(id)
	if err != nil {
		return fail(call, err), nil
	}
	if t.target == memory.StatusActive && it.Status == memory.StatusDone {
		return ok(call, fmt.Sprintf("Item %d has no future runs left; marked done.", id)), nil
	}
	return ok(call, fmt.Sprintf("Item %s: %s", t.verb, describeItem(it))), nil
}

func (t *itemStatusTool) Definition() ports.ToolDefinition {
	descriptions := map[string]string{
		"cancel_scheduled_item": "Cancel a scheduled task or reminder",
		"pause_scheduled_item":  "Pause a scheduled item; it will not fire until resumed",
		"resume_scheduled_item": "Resume a paused item, recomputing its next fire",
	}
	return ports.ToolDefinition{
		Name:        t.name,
		Description: descriptions[t.name],
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"item_id": {Type: "integer", Description: "Id of the item"},
			},
			Required: []string{"item_id"},
		},
	}
}

func (t *itemStatusTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: t.name, Category: "scheduling"}
}
