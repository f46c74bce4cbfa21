// Package tools exposes the assistant's tool surface: a fixed registry of
// task operations the intent resolver can invoke. Tool-level failures are
// reported inside the ToolResult so a bad argument or a missing task never
// aborts a chat turn.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/pkg/models"
)

// Tool names. The set is fixed; there is no dynamic registration.
const (
	ToolCreateTask   = "create_task"
	ToolGetTasks     = "get_tasks"
	ToolUpdateTask   = "update_task"
	ToolDeleteTask   = "delete_task"
	ToolCompleteTask = "complete_task"
)

// Registry executes tool calls against the task store.
type Registry struct {
	store store.Store
}

// NewRegistry creates a tool registry backed by the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// List returns the schemas advertised to the intent resolver. The
// delete_task "confirmed" flag is deliberately absent: confirmation is
// driven by the orchestrator, not by the model.
func (r *Registry) List() []models.ToolSchema {
	return []models.ToolSchema{
		{
			Name:        ToolCreateTask,
			Description: "Create a new task for the user.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":       map[string]interface{}{"type": "string", "description": "Short task title"},
					"description": map[string]interface{}{"type": "string", "description": "Optional longer description"},
					"priority":    map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
					"due_date":    map[string]interface{}{"type": "string", "description": "Optional due date, RFC 3339"},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        ToolGetTasks,
			Description: "List the user's tasks, optionally filtered by status.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{"type": "string", "enum": []string{"all", "pending", "completed"}},
				},
			},
		},
		{
			Name:        ToolUpdateTask,
			Description: "Update fields of an existing task.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":           map[string]interface{}{"type": "string"},
					"title":        map[string]interface{}{"type": "string"},
					"description":  map[string]interface{}{"type": "string"},
					"is_completed": map[string]interface{}{"type": "boolean"},
					"priority":     map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
					"due_date":     map[string]interface{}{"type": "string", "description": "RFC 3339 due date"},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolDeleteTask,
			Description: "Permanently delete a task. The user is asked to confirm first.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolCompleteTask,
			Description: "Mark a task as completed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
	}
}

// Execute runs the named tool. The owner_id argument is set by the
// orchestrator from the authenticated identity; callers must never pass
// through a model-supplied owner. Failures are encoded in the result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) models.ToolResult {
	// Name registration is checked before any argument validation so an
	// unregistered tool is always reported as unknown.
	switch name {
	case ToolCreateTask, ToolGetTasks, ToolUpdateTask, ToolDeleteTask, ToolCompleteTask:
	default:
		return errorResult(models.ErrKindUnknownTool, fmt.Sprintf("unknown tool %q", name))
	}

	ownerID, _ := strArg(args, "owner_id")
	if ownerID == "" {
		return errorResult(models.ErrKindInvalidArguments, "owner_id is required")
	}

	switch name {
	case ToolCreateTask:
		return r.createTask(ctx, ownerID, args)
	case ToolGetTasks:
		return r.getTasks(ctx, ownerID, args)
	case ToolUpdateTask:
		return r.updateTask(ctx, ownerID, args)
	case ToolDeleteTask:
		return r.deleteTask(ctx, ownerID, args)
	case ToolCompleteTask:
		return r.completeTask(ctx, ownerID, args)
	default:
		return errorResult(models.ErrKindUnknownTool, fmt.Sprintf("unknown tool %q", name))
	}
}

func (r *Registry) createTask(ctx context.Context, ownerID string, args map[string]interface{}) models.ToolResult {
	title, ok := strArg(args, "title")
	if !ok || title == "" {
		return errorResult(models.ErrKindInvalidArguments, "title is required")
	}
	if len(title) > models.MaxTitleLength {
		return errorResult(models.ErrKindInvalidArguments,
			fmt.Sprintf("title exceeds %d characters", models.MaxTitleLength))
	}

	description, _ := strArg(args, "description")
	priority := models.PriorityMedium
	if p, ok := strArg(args, "priority"); ok && p != "" {
		switch models.TaskPriority(p) {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
			priority = models.TaskPriority(p)
		default:
			return errorResult(models.ErrKindInvalidArguments, fmt.Sprintf("invalid priority %q", p))
		}
	}

	var dueDate *time.Time
	if d, ok := strArg(args, "due_date"); ok && d != "" {
		parsed, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return errorResult(models.ErrKindInvalidArguments, fmt.Sprintf("invalid due_date %q", d))
		}
		dueDate = &parsed
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Status:      models.TaskStatusPending,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateTask(ctx, task); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("create_task store failure")
		return errorResult(models.ErrKindExecutionError, "failed to create task")
	}

	return models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("I've added '%s' to your task list.", task.Title),
		TaskID:  task.ID,
		Tasks:   []models.Task{*task},
		Count:   1,
	}
}

func (r *Registry) getTasks(ctx context.Context, ownerID string, args map[string]interface{}) models.ToolResult {
	filter := store.FilterAll
	if status, ok := strArg(args, "status"); ok && status != "" {
		switch status {
		case "all":
		case "pending":
			filter = store.FilterPending
		case "completed":
			filter = store.FilterCompleted
		default:
			return errorResult(models.ErrKindInvalidArguments, fmt.Sprintf("invalid status %q", status))
		}
	}

	tasks, err := r.store.ListTasks(ctx, ownerID, filter)
	if err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("get_tasks store failure")
		return errorResult(models.ErrKindExecutionError, "failed to list tasks")
	}

	return models.ToolResult{
		Success: true,
		Tasks:   tasks,
		Count:   len(tasks),
		Message: formatTaskList(tasks),
	}
}

func (r *Registry) updateTask(ctx context.Context, ownerID string, args map[string]interface{}) models.ToolResult {
	task, res := r.ownedTask(ctx, ownerID, args)
	if task == nil {
		return res
	}

	var upd models.TaskUpdate
	if v, ok := strArg(args, "title"); ok {
		if v == "" || len(v) > models.MaxTitleLength {
			return errorResult(models.ErrKindInvalidArguments, "invalid title")
		}
		upd.Title = &v
	}
	if v, ok := strArg(args, "description"); ok {
		upd.Description = &v
	}
	if v, ok := args["is_completed"].(bool); ok {
		upd.Completed = &v
	}
	if v, ok := strArg(args, "priority"); ok && v != "" {
		p := models.TaskPriority(v)
		switch p {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
			upd.Priority = &p
		default:
			return errorResult(models.ErrKindInvalidArguments, fmt.Sprintf("invalid priority %q", v))
		}
	}
	if v, ok := strArg(args, "due_date"); ok && v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return errorResult(models.ErrKindInvalidArguments, fmt.Sprintf("invalid due_date %q", v))
		}
		upd.DueDate = &parsed
	}

	updated, err := r.store.UpdateTask(ctx, task.ID, upd)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("update_task store failure")
		return errorResult(models.ErrKindExecutionError, "failed to update task")
	}

	return models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("I've updated '%s'.", updated.Title),
		TaskID:  updated.ID,
		Tasks:   []models.Task{*updated},
		Count:   1,
	}
}

func (r *Registry) deleteTask(ctx context.Context, ownerID string, args map[string]interface{}) models.ToolResult {
	task, res := r.ownedTask(ctx, ownerID, args)
	if task == nil {
		return res
	}

	// Destructive call: without an explicit confirmed flag the task is left
	// untouched and the caller is asked to confirm.
	confirmed, _ := args["confirmed"].(bool)
	if !confirmed {
		return models.ToolResult{
			Success:              false,
			RequiresConfirmation: true,
			TaskID:               task.ID,
			Message:              fmt.Sprintf("Are you sure you want to delete the task '%s'?", task.Title),
		}
	}

	if err := r.store.DeleteTask(ctx, task.ID); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("delete_task store failure")
		return errorResult(models.ErrKindExecutionError, "failed to delete task")
	}

	return models.ToolResult{
		Success: true,
		TaskID:  task.ID,
		Message: fmt.Sprintf("I've deleted the task '%s'.", task.Title),
	}
}

func (r *Registry) completeTask(ctx context.Context, ownerID string, args map[string]interface{}) models.ToolResult {
	task, res := r.ownedTask(ctx, ownerID, args)
	if task == nil {
		return res
	}

	// Idempotent: completing an already completed task is a success.
	updated, err := r.store.SetTaskCompleted(ctx, task.ID, true)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("complete_task store failure")
		return errorResult(models.ErrKindExecutionError, "failed to complete task")
	}

	return models.ToolResult{
		Success: true,
		TaskID:  updated.ID,
		Tasks:   []models.Task{*updated},
		Count:   1,
		Message: fmt.Sprintf("Great job! I've marked '%s' as completed.", updated.Title),
	}
}

// ownedTask resolves the id argument and enforces ownership. On failure
// the task is nil and the result carries the error.
func (r *Registry) ownedTask(ctx context.Context, ownerID string, args map[string]interface{}) (*models.Task, models.ToolResult) {
	taskID, ok := strArg(args, "id")
	if !ok || taskID == "" {
		return nil, errorResult(models.ErrKindInvalidArguments, "id is required")
	}

	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errorResult(models.ErrKindNotFound, fmt.Sprintf("task %s not found", taskID))
		}
		log.Error().Err(err).Str("task_id", taskID).Msg("task lookup store failure")
		return nil, errorResult(models.ErrKindExecutionError, "failed to load task")
	}
	if task.OwnerID != ownerID {
		// Do not leak the task's existence to other owners.
		return nil, errorResult(models.ErrKindUnauthorized, fmt.Sprintf("task %s not found", taskID))
	}
	return task, models.ToolResult{}
}

func strArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func errorResult(kind models.ErrorKind, msg string) models.ToolResult {
	return models.ToolResult{Success: false, Error: msg, ErrorKind: kind}
}

func formatTaskList(tasks []models.Task) string {
	if len(tasks) == 0 {
		return "You don't have any tasks yet. Want to add one?"
	}
	msg := fmt.Sprintf("You have %d task(s):", len(tasks))
	for i, t := range tasks {
		marker := " "
		if t.Completed {
			marker = "x"
		}
		msg += fmt.Sprintf("\n%d. [%s] %s", i+1, marker, t.Title)
	}
	return msg
}
