package models

import (
	"time"
)

// ── Task ─────────────────────────────────────────────────────

// TaskStatus is the canonical completion state of a task. The legacy
// Completed boolean is derived from it and kept in sync by the store.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusArchived  TaskStatus = "archived"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// MaxTitleLength bounds task titles (matches the tasks.title column).
const MaxTitleLength = 200

// Task is a todo item owned by a single user. Only the owner may see or
// mutate it; ownership checks happen in the tool/handler layer, not the store.
type Task struct {
	ID          string       `json:"id" db:"id"`
	OwnerID     string       `json:"owner_id" db:"owner_id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description,omitempty" db:"description"`
	Status      TaskStatus   `json:"status" db:"status"`
	Completed   bool         `json:"completed" db:"completed"` // derived: Status == completed
	DueDate     *time.Time   `json:"due_date,omitempty" db:"due_date"`
	Priority    TaskPriority `json:"priority" db:"priority"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// TaskUpdate carries the optional fields of an update; nil means "leave as is".
type TaskUpdate struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Completed   *bool         `json:"is_completed,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
}

// ── Conversation ─────────────────────────────────────────────

// Conversation is a chat session owned by one user. Conversations are
// deactivated (soft) rather than deleted so transcripts stay replayable.
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	Title         string     `json:"title" db:"title"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	IsActive      bool       `json:"is_active" db:"is_active"`
}

// DefaultConversationTitle builds the timestamped label used when the first
// chat message arrives without a conversation id.
func DefaultConversationTitle(now time.Time) string {
	return "Conversation " + now.Format("2006-01-02 15:04")
}

// ── Message ──────────────────────────────────────────────────

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn of a conversation transcript. Messages are immutable
// once created; ascending timestamp order is the canonical replay order.
type Message struct {
	ID             string                 `json:"id" db:"id"`
	ConversationID string                 `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole            `json:"role" db:"role"`
	Content        string                 `json:"content" db:"content"`
	Timestamp      time.Time              `json:"timestamp" db:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ── Conversation State ───────────────────────────────────────

// ConversationState is an optional one-to-one side channel for a
// conversation, used to persist pending-confirmation state across requests.
// Version increases on every write; a write carrying a stale version is
// rejected with ErrVersionConflict so concurrent turns can't clobber each
// other silently.
type ConversationState struct {
	ID             string                 `json:"id" db:"id"`
	ConversationID string                 `json:"conversation_id" db:"conversation_id"`
	State          map[string]interface{} `json:"state"`
	Version        int                    `json:"version" db:"version"`
}

// ── Tools ────────────────────────────────────────────────────

// ToolCall is a resolved request to invoke a named tool.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSchema describes a tool to the intent resolver. The parameter spec is
// a JSON-schema fragment (type/properties/required) so it can be forwarded
// verbatim to a completion service.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ErrorKind classifies tool and resolution failures. The registry and the
// resolver report failures as values of this taxonomy rather than letting
// raw errors escape to the orchestrator.
type ErrorKind string

const (
	ErrKindNotFound            ErrorKind = "not_found"
	ErrKindUnauthorized        ErrorKind = "unauthorized"
	ErrKindInvalidArguments    ErrorKind = "invalid_arguments"
	ErrKindUnknownTool         ErrorKind = "unknown_tool"
	ErrKindExecutionError      ErrorKind = "execution_error"
	ErrKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
)

// ToolResult is the structured outcome of executing one tool call.
type ToolResult struct {
	Success              bool      `json:"success"`
	Error                string    `json:"error,omitempty"`
	ErrorKind            ErrorKind `json:"error_kind,omitempty"`
	RequiresConfirmation bool      `json:"requires_confirmation,omitempty"`
	Message              string    `json:"message,omitempty"`
	TaskID               string    `json:"task_id,omitempty"`
	Tasks                []Task    `json:"tasks,omitempty"`
	Count                int       `json:"count,omitempty"`
}

// ── Intent ───────────────────────────────────────────────────

// Intent is the resolved meaning of an utterance: either a direct reply or
// exactly one tool call, never both.
type Intent struct {
	Reply    string    `json:"reply,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// ── Chat API shapes ──────────────────────────────────────────

// ConfirmAction echoes a pending destructive tool call back to the caller so
// the next turn can resend it with explicit confirmation.
type ConfirmAction struct {
	ToolName string                 `json:"tool_name"`
	ToolArgs map[string]interface{} `json:"tool_args"`
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ConfirmAction  *ConfirmAction `json:"confirm_action,omitempty"`
}

// ActionTaken records one executed tool call in a turn's response.
type ActionTaken struct {
	ToolName string     `json:"tool_name"`
	Output   ToolResult `json:"output"`
}

// ChatResponse is the orchestrator's outward response for one turn.
type ChatResponse struct {
	ConversationID       string         `json:"conversation_id"`
	Response             string         `json:"response"`
	ActionsTaken         []ActionTaken  `json:"actions_taken"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ConfirmAction        *ConfirmAction `json:"confirm_action,omitempty"`
	TaskCreated          bool           `json:"task_created,omitempty"`
	TaskID               string         `json:"task_id,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
}
