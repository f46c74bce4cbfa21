// Package store provides the storage interface and implementations for
// TaskNest. The in-memory store backs local development and tests; the
// SQLite store backs single-node production deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tasknest/tasknest/pkg/models"
)

// MessageOrder selects the sort direction for ListMessages.
type MessageOrder string

const (
	OrderAsc  MessageOrder = "asc"
	OrderDesc MessageOrder = "desc"
)

// StatusFilter narrows ListTasks results.
type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterPending   StatusFilter = "pending"
	FilterCompleted StatusFilter = "completed"
)

// Store is the primary storage interface. All handler, tool, and
// orchestrator code depends on this interface, making it easy to swap
// between in-memory (tests) and SQLite (production) implementations.
type Store interface {
	TaskStore
	ConversationStore
	MessageStore
	ConversationStateStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Task Store ──────────────────────────────────────────────

// TaskStore persists Task entities. The store keeps Status and the derived
// Completed flag consistent on every write; callers never set them
// independently. Ownership checks are the caller's responsibility.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error

	// ListTasks returns the owner's tasks in ascending creation order.
	// This order is what "task #N" references in chat resolve against.
	ListTasks(ctx context.Context, ownerID string, filter StatusFilter) ([]models.Task, error)

	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, upd models.TaskUpdate) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	SetTaskCompleted(ctx context.Context, id string, completed bool) (*models.Task, error)
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// ListConversations returns the owner's conversations, most recent first.
	ListConversations(ctx context.Context, ownerID string, activeOnly bool) ([]models.Conversation, error)

	UpdateConversation(ctx context.Context, conv *models.Conversation) error

	// DeactivateConversation soft-deletes: the transcript stays readable.
	DeactivateConversation(ctx context.Context, id string) error

	// PurgeInactiveConversations hard-deletes conversations deactivated
	// before the cutoff, together with their messages and state. Returns
	// the number of conversations removed.
	PurgeInactiveConversations(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	// AppendMessage creates an immutable message; there is no update path.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessages returns messages ordered by timestamp. With OrderDesc and
	// limit N it returns the N most recent (reverse of the ascending tail).
	// limit <= 0 means no limit.
	ListMessages(ctx context.Context, conversationID string, limit int, order MessageOrder) ([]models.Message, error)
}

// ── Conversation State Store ────────────────────────────────

// ConversationStateStore persists the one-to-one versioned state record per
// conversation. PutConversationState enforces optimistic concurrency: the
// caller passes the version it read, and a mismatch with the stored version
// fails with ErrVersionConflict (caller must reload and retry).
type ConversationStateStore interface {
	GetConversationState(ctx context.Context, conversationID string) (*models.ConversationState, error)
	PutConversationState(ctx context.Context, state *models.ConversationState) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrUnauthorized is returned when a caller is not the owner of the entity
// it tries to read or mutate.
type ErrUnauthorized struct {
	Entity string
	Key    string
}

func (e *ErrUnauthorized) Error() string {
	return "not authorized for " + e.Entity + ": " + e.Key
}

// ErrVersionConflict is returned by PutConversationState when the write
// carries a version that no longer matches the stored record.
type ErrVersionConflict struct {
	ConversationID string
	Expected       int
	Actual         int
}

func (e *ErrVersionConflict) Error() string {
	return "conversation state version conflict for " + e.ConversationID
}

// IsNotFound reports whether err is (or wraps) an ErrNotFound.
func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// IsUnauthorized reports whether err is (or wraps) an ErrUnauthorized.
func IsUnauthorized(err error) bool {
	var target *ErrUnauthorized
	return errors.As(err, &target)
}

// IsVersionConflict reports whether err is (or wraps) an ErrVersionConflict.
func IsVersionConflict(err error) bool {
	var target *ErrVersionConflict
	return errors.As(err, &target)
}
