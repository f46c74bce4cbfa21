package chat_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/tasknest/tasknest/internal/chat"
	"github.com/tasknest/tasknest/internal/intent"
	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/internal/tools"
	"github.com/tasknest/tasknest/pkg/models"
)

func newTestOrchestrator(t *testing.T) (*chat.Orchestrator, store.Store) {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("TASKNEST_DATA_DIR", dir)
	defer os.Unsetenv("TASKNEST_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	registry := tools.NewRegistry(s)
	resolver := intent.NewPatternResolver(s)
	return chat.NewOrchestrator(s, registry, resolver), s
}

func turn(t *testing.T, o *chat.Orchestrator, ownerID string, req models.ChatRequest) *models.ChatResponse {
	t.Helper()
	resp, err := o.HandleTurn(context.Background(), ownerID, req)
	if err != nil {
		t.Fatalf("HandleTurn(%q) error = %v", req.Message, err)
	}
	return resp
}

func TestHandleTurn_CreatesConversationAndTask(t *testing.T) {
	o, s := newTestOrchestrator(t)
	ctx := context.Background()

	resp := turn(t, o, "alice", models.ChatRequest{Message: "add a task to buy milk"})
	if resp.ConversationID == "" {
		t.Fatal("response has no conversation id")
	}
	if !resp.TaskCreated || resp.TaskID == "" {
		t.Fatalf("TaskCreated = %v, TaskID = %q", resp.TaskCreated, resp.TaskID)
	}
	if len(resp.ActionsTaken) != 1 || resp.ActionsTaken[0].ToolName != tools.ToolCreateTask {
		t.Fatalf("ActionsTaken = %+v, want one create_task", resp.ActionsTaken)
	}

	task, err := s.GetTask(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Title != "Buy Milk" {
		t.Errorf("task.Title = %q, want %q", task.Title, "Buy Milk")
	}
	if task.OwnerID != "alice" {
		t.Errorf("task.OwnerID = %q, want alice", task.OwnerID)
	}

	// Both sides of the turn are on the transcript, user then assistant.
	msgs, err := s.ListMessages(ctx, resp.ConversationID, 0, store.OrderAsc)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "add a task to buy milk" {
		t.Errorf("msgs[0] = %+v, want the user utterance", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != resp.Response {
		t.Errorf("msgs[1] = %+v, want the assistant reply", msgs[1])
	}
}

func TestHandleTurn_ContinuesConversation(t *testing.T) {
	o, s := newTestOrchestrator(t)

	first := turn(t, o, "alice", models.ChatRequest{Message: "hello"})
	second := turn(t, o, "alice", models.ChatRequest{
		Message:        "add a task to water plants",
		ConversationID: first.ConversationID,
	})
	if second.ConversationID != first.ConversationID {
		t.Fatalf("second turn switched conversation: %q vs %q", second.ConversationID, first.ConversationID)
	}

	msgs, err := s.ListMessages(context.Background(), first.ConversationID, 0, store.OrderAsc)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("transcript has %d messages after two turns, want 4", len(msgs))
	}
}

func TestHandleTurn_EmptyTaskList(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	resp := turn(t, o, "alice", models.ChatRequest{Message: "show my tasks"})
	if len(resp.ActionsTaken) != 0 {
		t.Errorf("ActionsTaken = %+v, want none for an empty list", resp.ActionsTaken)
	}
	if resp.Response != "You don't have any tasks yet. Want to add one?" {
		t.Errorf("Response = %q, want the empty-state prompt", resp.Response)
	}
}

func TestHandleTurn_ConversationAccessControl(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	theirs := turn(t, o, "bob", models.ChatRequest{Message: "hi"})

	_, err := o.HandleTurn(ctx, "alice", models.ChatRequest{
		Message:        "show my tasks",
		ConversationID: theirs.ConversationID,
	})
	if !store.IsUnauthorized(err) {
		t.Fatalf("HandleTurn on foreign conversation error = %v, want ErrUnauthorized", err)
	}

	_, err = o.HandleTurn(ctx, "alice", models.ChatRequest{
		Message:        "show my tasks",
		ConversationID: "no-such-conversation",
	})
	if !store.IsNotFound(err) {
		t.Fatalf("HandleTurn on unknown conversation error = %v, want ErrNotFound", err)
	}
}

func TestHandleTurn_DeleteRequiresConfirmation(t *testing.T) {
	o, s := newTestOrchestrator(t)
	ctx := context.Background()

	created := turn(t, o, "alice", models.ChatRequest{Message: "add a task to buy milk"})

	resp := turn(t, o, "alice", models.ChatRequest{
		Message:        "delete task 1",
		ConversationID: created.ConversationID,
	})
	if !resp.RequiresConfirmation {
		t.Fatal("delete turn did not require confirmation")
	}
	if resp.ConfirmAction == nil || resp.ConfirmAction.ToolName != tools.ToolDeleteTask {
		t.Fatalf("ConfirmAction = %+v, want delete_task echo", resp.ConfirmAction)
	}
	if len(resp.ActionsTaken) != 0 {
		t.Errorf("ActionsTaken = %+v, want none before confirmation", resp.ActionsTaken)
	}
	if _, err := s.GetTask(ctx, created.TaskID); err != nil {
		t.Fatalf("task deleted before confirmation: %v", err)
	}
}

func TestHandleTurn_ConfirmViaEcho(t *testing.T) {
	o, s := newTestOrchestrator(t)
	ctx := context.Background()

	first := turn(t, o, "alice", models.ChatRequest{Message: "add a task to buy milk"})
	turn(t, o, "alice", models.ChatRequest{Message: "add a task to walk the dog", ConversationID: first.ConversationID})
	turn(t, o, "alice", models.ChatRequest{Message: "add a task to pay rent", ConversationID: first.ConversationID})

	prompt := turn(t, o, "alice", models.ChatRequest{
		Message:        "delete task #2",
		ConversationID: first.ConversationID,
	})
	if prompt.ConfirmAction == nil {
		t.Fatal("delete turn returned no confirm action")
	}

	resp := turn(t, o, "alice", models.ChatRequest{
		ConversationID: first.ConversationID,
		ConfirmAction:  prompt.ConfirmAction,
	})
	if len(resp.ActionsTaken) != 1 || !resp.ActionsTaken[0].Output.Success {
		t.Fatalf("confirmed delete ActionsTaken = %+v", resp.ActionsTaken)
	}

	// The task at ascending position 2 is gone; its neighbors survive.
	tasks, err := s.ListTasks(ctx, "alice", store.FilterAll)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("ListTasks() returned %d tasks after delete, want 2", len(tasks))
	}
	if tasks[0].Title != "Buy Milk" || tasks[1].Title != "Pay Rent" {
		t.Errorf("remaining tasks = [%q, %q], want the dog walk removed", tasks[0].Title, tasks[1].Title)
	}
}

func TestHandleTurn_ConfirmViaAffirmative(t *testing.T) {
	o, s := newTestOrchestrator(t)
	ctx := context.Background()

	created := turn(t, o, "alice", models.ChatRequest{Message: "add a task to buy milk"})
	turn(t, o, "alice", models.ChatRequest{
		Message:        "delete task 1",
		ConversationID: created.ConversationID,
	})

	resp := turn(t, o, "alice", models.ChatRequest{
		Message:        "yes",
		ConversationID: created.ConversationID,
	})
	if len(resp.ActionsTaken) != 1 || resp.ActionsTaken[0].ToolName != tools.ToolDeleteTask {
		t.Fatalf("affirmative turn ActionsTaken = %+v, want delete_task", resp.ActionsTaken)
	}
	if _, err := s.GetTask(ctx, created.TaskID); err == nil {
		t.Error("task still present after affirmative confirmation")
	}
}

func TestHandleTurn_OtherUtteranceClearsPending(t *testing.T) {
	o, s := newTestOrchestrator(t)
	ctx := context.Background()

	created := turn(t, o, "alice", models.ChatRequest{Message: "add a task to buy milk"})
	turn(t, o, "alice", models.ChatRequest{
		Message:        "delete task 1",
		ConversationID: created.ConversationID,
	})

	// A non-affirmative turn abandons the pending delete.
	turn(t, o, "alice", models.ChatRequest{
		Message:        "show my tasks",
		ConversationID: created.ConversationID,
	})

	resp := turn(t, o, "alice", models.ChatRequest{
		Message:        "yes",
		ConversationID: created.ConversationID,
	})
	if len(resp.ActionsTaken) != 0 {
		t.Fatalf("stale affirmative executed a tool: %+v", resp.ActionsTaken)
	}
	if _, err := s.GetTask(ctx, created.TaskID); err != nil {
		t.Errorf("task deleted despite abandoned confirmation: %v", err)
	}
}

// failingResolver simulates an unreachable completion backend.
type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, string, []models.Message) (*models.Intent, error) {
	return nil, errors.New("upstream unreachable")
}

func TestHandleTurn_ResolverFailureDegrades(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("TASKNEST_DATA_DIR", dir)
	defer os.Unsetenv("TASKNEST_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	o := chat.NewOrchestrator(s, tools.NewRegistry(s), failingResolver{})

	resp, err := o.HandleTurn(context.Background(), "alice", models.ChatRequest{Message: "add a task to buy milk"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v, want degraded response", err)
	}
	if len(resp.ActionsTaken) != 0 {
		t.Errorf("ActionsTaken = %+v, want none", resp.ActionsTaken)
	}
	if resp.Response != "Sorry, I'm having trouble processing your request right now. Please try again." {
		t.Errorf("Response = %q, want the apology", resp.Response)
	}

	// The user's message survived the failure.
	msgs, err := s.ListMessages(context.Background(), resp.ConversationID, 0, store.OrderAsc)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) == 0 || msgs[0].Content != "add a task to buy milk" {
		t.Errorf("transcript = %+v, want the utterance preserved", msgs)
	}
}
