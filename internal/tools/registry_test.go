package tools_test

import (
	"context"
	"os"
	"testing"

	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/internal/tools"
	"github.com/tasknest/tasknest/pkg/models"
)

func newTestRegistry(t *testing.T) (*tools.Registry, store.Store) {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("TASKNEST_DATA_DIR", dir)
	defer os.Unsetenv("TASKNEST_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return tools.NewRegistry(s), s
}

func createViaTool(t *testing.T, r *tools.Registry, ownerID, title string) string {
	t.Helper()
	res := r.Execute(context.Background(), tools.ToolCreateTask, map[string]interface{}{
		"owner_id": ownerID,
		"title":    title,
	})
	if !res.Success {
		t.Fatalf("create_task(%q) failed: %s", title, res.Error)
	}
	return res.TaskID
}

func TestList_SchemasHideConfirmedFlag(t *testing.T) {
	r, _ := newTestRegistry(t)

	schemas := r.List()
	if len(schemas) != 5 {
		t.Fatalf("List() returned %d schemas, want 5", len(schemas))
	}
	for _, schema := range schemas {
		if schema.Name != tools.ToolDeleteTask {
			continue
		}
		props, _ := schema.Parameters["properties"].(map[string]interface{})
		if _, ok := props["confirmed"]; ok {
			t.Error("delete_task schema advertises the confirmed flag")
		}
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := r.Execute(context.Background(), "summon_demon", map[string]interface{}{"owner_id": "alice"})
	if res.Success {
		t.Fatal("Execute(unknown) succeeded")
	}
	if res.ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, models.ErrKindUnknownTool)
	}

	// The name is checked before arguments, so a missing owner_id does not
	// mask the unknown tool.
	res = r.Execute(context.Background(), "summon_demon", map[string]interface{}{})
	if res.ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("ErrorKind without owner_id = %q, want %q", res.ErrorKind, models.ErrKindUnknownTool)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	res := r.Execute(ctx, tools.ToolCreateTask, map[string]interface{}{"owner_id": "alice"})
	if res.Success || res.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("create without title: Success = %v, ErrorKind = %q", res.Success, res.ErrorKind)
	}

	long := make([]byte, models.MaxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}
	res = r.Execute(ctx, tools.ToolCreateTask, map[string]interface{}{
		"owner_id": "alice",
		"title":    string(long),
	})
	if res.Success || res.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("create with oversized title: Success = %v, ErrorKind = %q", res.Success, res.ErrorKind)
	}
}

func TestCreateAndGetTasks(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	createViaTool(t, r, "alice", "Buy milk")
	createViaTool(t, r, "alice", "Walk the dog")

	res := r.Execute(ctx, tools.ToolGetTasks, map[string]interface{}{"owner_id": "alice"})
	if !res.Success {
		t.Fatalf("get_tasks failed: %s", res.Error)
	}
	if res.Count != 2 || len(res.Tasks) != 2 {
		t.Fatalf("get_tasks Count = %d, len(Tasks) = %d, want 2", res.Count, len(res.Tasks))
	}
	if res.Tasks[0].Title != "Buy milk" {
		t.Errorf("Tasks[0].Title = %q, want %q (creation order)", res.Tasks[0].Title, "Buy milk")
	}
}

func TestGetTasks_StatusFilter(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	id := createViaTool(t, r, "alice", "Done already")
	createViaTool(t, r, "alice", "Still open")

	res := r.Execute(ctx, tools.ToolCompleteTask, map[string]interface{}{
		"owner_id": "alice",
		"id":       id,
	})
	if !res.Success {
		t.Fatalf("complete_task failed: %s", res.Error)
	}

	res = r.Execute(ctx, tools.ToolGetTasks, map[string]interface{}{
		"owner_id": "alice",
		"status":   "completed",
	})
	if !res.Success || res.Count != 1 || res.Tasks[0].Title != "Done already" {
		t.Errorf("get_tasks(completed) = %+v, want one completed task", res)
	}

	res = r.Execute(ctx, tools.ToolGetTasks, map[string]interface{}{
		"owner_id": "alice",
		"status":   "bogus",
	})
	if res.Success || res.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("get_tasks(bogus status): Success = %v, ErrorKind = %q", res.Success, res.ErrorKind)
	}
}

func TestUpdateTask_OwnershipEnforced(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	id := createViaTool(t, r, "alice", "Private")

	res := r.Execute(ctx, tools.ToolUpdateTask, map[string]interface{}{
		"owner_id": "mallory",
		"id":       id,
		"title":    "Hijacked",
	})
	if res.Success {
		t.Fatal("update_task by non-owner succeeded")
	}
	if res.ErrorKind != models.ErrKindUnauthorized {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, models.ErrKindUnauthorized)
	}

	// The error must read the same as a missing task so strangers can't
	// probe for task ids.
	want := "task " + id + " not found"
	if res.Error != want {
		t.Errorf("unauthorized error = %q, want %q", res.Error, want)
	}
}

func TestDeleteTask_ConfirmationGate(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	id := createViaTool(t, r, "alice", "Doomed")

	res := r.Execute(ctx, tools.ToolDeleteTask, map[string]interface{}{
		"owner_id": "alice",
		"id":       id,
	})
	if res.Success {
		t.Fatal("delete_task without confirmed succeeded")
	}
	if !res.RequiresConfirmation {
		t.Fatal("delete_task without confirmed did not ask for confirmation")
	}
	if res.Message != "Are you sure you want to delete the task 'Doomed'?" {
		t.Errorf("confirmation message = %q", res.Message)
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		t.Fatalf("task was deleted before confirmation: %v", err)
	}

	res = r.Execute(ctx, tools.ToolDeleteTask, map[string]interface{}{
		"owner_id":  "alice",
		"id":        id,
		"confirmed": true,
	})
	if !res.Success {
		t.Fatalf("confirmed delete_task failed: %s", res.Error)
	}
	if _, err := s.GetTask(ctx, id); err == nil {
		t.Error("task still present after confirmed delete")
	}

	// Replaying the confirmed call reports not found, it must not delete twice.
	res = r.Execute(ctx, tools.ToolDeleteTask, map[string]interface{}{
		"owner_id":  "alice",
		"id":        id,
		"confirmed": true,
	})
	if res.Success || res.ErrorKind != models.ErrKindNotFound {
		t.Errorf("replayed delete: Success = %v, ErrorKind = %q", res.Success, res.ErrorKind)
	}
}

func TestCompleteTask_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	id := createViaTool(t, r, "alice", "Twice done")

	for i := 0; i < 2; i++ {
		res := r.Execute(ctx, tools.ToolCompleteTask, map[string]interface{}{
			"owner_id": "alice",
			"id":       id,
		})
		if !res.Success {
			t.Fatalf("complete_task call %d failed: %s", i+1, res.Error)
		}
		if len(res.Tasks) != 1 || !res.Tasks[0].Completed {
			t.Fatalf("complete_task call %d: task not completed", i+1)
		}
	}
}

func TestExecute_MissingOwner(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := r.Execute(context.Background(), tools.ToolGetTasks, map[string]interface{}{})
	if res.Success || res.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("Execute without owner_id: Success = %v, ErrorKind = %q", res.Success, res.ErrorKind)
	}
}
