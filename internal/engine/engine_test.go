package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderline/internal/config"
	"orderline/internal/db"
	"orderline/internal/domain"
	"orderline/internal/engine"
	"orderline/internal/migrate"
	"orderline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedCatalog(ctx); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func orderTasks(t *testing.T, env testEnv, orderID string) map[string]domain.Task {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: orderID})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	byTitle := map[string]domain.Task{}
	for _, tk := range tasks {
		byTitle[tk.Title] = tk
	}
	return byTitle
}

func orderAskingTasks(t *testing.T, env testEnv, orderID string) map[string]domain.AskingTask {
	t.Helper()
	tasks, err := env.Engine.Repo.ListAskingTasks(env.Ctx, repo.AskingTaskFilters{OrderID: orderID})
	if err != nil {
		t.Fatalf("list asking tasks: %v", err)
	}
	byTitle := map[string]domain.AskingTask{}
	for _, a := range tasks {
		byTitle[a.Title] = a
	}
	return byTitle
}

func TestCreateOrderFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.Status != "pending" || o.Customized {
		t.Fatalf("unexpected order: %+v", o)
	}

	instances, err := env.Engine.Repo.ListInstances(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}

	tasks := orderTasks(t, env, o.ID)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 direct tasks, got %d", len(tasks))
	}
	for title, tk := range tasks {
		if tk.Status != "not_assigned" || tk.AssigneeID != nil {
			t.Fatalf("task %s should start unassigned: %+v", title, tk)
		}
	}

	asking := orderAskingTasks(t, env, o.ID)
	review, ok := asking["Client Review"]
	if !ok {
		t.Fatalf("missing asking task for client review")
	}
	if review.Stage != "asked" || !review.Mandatory || review.CompletedAt != nil {
		t.Fatalf("unexpected asking task: %+v", review)
	}
}

func TestCreateOrderUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "deluxe", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected error for unknown order type")
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// pending cannot jump straight to completed
	_, err = env.Engine.SetOrderStatus(env.Ctx, o.ID, "completed", "tester")
	var transErr engine.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	o, err = env.Engine.SetOrderStatus(env.Ctx, o.ID, "in_progress", "tester")
	if err != nil || o.Status != "in_progress" {
		t.Fatalf("to in_progress: %v", err)
	}
	o, err = env.Engine.SetOrderStatus(env.Ctx, o.ID, "completed", "tester")
	if err != nil || o.Status != "completed" {
		t.Fatalf("to completed: %v", err)
	}
	// terminal states are terminal
	_, err = env.Engine.SetOrderStatus(env.Ctx, o.ID, "cancelled", "tester")
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition from completed, got %v", err)
	}
}

func TestDirectTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	tk := orderTasks(t, env, o.ID)["Photo Editing"]

	// cannot start before assignment
	_, err = env.Engine.StartTask(env.Ctx, tk.ID, "tester")
	var transErr engine.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	tk, err = env.Engine.AssignTask(env.Ctx, tk.ID, "editor-1", "tester")
	if err != nil || tk.Status != "assigned" {
		t.Fatalf("assign: %v", err)
	}
	tk, err = env.Engine.StartTask(env.Ctx, tk.ID, "tester")
	if err != nil || tk.Status != "in_progress" || tk.StartedAt == nil {
		t.Fatalf("start: %v %+v", err, tk)
	}
	tk, err = env.Engine.PauseTask(env.Ctx, tk.ID, "tester")
	if err != nil || tk.Status != "paused" {
		t.Fatalf("pause: %v", err)
	}
	tk, err = env.Engine.ResumeTask(env.Ctx, tk.ID, "tester")
	if err != nil || tk.Status != "in_progress" {
		t.Fatalf("resume: %v", err)
	}
	notes := "uploaded to gallery"
	tk, err = env.Engine.CompleteTask(env.Ctx, tk.ID, "tester", &notes)
	if err != nil || tk.Status != "completed" || tk.CompletedAt == nil {
		t.Fatalf("complete: %v %+v", err, tk)
	}
	if tk.CompletionNotes == nil || *tk.CompletionNotes != notes {
		t.Fatalf("notes not recorded: %+v", tk)
	}
	// completed is terminal
	_, err = env.Engine.CompleteTask(env.Ctx, tk.ID, "tester", nil)
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition on re-complete, got %v", err)
	}
	_, err = env.Engine.StartTask(env.Ctx, tk.ID, "tester")
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition on restart, got %v", err)
	}
}

func TestCompleteTaskFromAssignedRejected(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	tk := orderTasks(t, env, o.ID)["Photo Editing"]
	if _, err := env.Engine.AssignTask(env.Ctx, tk.ID, "editor-1", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CompleteTask(env.Ctx, tk.ID, "tester", nil)
	var transErr engine.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if transErr.From != "assigned" || transErr.To != "completed" {
		t.Fatalf("unexpected error detail: %+v", transErr)
	}
}

func TestScheduleTaskAndOverdue(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	tk := orderTasks(t, env, o.ID)["Photo Editing"]

	deadline := "2024-01-02T00:00:00Z"
	priority := 2
	tk, err = env.Engine.ScheduleTask(env.Ctx, tk.ID, &deadline, &priority, "tester")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if tk.Deadline == nil || *tk.Deadline != deadline || tk.Priority == nil || *tk.Priority != priority {
		t.Fatalf("schedule not recorded: %+v", tk)
	}

	before := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	after := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if got := engine.EffectiveTaskStatus(tk, before); got != "not_assigned" {
		t.Fatalf("before deadline: got %s", got)
	}
	if got := engine.EffectiveTaskStatus(tk, after); got != "overdue" {
		t.Fatalf("past deadline: got %s", got)
	}

	// the stored status is untouched by derivation
	stored, err := env.Engine.Repo.GetTask(env.Ctx, tk.ID)
	if err != nil || stored.Status != "not_assigned" {
		t.Fatalf("stored status changed: %v %+v", err, stored)
	}

	// completed tasks never read as overdue
	tk, _ = env.Engine.AssignTask(env.Ctx, tk.ID, "editor-1", "tester")
	tk, _ = env.Engine.StartTask(env.Ctx, tk.ID, "tester")
	tk, err = env.Engine.CompleteTask(env.Ctx, tk.ID, "tester", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := engine.EffectiveTaskStatus(tk, after); got != "completed" {
		t.Fatalf("completed past deadline: got %s", got)
	}
}

func TestFolderLinkAutoAssign(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// manually assign the non-auto task first; the trigger must not touch it
	editing := orderTasks(t, env, o.ID)["Photo Editing"]
	if _, err := env.Engine.AssignTask(env.Ctx, editing.ID, "editor-7", "tester"); err != nil {
		t.Fatal(err)
	}

	o, assigned, err := env.Engine.AttachFolderLink(env.Ctx, o.ID, "https://drive.example/abc", "tester")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if o.FolderLink == nil || *o.FolderLink != "https://drive.example/abc" {
		t.Fatalf("link not stored: %+v", o)
	}
	if assigned != 1 {
		t.Fatalf("expected 1 auto-assignment, got %d", assigned)
	}

	tasks := orderTasks(t, env, o.ID)
	design := tasks["Album Design"]
	if design.Status != "assigned" || design.AssigneeID == nil || *design.AssigneeID != "designer-1" {
		t.Fatalf("auto-assign missed: %+v", design)
	}
	editing = tasks["Photo Editing"]
	if editing.AssigneeID == nil || *editing.AssigneeID != "editor-7" {
		t.Fatalf("manual assignment overwritten: %+v", editing)
	}
	review := orderAskingTasks(t, env, o.ID)["Client Review"]
	if review.AssigneeID != nil {
		t.Fatalf("non-auto asking task should stay unassigned: %+v", review)
	}

	// re-attaching never reassigns
	_, assigned, err = env.Engine.AttachFolderLink(env.Ctx, o.ID, "https://drive.example/v2", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if assigned != 0 {
		t.Fatalf("expected no reassignment, got %d", assigned)
	}
}

func TestAttachFolderLinkLockedOrder(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetOrderStatus(env.Ctx, o.ID, "cancelled", "tester"); err != nil {
		t.Fatal(err)
	}
	_, _, err = env.Engine.AttachFolderLink(env.Ctx, o.ID, "https://drive.example/abc", "tester")
	var lockErr engine.LockedOrderError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected locked order error, got %v", err)
	}
	if lockErr.Status != "cancelled" {
		t.Fatalf("unexpected error detail: %+v", lockErr)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.LatestAudit(env.Ctx, repo.AuditFilters{EntityID: o.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected single audit entry for creation, got %d", len(entries))
	}
	if entries[0].Action != "order.created" || entries[0].ActorID != "alice" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}

	// failed operations write nothing
	_, err = env.Engine.SetOrderStatus(env.Ctx, o.ID, "completed", "alice")
	if err == nil {
		t.Fatal("expected transition error")
	}
	entries, _ = env.Engine.Repo.LatestAudit(env.Ctx, repo.AuditFilters{EntityID: o.ID})
	if len(entries) != 1 {
		t.Fatalf("failed operation wrote audit entries: %d", len(entries))
	}
}
