package engine_test

import (
	"errors"
	"testing"

	"orderline/internal/engine"
	"orderline/internal/repo"
)

func counts(t *testing.T, env testEnv, orderID string) map[string]int {
	t.Helper()
	m, err := env.Engine.Repo.CountInstancesByService(env.Ctx, orderID)
	if err != nil {
		t.Fatalf("count instances: %v", err)
	}
	return m
}

func TestReconcileAddAndRemove(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 3, "album.design": 1, "client.review": 1},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Added != 2 || res.Removed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := counts(t, env, o.ID)
	if got["photo.editing"] != 3 {
		t.Fatalf("expected 3 editing instances, got %d", got["photo.editing"])
	}
	// each added instance gets its own task
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: o.ID})
	editing := 0
	for _, tk := range tasks {
		if tk.Title == "Photo Editing" {
			editing++
		}
	}
	if editing != 3 {
		t.Fatalf("expected 3 editing tasks, got %d", editing)
	}
	updated, _ := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if !updated.Customized {
		t.Fatalf("order should read customized after diverging from template")
	}

	res, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 1, "client.review": 1},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("reconcile back: %v", err)
	}
	if res.Added != 0 || res.Removed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	updated, _ = env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if updated.Customized {
		t.Fatalf("order matching template should not read customized")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	desired := map[string]int{"photo.editing": 2, "album.design": 1, "client.review": 1}
	if _, err := env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{OrderID: o.ID, Desired: desired, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{OrderID: o.ID, Desired: desired, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 || res.Removed != 0 {
		t.Fatalf("second run should be a no-op: %+v", res)
	}
}

func TestReconcileOmittedServiceRemoved(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 1},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	asking, _ := env.Engine.Repo.ListAskingTasks(env.Ctx, repo.AskingTaskFilters{OrderID: o.ID})
	if len(asking) != 0 {
		t.Fatalf("asking task should be gone with its instance, got %d", len(asking))
	}
	if _, ok := counts(t, env, o.ID)["client.review"]; ok {
		t.Fatalf("client.review instance not removed")
	}
}

func TestReconcileZeroCountRejected(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 0},
		ActorID: "tester",
	})
	if err == nil {
		t.Fatalf("zero count must be rejected")
	}
}

func TestReconcileRemovalProtection(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 2, "album.design": 1, "client.review": 1},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// lock one of the two editing instances by assigning its task
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: o.ID})
	var lockedID string
	for _, tk := range tasks {
		if tk.Title == "Photo Editing" {
			if _, err := env.Engine.AssignTask(env.Ctx, tk.ID, "editor-1", "tester"); err != nil {
				t.Fatal(err)
			}
			lockedID = tk.ID
			break
		}
	}

	// removal picks the unassigned instance
	res, err := env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 1, "client.review": 1},
		ActorID: "tester",
	})
	if err != nil || res.Removed != 1 {
		t.Fatalf("reconcile down: %v %+v", err, res)
	}
	remaining, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: o.ID})
	found := false
	for _, tk := range remaining {
		if tk.ID == lockedID {
			found = true
		}
	}
	if !found {
		t.Fatalf("assigned task was removed instead of the unassigned one")
	}
}

func TestReconcileCapacityExceeded(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: o.ID})
	for _, tk := range tasks {
		if tk.Title == "Photo Editing" {
			if _, err := env.Engine.AssignTask(env.Ctx, tk.ID, "editor-1", "tester"); err != nil {
				t.Fatal(err)
			}
		}
	}
	before := counts(t, env, o.ID)

	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"album.design": 1, "client.review": 1},
		ActorID: "tester",
	})
	var capErr engine.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if capErr.ServiceID != "photo.editing" || capErr.Requested != 1 || capErr.Removable != 0 {
		t.Fatalf("unexpected error detail: %+v", capErr)
	}

	// nothing changed
	if after := counts(t, env, o.ID); len(after) != len(before) {
		t.Fatalf("partial reconcile applied: before=%v after=%v", before, after)
	}
}

func TestReconcileAskingAssignmentLocks(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	review := orderAskingTasks(t, env, o.ID)["Client Review"]
	if _, err := env.Engine.AssignAskingTask(env.Ctx, review.ID, "care-1", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 1},
		ActorID: "tester",
	})
	var capErr engine.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if capErr.ServiceID != "client.review" {
		t.Fatalf("unexpected error detail: %+v", capErr)
	}
}

func TestReconcileUnknownService(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 1, "client.review": 1, "drone.footage": 1},
		ActorID: "tester",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown service, got %v", err)
	}
}

func TestReconcileLockedOrder(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetOrderStatus(env.Ctx, o.ID, "cancelled", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 2},
		ActorID: "tester",
	})
	var lockErr engine.LockedOrderError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected locked order error, got %v", err)
	}
}

func TestReconcileAddedUnitAutoAssignsWithFolderLink(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.AttachFolderLink(env.Ctx, o.ID, "https://drive.example/abc", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReconcileServices(env.Ctx, engine.ReconcileOptions{
		OrderID: o.ID,
		Desired: map[string]int{"photo.editing": 1, "album.design": 2, "client.review": 1},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OrderID: o.ID})
	for _, tk := range tasks {
		if tk.Title == "Album Design" {
			if tk.Status != "assigned" || tk.AssigneeID == nil || *tk.AssigneeID != "designer-1" {
				t.Fatalf("added unit should be born assigned: %+v", tk)
			}
		}
	}
}
