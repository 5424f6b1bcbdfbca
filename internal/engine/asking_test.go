package engine_test

import (
	"errors"
	"testing"

	"orderline/internal/engine"
)

func strptr(s string) *string { return &s }

func newAskingTask(t *testing.T, env testEnv) string {
	t.Helper()
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{Type: "standard", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	return orderAskingTasks(t, env, o.ID)["Client Review"].ID
}

func TestStageUpdatesAppendHistory(t *testing.T) {
	env := newTestEnv(t)
	id := newAskingTask(t, env)

	a, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "shared", Confirmation: strptr("email"), StaffName: strptr("Ann"), ActorID: "ann",
	})
	if err != nil || a.Stage != "shared" {
		t.Fatalf("to shared: %v", err)
	}
	a, err = env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "verified", Note: strptr("client confirmed by phone"), ActorID: "ann",
	})
	if err != nil || a.Stage != "verified" {
		t.Fatalf("to verified: %v", err)
	}
	a, err = env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "informed_team", ActorID: "ann",
	})
	if err != nil || a.Stage != "informed_team" {
		t.Fatalf("to informed_team: %v", err)
	}

	detail, err := env.Engine.GetAskingTaskDetail(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(detail.History))
	}
	for i := 1; i < len(detail.History); i++ {
		if detail.History[i].ID <= detail.History[i-1].ID {
			t.Fatalf("history out of order: %+v", detail.History)
		}
	}
	// the materialized stage matches the newest entry
	if last := detail.History[len(detail.History)-1]; last.Stage != detail.Task.Stage {
		t.Fatalf("stage %s diverges from newest entry %s", detail.Task.Stage, last.Stage)
	}
}

func TestStageRegressionAllowed(t *testing.T) {
	env := newTestEnv(t)
	id := newAskingTask(t, env)

	if _, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{ID: id, Stage: "verified", ActorID: "ann"}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{ID: id, Stage: "shared", ActorID: "ann"})
	if err != nil || a.Stage != "shared" {
		t.Fatalf("regression to shared: %v", err)
	}
	detail, _ := env.Engine.GetAskingTaskDetail(env.Ctx, id)
	if len(detail.History) != 2 {
		t.Fatalf("regression must append, not rewrite: %d entries", len(detail.History))
	}
}

func TestStageFieldProjection(t *testing.T) {
	env := newTestEnv(t)
	id := newAskingTask(t, env)

	_, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "shared", Confirmation: strptr("email"), StaffName: strptr("Ann"), ActorID: "ann",
	})
	if err != nil {
		t.Fatal(err)
	}
	// omitted fields leave earlier values visible
	_, err = env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "shared", Note: strptr("resent the link"), ActorID: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	detail, err := env.Engine.GetAskingTaskDetail(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	shared := detail.Stages["shared"]
	if shared.Entries != 2 {
		t.Fatalf("expected 2 entries for shared, got %d", shared.Entries)
	}
	if shared.Confirmation == nil || *shared.Confirmation != "email" {
		t.Fatalf("omitted confirmation erased earlier value: %+v", shared)
	}
	if shared.Note == nil || *shared.Note != "resent the link" {
		t.Fatalf("note not projected: %+v", shared)
	}

	// an explicit empty string clears the field without losing the trail
	_, err = env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{
		ID: id, Stage: "shared", Confirmation: strptr(""), ActorID: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	detail, _ = env.Engine.GetAskingTaskDetail(env.Ctx, id)
	shared = detail.Stages["shared"]
	if shared.Confirmation == nil || *shared.Confirmation != "" {
		t.Fatalf("explicit clear not recorded: %+v", shared)
	}
	if len(detail.History) != 3 {
		t.Fatalf("history lost entries: %d", len(detail.History))
	}
}

func TestInvalidStageRejected(t *testing.T) {
	env := newTestEnv(t)
	id := newAskingTask(t, env)
	_, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{ID: id, Stage: "archived", ActorID: "ann"})
	if err == nil {
		t.Fatalf("expected invalid stage error")
	}
	detail, _ := env.Engine.GetAskingTaskDetail(env.Ctx, id)
	if len(detail.History) != 0 {
		t.Fatalf("rejected update must not append history")
	}
}

func TestCompleteAskingTask(t *testing.T) {
	env := newTestEnv(t)
	id := newAskingTask(t, env)

	if _, err := env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{ID: id, Stage: "shared", ActorID: "ann"}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.CompleteAskingTask(env.Ctx, id, "ann", strptr("client happy"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// completion freezes the stage where it was
	if a.Stage != "shared" || a.CompletedAt == nil {
		t.Fatalf("unexpected state after completion: %+v", a)
	}
	if a.CompletedBy == nil || *a.CompletedBy != "ann" {
		t.Fatalf("completed_by not recorded: %+v", a)
	}

	var doneErr engine.AlreadyCompletedError
	_, err = env.Engine.CompleteAskingTask(env.Ctx, id, "bob", nil)
	if !errors.As(err, &doneErr) {
		t.Fatalf("expected already completed, got %v", err)
	}
	_, err = env.Engine.UpdateAskingStage(env.Ctx, engine.StageUpdateOptions{ID: id, Stage: "verified", ActorID: "bob"})
	if !errors.As(err, &doneErr) {
		t.Fatalf("expected already completed on stage update, got %v", err)
	}
	if doneErr.ID != id {
		t.Fatalf("unexpected error detail: %+v", doneErr)
	}
	_, err = env.Engine.AssignAskingTask(env.Ctx, id, "carol", "bob")
	if !errors.As(err, &doneErr) {
		t.Fatalf("expected already completed on assign, got %v", err)
	}
}
