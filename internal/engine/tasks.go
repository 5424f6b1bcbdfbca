package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"orderline/internal/domain"
)

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch newStatus {
	case "assigned":
		if oldStatus == "not_assigned" || oldStatus == "assigned" {
			return nil
		}
	case "in_progress":
		if oldStatus == "assigned" || oldStatus == "paused" {
			return nil
		}
	case "paused":
		if oldStatus == "in_progress" {
			return nil
		}
	case "completed":
		if oldStatus == "in_progress" || oldStatus == "paused" {
			return nil
		}
	}
	return InvalidTransitionError{From: oldStatus, To: newStatus}
}

// AssignTask sets the task's assignee. Reassignment of an already assigned
// task is allowed; tasks that have started must be completed or paused first.
func (e Engine) AssignTask(ctx context.Context, taskID, userID, actorID string) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, fmt.Errorf("assignee must not be empty")
	}
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if err := ensureTaskTransition(t.Status, "assigned"); err != nil {
			return "", err
		}
		t.AssigneeID = &userID
		t.Status = "assigned"
		return "task.assigned", nil
	}, actorID)
}

func (e Engine) StartTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if t.Status != "assigned" {
			return "", InvalidTransitionError{From: t.Status, To: "in_progress"}
		}
		if t.StartedAt == nil {
			ts := e.timestamp()
			t.StartedAt = &ts
		}
		t.Status = "in_progress"
		return "task.started", nil
	}, actorID)
}

func (e Engine) PauseTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if t.Status != "in_progress" {
			return "", InvalidTransitionError{From: t.Status, To: "paused"}
		}
		t.Status = "paused"
		return "task.paused", nil
	}, actorID)
}

func (e Engine) ResumeTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if t.Status != "paused" {
			return "", InvalidTransitionError{From: t.Status, To: "in_progress"}
		}
		t.Status = "in_progress"
		return "task.resumed", nil
	}, actorID)
}

// CompleteTask finishes a running or paused task. A task with no assignee
// cannot be completed, whatever its status claims.
func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string, notes *string) (domain.Task, error) {
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if err := ensureTaskTransition(t.Status, "completed"); err != nil {
			return "", err
		}
		if t.AssigneeID == nil || *t.AssigneeID == "" {
			return "", InvalidTransitionError{From: t.Status, To: "completed", Reason: "task has no assignee"}
		}
		ts := e.timestamp()
		t.CompletedAt = &ts
		if notes != nil {
			t.CompletionNotes = notes
		}
		t.Status = "completed"
		return "task.completed", nil
	}, actorID)
}

// ScheduleTask sets the deadline and priority. Completed tasks are frozen.
func (e Engine) ScheduleTask(ctx context.Context, taskID string, deadline *string, priority *int, actorID string) (domain.Task, error) {
	if deadline != nil && *deadline != "" {
		if _, err := time.Parse(time.RFC3339, *deadline); err != nil {
			return domain.Task{}, fmt.Errorf("invalid deadline %q: %w", *deadline, err)
		}
	}
	return e.updateTask(ctx, taskID, func(tx *sql.Tx, t *domain.Task) (string, error) {
		if t.Status == "completed" {
			return "", InvalidTransitionError{From: "completed", To: "completed", Reason: "completed tasks cannot be rescheduled"}
		}
		if deadline != nil {
			if *deadline == "" {
				t.Deadline = nil
			} else {
				t.Deadline = deadline
			}
		}
		if priority != nil {
			t.Priority = priority
		}
		return "task.scheduled", nil
	}, actorID)
}

// updateTask loads the task, applies the mutation, persists it and records
// the audit entry, all in one transaction. The mutation returns the audit
// action name.
func (e Engine) updateTask(ctx context.Context, taskID string, mutate func(tx *sql.Tx, t *domain.Task) (string, error), actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	old := t
	action, err := mutate(tx, &t)
	if err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Audit.Record(ctx, tx, "task", t.ID, action, actorID, old, t, ""); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// EffectiveTaskStatus derives the read-time status: an uncompleted task past
// its deadline reads as overdue. The stored status never changes for this.
func EffectiveTaskStatus(t domain.Task, now time.Time) string {
	if t.CompletedAt == nil && t.Deadline != nil {
		if d, err := time.Parse(time.RFC3339, *t.Deadline); err == nil && d.Before(now) {
			return "overdue"
		}
	}
	return t.Status
}
