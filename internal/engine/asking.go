package engine

import (
	"context"
	"fmt"

	"orderline/internal/domain"
)

var askingStages = map[string]bool{
	"asked":         true,
	"shared":        true,
	"verified":      true,
	"informed_team": true,
}

type StageUpdateOptions struct {
	ID    string
	Stage string
	// Pointer fields distinguish "not recorded" (nil) from "recorded as
	// cleared" (empty string). A nil field leaves the previous value visible
	// in the read model.
	Confirmation *string
	StaffName    *string
	Note         *string
	ActorID      string
}

// UpdateAskingStage moves the task to the given stage and appends exactly one
// history entry. Any stage can be recorded after any other, including the
// current one; the history keeps the full trail either way.
func (e Engine) UpdateAskingStage(ctx context.Context, opts StageUpdateOptions) (domain.AskingTask, error) {
	if !askingStages[opts.Stage] {
		return domain.AskingTask{}, fmt.Errorf("invalid stage %q", opts.Stage)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AskingTask{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAskingTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.AskingTask{}, err
	}
	if a.CompletedAt != nil {
		return domain.AskingTask{}, AlreadyCompletedError{ID: a.ID}
	}
	oldStage := a.Stage
	a.Stage = opts.Stage
	a.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateAskingTaskTx(ctx, tx, a); err != nil {
		return domain.AskingTask{}, err
	}
	entry := domain.StageEntry{
		AskingTaskID: a.ID,
		Stage:        opts.Stage,
		Confirmation: opts.Confirmation,
		StaffName:    opts.StaffName,
		Note:         opts.Note,
		ActorID:      opts.ActorID,
		CreatedAt:    a.UpdatedAt,
	}
	if err := e.Repo.InsertStageEntryTx(ctx, tx, entry); err != nil {
		return domain.AskingTask{}, err
	}
	err = e.Audit.Record(ctx, tx, "asking_task", a.ID, "asking_task.stage.updated", opts.ActorID,
		oldStage, opts.Stage, "")
	if err != nil {
		return domain.AskingTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AskingTask{}, err
	}
	return a, nil
}

// AssignAskingTask sets the assignee. Unlike direct tasks, assignment carries
// no status change; it only locks the instance against removal.
func (e Engine) AssignAskingTask(ctx context.Context, id, userID, actorID string) (domain.AskingTask, error) {
	if userID == "" {
		return domain.AskingTask{}, fmt.Errorf("assignee must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AskingTask{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAskingTaskTx(ctx, tx, id)
	if err != nil {
		return domain.AskingTask{}, err
	}
	if a.CompletedAt != nil {
		return domain.AskingTask{}, AlreadyCompletedError{ID: a.ID}
	}
	old := a.AssigneeID
	a.AssigneeID = &userID
	a.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateAskingTaskTx(ctx, tx, a); err != nil {
		return domain.AskingTask{}, err
	}
	err = e.Audit.Record(ctx, tx, "asking_task", a.ID, "asking_task.assigned", actorID,
		old, userID, "")
	if err != nil {
		return domain.AskingTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AskingTask{}, err
	}
	return a, nil
}

// CompleteAskingTask finishes the workflow at whatever stage it is in.
// Completion is final: later stage updates and re-completion are rejected.
func (e Engine) CompleteAskingTask(ctx context.Context, id, actorID string, notes *string) (domain.AskingTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AskingTask{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAskingTaskTx(ctx, tx, id)
	if err != nil {
		return domain.AskingTask{}, err
	}
	if a.CompletedAt != nil {
		return domain.AskingTask{}, AlreadyCompletedError{ID: a.ID}
	}
	ts := e.timestamp()
	a.CompletedAt = &ts
	a.CompletedBy = &actorID
	if notes != nil {
		a.CompletionNotes = notes
	}
	a.UpdatedAt = ts
	if err := e.Repo.UpdateAskingTaskTx(ctx, tx, a); err != nil {
		return domain.AskingTask{}, err
	}
	err = e.Audit.Record(ctx, tx, "asking_task", a.ID, "asking_task.completed", actorID,
		nil, a.Stage, "")
	if err != nil {
		return domain.AskingTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AskingTask{}, err
	}
	return a, nil
}

// StageState is the per-stage projection of the history: for each field the
// newest entry that recorded it wins, so an entry that omits a field does not
// erase what an earlier entry captured.
type StageState struct {
	Confirmation *string `json:"confirmation,omitempty"`
	StaffName    *string `json:"staff_name,omitempty"`
	Note         *string `json:"note,omitempty"`
	UpdatedAt    string  `json:"updated_at,omitempty" format:"date-time"`
	Entries      int     `json:"entries"`
}

type AskingTaskDetail struct {
	Task    domain.AskingTask     `json:"task"`
	History []domain.StageEntry   `json:"history"`
	Stages  map[string]StageState `json:"stages"`
}

// GetAskingTaskDetail returns the task with its full history and the
// projected per-stage state.
func (e Engine) GetAskingTaskDetail(ctx context.Context, id string) (AskingTaskDetail, error) {
	a, err := e.Repo.GetAskingTask(ctx, id)
	if err != nil {
		return AskingTaskDetail{}, err
	}
	history, err := e.Repo.ListStageEntries(ctx, id)
	if err != nil {
		return AskingTaskDetail{}, err
	}
	stages := map[string]StageState{}
	for _, entry := range history {
		st := stages[entry.Stage]
		if entry.Confirmation != nil {
			st.Confirmation = entry.Confirmation
		}
		if entry.StaffName != nil {
			st.StaffName = entry.StaffName
		}
		if entry.Note != nil {
			st.Note = entry.Note
		}
		st.UpdatedAt = entry.CreatedAt
		st.Entries++
		stages[entry.Stage] = st
	}
	return AskingTaskDetail{Task: a, History: history, Stages: stages}, nil
}
