package repo

import (
	"context"
	"database/sql"
	"strings"

	"orderline/internal/domain"
)

const askingColumns = `id,order_id,instance_id,title,stage,assignee_id,deadline,mandatory,completed_at,completed_by,completion_notes,created_at,updated_at`

func scanAskingTask(row interface{ Scan(...any) error }) (domain.AskingTask, error) {
	var a domain.AskingTask
	var assigneeID, deadline, completedAt, completedBy, notes sql.NullString
	var mandatory int
	err := row.Scan(&a.ID, &a.OrderID, &a.InstanceID, &a.Title, &a.Stage, &assigneeID, &deadline,
		&mandatory, &completedAt, &completedBy, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if assigneeID.Valid {
		a.AssigneeID = &assigneeID.String
	}
	if deadline.Valid {
		a.Deadline = &deadline.String
	}
	a.Mandatory = mandatory != 0
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	if completedBy.Valid {
		a.CompletedBy = &completedBy.String
	}
	if notes.Valid {
		a.CompletionNotes = &notes.String
	}
	return a, nil
}

func (r Repo) InsertAskingTaskTx(ctx context.Context, tx *sql.Tx, a domain.AskingTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO asking_tasks(id,order_id,instance_id,title,stage,assignee_id,deadline,mandatory,completed_at,completed_by,completion_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrderID, a.InstanceID, a.Title, a.Stage, nullableStringPtr(a.AssigneeID), nullableStringPtr(a.Deadline),
		boolInt(a.Mandatory), nullableStringPtr(a.CompletedAt), nullableStringPtr(a.CompletedBy), nullableStringPtr(a.CompletionNotes),
		a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAskingTaskTx(ctx context.Context, tx *sql.Tx, a domain.AskingTask) error {
	_, err := tx.ExecContext(ctx, `UPDATE asking_tasks SET title=?, stage=?, assignee_id=?, deadline=?, completed_at=?, completed_by=?, completion_notes=?, updated_at=? WHERE id=?`,
		a.Title, a.Stage, nullableStringPtr(a.AssigneeID), nullableStringPtr(a.Deadline),
		nullableStringPtr(a.CompletedAt), nullableStringPtr(a.CompletedBy), nullableStringPtr(a.CompletionNotes), a.UpdatedAt, a.ID)
	return err
}

func (r Repo) GetAskingTask(ctx context.Context, id string) (domain.AskingTask, error) {
	return scanAskingTask(r.DB.QueryRowContext(ctx, `SELECT `+askingColumns+` FROM asking_tasks WHERE id=?`, id))
}

func (r Repo) GetAskingTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.AskingTask, error) {
	return scanAskingTask(tx.QueryRowContext(ctx, `SELECT `+askingColumns+` FROM asking_tasks WHERE id=?`, id))
}

// DeleteAskingTasksByInstanceTx removes an instance's asking task and its
// stage history. History deletion here is the single exception to
// append-only: it only happens when the owning task is removed with it.
func (r Repo) DeleteAskingTasksByInstanceTx(ctx context.Context, tx *sql.Tx, instanceID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_history WHERE asking_task_id IN (SELECT id FROM asking_tasks WHERE instance_id=?)`, instanceID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM asking_tasks WHERE instance_id=?`, instanceID)
	return err
}

type AskingTaskFilters struct {
	OrderID         string
	Stage           string
	AssigneeID      string
	Completed       *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListAskingTasks(ctx context.Context, f AskingTaskFilters) ([]domain.AskingTask, error) {
	var clauses []string
	var args []any
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Completed != nil {
		if *f.Completed {
			clauses = append(clauses, "completed_at IS NOT NULL")
		} else {
			clauses = append(clauses, "completed_at IS NULL")
		}
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + askingColumns + ` FROM asking_tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AskingTask
	for rows.Next() {
		a, err := scanAskingTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListAskingAutoAssignCandidatesTx returns an order's unassigned, incomplete
// asking tasks with their service auto-assign config.
func (r Repo) ListAskingAutoAssignCandidatesTx(ctx context.Context, tx *sql.Tx, orderID string) ([]AutoAssignCandidate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT a.id, s.id, s.auto_assign_enabled, COALESCE(s.auto_assign_user_id,'')
FROM asking_tasks a
JOIN service_instances si ON si.id = a.instance_id
JOIN services s ON s.id = si.service_id
WHERE a.order_id=? AND a.assignee_id IS NULL AND a.completed_at IS NULL
ORDER BY a.created_at ASC, a.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutoAssignCandidates(rows)
}

// --- stage history ---

// InsertStageEntryTx appends one history row. A nil field means "not
// recorded" and stays NULL; a non-nil empty string is a recorded clear and
// is stored as ''.
func (r Repo) InsertStageEntryTx(ctx context.Context, tx *sql.Tx, e domain.StageEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_history(asking_task_id,stage,confirmation,staff_name,note,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.AskingTaskID, e.Stage, recordedField(e.Confirmation), recordedField(e.StaffName), recordedField(e.Note), e.ActorID, e.CreatedAt)
	return err
}

func recordedField(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// ListStageEntries returns an asking task's history, oldest first.
func (r Repo) ListStageEntries(ctx context.Context, askingTaskID string) ([]domain.StageEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,asking_task_id,stage,confirmation,staff_name,note,actor_id,created_at FROM stage_history WHERE asking_task_id=? ORDER BY id ASC`, askingTaskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageEntry
	for rows.Next() {
		var e domain.StageEntry
		var confirmation, staffName, note sql.NullString
		if err := rows.Scan(&e.ID, &e.AskingTaskID, &e.Stage, &confirmation, &staffName, &note, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if confirmation.Valid {
			e.Confirmation = &confirmation.String
		}
		if staffName.Valid {
			e.StaffName = &staffName.String
		}
		if note.Valid {
			e.Note = &note.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
