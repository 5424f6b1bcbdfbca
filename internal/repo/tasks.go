package repo

import (
	"context"
	"database/sql"
	"strings"

	"orderline/internal/domain"
)

const taskColumns = `id,order_id,instance_id,title,status,assignee_id,priority,deadline,started_at,completed_at,completion_notes,created_at,updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var instanceID, assigneeID, deadline, startedAt, completedAt, notes sql.NullString
	var priority sql.NullInt64
	err := row.Scan(&t.ID, &t.OrderID, &instanceID, &t.Title, &t.Status, &assigneeID, &priority,
		&deadline, &startedAt, &completedAt, &notes, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if instanceID.Valid {
		t.InstanceID = &instanceID.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if notes.Valid {
		t.CompletionNotes = &notes.String
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,order_id,instance_id,title,status,assignee_id,priority,deadline,started_at,completed_at,completion_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrderID, nullableStringPtr(t.InstanceID), t.Title, t.Status, nullableStringPtr(t.AssigneeID), nullableIntPtr(t.Priority),
		nullableStringPtr(t.Deadline), nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.CompletionNotes),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, status=?, assignee_id=?, priority=?, deadline=?, started_at=?, completed_at=?, completion_notes=?, updated_at=? WHERE id=?`,
		t.Title, t.Status, nullableStringPtr(t.AssigneeID), nullableIntPtr(t.Priority), nullableStringPtr(t.Deadline),
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.CompletionNotes), t.UpdatedAt, t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// DeleteTasksByInstanceTx removes the task owned by an instance during
// instance removal. The engine only calls this for removable instances.
func (r Repo) DeleteTasksByInstanceTx(ctx context.Context, tx *sql.Tx, instanceID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE instance_id=?`, instanceID)
	return err
}

type TaskFilters struct {
	OrderID         string
	Status          string
	AssigneeID      string
	Unassigned      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Unassigned {
		clauses = append(clauses, "assignee_id IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AutoAssignCandidate is an unassigned unit joined with its service's
// auto-assignment configuration.
type AutoAssignCandidate struct {
	UnitID     string
	ServiceID  string
	Enabled    bool
	TargetUser string
}

// ListTaskAutoAssignCandidatesTx returns an order's not-assigned tasks with
// their service auto-assign config, inside the caller's transaction.
func (r Repo) ListTaskAutoAssignCandidatesTx(ctx context.Context, tx *sql.Tx, orderID string) ([]AutoAssignCandidate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT t.id, s.id, s.auto_assign_enabled, COALESCE(s.auto_assign_user_id,'')
FROM tasks t
JOIN service_instances si ON si.id = t.instance_id
JOIN services s ON s.id = si.service_id
WHERE t.order_id=? AND t.assignee_id IS NULL AND t.status='not_assigned'
ORDER BY t.created_at ASC, t.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutoAssignCandidates(rows)
}

func scanAutoAssignCandidates(rows *sql.Rows) ([]AutoAssignCandidate, error) {
	var res []AutoAssignCandidate
	for rows.Next() {
		var c AutoAssignCandidate
		var enabled int
		if err := rows.Scan(&c.UnitID, &c.ServiceID, &enabled, &c.TargetUser); err != nil {
			return nil, err
		}
		c.Enabled = enabled != 0
		res = append(res, c)
	}
	return res, rows.Err()
}
