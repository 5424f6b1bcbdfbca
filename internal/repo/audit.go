package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"orderline/internal/domain"
)

type AuditFilters struct {
	EntityKind string
	EntityID   string
	Action     string
	ActorID    string
	Limit      int
	Cursor     int64
}

// LatestAudit returns audit entries newest first.
func (r Repo) LatestAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,entity_kind,entity_id,action,actor_id,old_value,new_value,description FROM audit_log %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryAudit(ctx, query, args...)
}

// AuditAfter returns entries with IDs greater than the cursor in ascending
// order. The webhook sweeper pages through the log with this.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,entity_kind,entity_id,action,actor_id,old_value,new_value,description FROM audit_log %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryAudit(ctx, query, args...)
}

// LatestAuditID returns the most recent audit entry ID.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var entityID, oldValue, newValue, description sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.EntityKind, &entityID, &e.Action, &e.ActorID, &oldValue, &newValue, &description); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if oldValue.Valid {
			e.OldValue = oldValue.String
		}
		if newValue.Valid {
			e.NewValue = newValue.String
		}
		if description.Valid {
			e.Description = description.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
