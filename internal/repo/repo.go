package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"orderline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- services (catalog, read-mostly) ---

// UpsertService seeds one catalog row. Only bootstrap writes services; the
// engine treats the catalog as read-only.
func (r Repo) UpsertService(ctx context.Context, svc domain.Service) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO services(id,name,type,team_id,mandatory,auto_assign_enabled,auto_assign_user_id,created_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, team_id=excluded.team_id, mandatory=excluded.mandatory,
auto_assign_enabled=excluded.auto_assign_enabled, auto_assign_user_id=excluded.auto_assign_user_id`,
		svc.ID, svc.Name, svc.Type, svc.TeamID, boolInt(svc.Mandatory), boolInt(svc.AutoAssignEnabled), nullableStringPtr(svc.AutoAssignUserID), svc.CreatedAt)
	return err
}

func scanService(row interface{ Scan(...any) error }) (domain.Service, error) {
	var s domain.Service
	var mandatory, autoEnabled int
	var autoUser sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Type, &s.TeamID, &mandatory, &autoEnabled, &autoUser, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Mandatory = mandatory != 0
	s.AutoAssignEnabled = autoEnabled != 0
	if autoUser.Valid {
		s.AutoAssignUserID = &autoUser.String
	}
	return s, nil
}

const serviceColumns = `id,name,type,team_id,mandatory,auto_assign_enabled,auto_assign_user_id,created_at`

func (r Repo) GetService(ctx context.Context, id string) (domain.Service, error) {
	return scanService(r.DB.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=?`, id))
}

func (r Repo) GetServiceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Service, error) {
	return scanService(tx.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=?`, id))
}

func (r Repo) ListServices(ctx context.Context) ([]domain.Service, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- orders ---

const orderColumns = `id,type,status,folder_link,customized,created_at,updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	var folder sql.NullString
	var customized int
	err := row.Scan(&o.ID, &o.Type, &o.Status, &folder, &customized, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if folder.Valid {
		o.FolderLink = &folder.String
	}
	o.Customized = customized != 0
	return o, nil
}

func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders(id,type,status,folder_link,customized,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.Type, o.Status, nullableStringPtr(o.FolderLink), boolInt(o.Customized), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET type=?, status=?, folder_link=?, customized=?, updated_at=? WHERE id=?`,
		o.Type, o.Status, nullableStringPtr(o.FolderLink), boolInt(o.Customized), o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id))
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.Order, error) {
	return scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id))
}

type OrderFilters struct {
	Status          string
	Type            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- service instances ---

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, inst domain.ServiceInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO service_instances(id,order_id,service_id,created_at) VALUES (?,?,?,?)`,
		inst.ID, inst.OrderID, inst.ServiceID, inst.CreatedAt)
	return err
}

func (r Repo) DeleteInstanceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM service_instances WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListInstances(ctx context.Context, orderID string) ([]domain.ServiceInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,order_id,service_id,created_at FROM service_instances WHERE order_id=? ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceInstance
	for rows.Next() {
		var inst domain.ServiceInstance
		if err := rows.Scan(&inst.ID, &inst.OrderID, &inst.ServiceID, &inst.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, inst)
	}
	return res, rows.Err()
}

// InstanceState is an instance joined with its downstream unit, if any.
// Assigned instances are locked against removal.
type InstanceState struct {
	Instance domain.ServiceInstance
	UnitKind string // "direct", "asking" or "" when no unit exists
	UnitID   string
	Assigned bool
}

// ListInstanceStatesTx loads every instance of an order together with its
// downstream unit inside the caller's transaction, so the removable/locked
// partition cannot race a concurrent reconciliation.
func (r Repo) ListInstanceStatesTx(ctx context.Context, tx *sql.Tx, orderID string) ([]InstanceState, error) {
	rows, err := tx.QueryContext(ctx, `SELECT si.id, si.order_id, si.service_id, si.created_at,
	t.id, t.assignee_id, a.id, a.assignee_id
FROM service_instances si
LEFT JOIN tasks t ON t.instance_id = si.id
LEFT JOIN asking_tasks a ON a.instance_id = si.id
WHERE si.order_id=?
ORDER BY si.created_at ASC, si.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []InstanceState
	for rows.Next() {
		var st InstanceState
		var taskID, taskAssignee, askingID, askingAssignee sql.NullString
		if err := rows.Scan(&st.Instance.ID, &st.Instance.OrderID, &st.Instance.ServiceID, &st.Instance.CreatedAt,
			&taskID, &taskAssignee, &askingID, &askingAssignee); err != nil {
			return nil, err
		}
		switch {
		case taskID.Valid:
			st.UnitKind = "direct"
			st.UnitID = taskID.String
			st.Assigned = taskAssignee.Valid
		case askingID.Valid:
			st.UnitKind = "asking"
			st.UnitID = askingID.String
			st.Assigned = askingAssignee.Valid
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// CountInstancesByService groups an order's instances by service id.
func (r Repo) CountInstancesByService(ctx context.Context, orderID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT service_id, count(*) FROM service_instances WHERE order_id=? GROUP BY service_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var serviceID string
		var count int
		if err := rows.Scan(&serviceID, &count); err != nil {
			return nil, err
		}
		res[serviceID] = count
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
