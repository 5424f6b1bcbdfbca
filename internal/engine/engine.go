package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orderline/internal/audit"
	"orderline/internal/config"
	"orderline/internal/domain"
	"orderline/internal/repo"
)

// Engine carries the order and task lifecycle operations. All mutations run
// in a single transaction and write their audit entry before committing.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SeedCatalog upserts the configured service catalog into the database so
// foreign keys and joins resolve. Called once at startup.
func (e Engine) SeedCatalog(ctx context.Context) error {
	ts := e.timestamp()
	for _, def := range e.Config.Catalog {
		svc := domain.Service{
			ID:                def.ID,
			Name:              def.Name,
			Type:              def.Type,
			TeamID:            def.Team,
			Mandatory:         def.Mandatory,
			AutoAssignEnabled: def.AutoAssign.Enabled,
			CreatedAt:         ts,
		}
		if def.AutoAssign.UserID != "" {
			u := def.AutoAssign.UserID
			svc.AutoAssignUserID = &u
		}
		if err := e.Repo.UpsertService(ctx, svc); err != nil {
			return fmt.Errorf("seed service %s: %w", def.ID, err)
		}
	}
	return nil
}

type OrderCreateOptions struct {
	ID      string
	Type    string
	ActorID string
}

// CreateOrder instantiates an order from its type's template: one service
// instance per template entry, each with its work unit built by the factory.
func (e Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.Order, error) {
	template, ok := e.Config.Templates[opts.Type]
	if !ok {
		return domain.Order{}, fmt.Errorf("unknown order type %q", opts.Type)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := e.timestamp()
	o := domain.Order{
		ID:        id,
		Type:      opts.Type,
		Status:    "pending",
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOrderTx(ctx, tx, o); err != nil {
		return domain.Order{}, err
	}
	counts := map[string]int{}
	for _, serviceID := range template {
		svc, err := e.Repo.GetServiceTx(ctx, tx, serviceID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("service %s: %w", serviceID, err)
		}
		inst := domain.ServiceInstance{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ServiceID: svc.ID,
			CreatedAt: ts,
		}
		if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
			return domain.Order{}, err
		}
		if err := e.createUnit(ctx, tx, o, inst, svc); err != nil {
			return domain.Order{}, err
		}
		counts[svc.ID]++
	}
	err = e.Audit.Record(ctx, tx, "order", o.ID, "order.created", opts.ActorID,
		nil, counts, fmt.Sprintf("order created from %s template", o.Type))
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func ensureOrderTransition(oldStatus, newStatus string) error {
	switch {
	case oldStatus == newStatus:
		return nil
	case oldStatus == "pending" && newStatus == "in_progress":
		return nil
	case oldStatus == "in_progress" && newStatus == "completed":
		return nil
	case newStatus == "cancelled" &&
		(oldStatus == "pending" || oldStatus == "in_progress"):
		return nil
	}
	return InvalidTransitionError{From: oldStatus, To: newStatus}
}

// SetOrderStatus moves an order along pending -> in_progress -> completed,
// with cancellation allowed from any non-terminal status.
func (e Engine) SetOrderStatus(ctx context.Context, orderID, status, actorID string) (domain.Order, error) {
	switch status {
	case "pending", "in_progress", "completed", "cancelled":
	default:
		return domain.Order{}, fmt.Errorf("invalid order status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := ensureOrderTransition(o.Status, status); err != nil {
		return domain.Order{}, err
	}
	oldStatus := o.Status
	o.Status = status
	o.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateOrderTx(ctx, tx, o); err != nil {
		return domain.Order{}, err
	}
	err = e.Audit.Record(ctx, tx, "order", o.ID, "order.status.changed", actorID,
		oldStatus, status, "")
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// AttachFolderLink sets the order's folder link and runs the auto-assignment
// pass over its unassigned units, all in one transaction. Returns the number
// of units assigned by the pass.
func (e Engine) AttachFolderLink(ctx context.Context, orderID, link, actorID string) (domain.Order, int, error) {
	if link == "" {
		return domain.Order{}, 0, fmt.Errorf("folder link must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, 0, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, 0, err
	}
	if o.Status == "completed" || o.Status == "cancelled" {
		return domain.Order{}, 0, LockedOrderError{OrderID: o.ID, Status: o.Status}
	}
	var oldLink string
	if o.FolderLink != nil {
		oldLink = *o.FolderLink
	}
	o.FolderLink = &link
	o.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateOrderTx(ctx, tx, o); err != nil {
		return domain.Order{}, 0, err
	}
	assigned, err := e.autoAssignPass(ctx, tx, o, actorID)
	if err != nil {
		return domain.Order{}, 0, err
	}
	err = e.Audit.Record(ctx, tx, "order", o.ID, "order.folder_link.attached", actorID,
		oldLink, link, fmt.Sprintf("auto-assigned %d unit(s)", assigned))
	if err != nil {
		return domain.Order{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, 0, err
	}
	return o, assigned, nil
}

// autoAssignPass assigns every still-unassigned unit whose service has
// auto-assignment enabled with a target user. Units that already carry an
// assignee are never touched.
func (e Engine) autoAssignPass(ctx context.Context, tx *sql.Tx, o domain.Order, actorID string) (int, error) {
	ts := e.timestamp()
	assigned := 0

	taskCands, err := e.Repo.ListTaskAutoAssignCandidatesTx(ctx, tx, o.ID)
	if err != nil {
		return 0, err
	}
	for _, c := range taskCands {
		if !c.Enabled || c.TargetUser == "" {
			continue
		}
		t, err := e.Repo.GetTaskTx(ctx, tx, c.UnitID)
		if err != nil {
			return 0, err
		}
		user := c.TargetUser
		t.AssigneeID = &user
		t.Status = "assigned"
		t.UpdatedAt = ts
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return 0, err
		}
		err = e.Audit.Record(ctx, tx, "task", t.ID, "task.auto_assigned", actorID,
			"not_assigned", "assigned", "assigned to "+user)
		if err != nil {
			return 0, err
		}
		assigned++
	}

	askingCands, err := e.Repo.ListAskingAutoAssignCandidatesTx(ctx, tx, o.ID)
	if err != nil {
		return 0, err
	}
	for _, c := range askingCands {
		if !c.Enabled || c.TargetUser == "" {
			continue
		}
		a, err := e.Repo.GetAskingTaskTx(ctx, tx, c.UnitID)
		if err != nil {
			return 0, err
		}
		user := c.TargetUser
		a.AssigneeID = &user
		a.UpdatedAt = ts
		if err := e.Repo.UpdateAskingTaskTx(ctx, tx, a); err != nil {
			return 0, err
		}
		err = e.Audit.Record(ctx, tx, "asking_task", a.ID, "asking_task.auto_assigned", actorID,
			nil, user, "")
		if err != nil {
			return 0, err
		}
		assigned++
	}
	return assigned, nil
}

// createUnit builds the work unit for a service instance: a direct task for
// direct services, an asking task for asking services. When the order already
// has a folder link and the service auto-assigns, the unit starts assigned.
func (e Engine) createUnit(ctx context.Context, tx *sql.Tx, o domain.Order, inst domain.ServiceInstance, svc domain.Service) error {
	ts := e.timestamp()
	var assignee *string
	if o.FolderLink != nil && svc.AutoAssignEnabled &&
		svc.AutoAssignUserID != nil && *svc.AutoAssignUserID != "" {
		user := *svc.AutoAssignUserID
		assignee = &user
	}

	if svc.Type == "asking" {
		a := domain.AskingTask{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			InstanceID: inst.ID,
			Title:      svc.Name,
			Stage:      "asked",
			AssigneeID: assignee,
			Mandatory:  svc.Mandatory,
			CreatedAt:  ts,
			UpdatedAt:  ts,
		}
		return e.Repo.InsertAskingTaskTx(ctx, tx, a)
	}

	instID := inst.ID
	t := domain.Task{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		InstanceID: &instID,
		Title:      svc.Name,
		Status:     "not_assigned",
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	if assignee != nil {
		t.AssigneeID = assignee
		t.Status = "assigned"
	}
	return e.Repo.InsertTaskTx(ctx, tx, t)
}
