package server

import (
	"time"

	"orderline/internal/domain"
	"orderline/internal/engine"
)

type CreateOrderRequest struct {
	ID   *string `json:"id,omitempty"`
	Type string  `json:"type" example:"standard"`
}

type SetOrderStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed,cancelled"`
}

type AttachFolderLinkRequest struct {
	FolderLink string `json:"folder_link" example:"https://drive.example/orders/abc"`
}

type ReconcileRequest struct {
	Services map[string]int `json:"services" example:"{\"photo.editing\":2}"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type CompleteRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type ScheduleTaskRequest struct {
	Deadline *string `json:"deadline,omitempty" format:"date-time"`
	Priority *int    `json:"priority,omitempty"`
}

type StageUpdateRequest struct {
	Stage        string  `json:"stage" enum:"asked,shared,verified,informed_team"`
	Confirmation *string `json:"confirmation,omitempty"`
	StaffName    *string `json:"staff_name,omitempty"`
	Note         *string `json:"note,omitempty"`
}

type ServiceResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	TeamID            string `json:"team_id,omitempty"`
	Mandatory         bool   `json:"mandatory"`
	AutoAssignEnabled bool   `json:"auto_assign_enabled"`
}

type OrderResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	FolderLink *string        `json:"folder_link,omitempty"`
	Customized bool           `json:"customized"`
	Services   map[string]int `json:"services,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

type TaskResponse struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	Deadline        *string `json:"deadline,omitempty"`
	StartedAt       *string `json:"started_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type AskingTaskResponse struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	Title           string  `json:"title"`
	Stage           string  `json:"stage"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	Deadline        *string `json:"deadline,omitempty"`
	Mandatory       bool    `json:"mandatory"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	CompletedBy     *string `json:"completed_by,omitempty"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type AskingTaskDetailResponse struct {
	AskingTaskResponse
	History []domain.StageEntry          `json:"history"`
	Stages  map[string]engine.StageState `json:"stages"`
}

type AuditEntryResponse struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	Action      string `json:"action"`
	ActorID     string `json:"actor_id"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	Description string `json:"description,omitempty"`
}

func auditResponse(a domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:          a.ID,
		TS:          a.TS,
		EntityKind:  a.EntityKind,
		EntityID:    a.EntityID,
		Action:      a.Action,
		ActorID:     a.ActorID,
		OldValue:    a.OldValue,
		NewValue:    a.NewValue,
		Description: a.Description,
	}
}

type paginatedOrders struct {
	Items      []OrderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func serviceResponse(s domain.Service) ServiceResponse {
	return ServiceResponse{
		ID:                s.ID,
		Name:              s.Name,
		Type:              s.Type,
		TeamID:            s.TeamID,
		Mandatory:         s.Mandatory,
		AutoAssignEnabled: s.AutoAssignEnabled,
	}
}

func orderResponse(o domain.Order, services map[string]int) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		Type:       o.Type,
		Status:     o.Status,
		FolderLink: o.FolderLink,
		Customized: o.Customized,
		Services:   services,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

// taskResponse derives the read-time status, so a task past its deadline
// reads overdue without touching the stored row.
func taskResponse(t domain.Task, now time.Time) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		OrderID:         t.OrderID,
		Title:           t.Title,
		Status:          engine.EffectiveTaskStatus(t, now),
		AssigneeID:      t.AssigneeID,
		Priority:        t.Priority,
		Deadline:        t.Deadline,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		CompletionNotes: t.CompletionNotes,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func mapTasks(tasks []domain.Task, now time.Time) []TaskResponse {
	res := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskResponse(t, now))
	}
	return res
}

func askingTaskResponse(a domain.AskingTask) AskingTaskResponse {
	return AskingTaskResponse{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Title:           a.Title,
		Stage:           a.Stage,
		AssigneeID:      a.AssigneeID,
		Deadline:        a.Deadline,
		Mandatory:       a.Mandatory,
		CompletedAt:     a.CompletedAt,
		CompletedBy:     a.CompletedBy,
		CompletionNotes: a.CompletionNotes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
