package domain

// Service is a catalog definition. The engine reads it, never writes it.
type Service struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Type              string  `json:"type" enum:"direct,asking"`
	TeamID            string  `json:"team_id,omitempty"`
	Mandatory         bool    `json:"mandatory"`
	AutoAssignEnabled bool    `json:"auto_assign_enabled"`
	AutoAssignUserID  *string `json:"auto_assign_user_id,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type Order struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Status     string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	FolderLink *string `json:"folder_link,omitempty"`
	Customized bool    `json:"customized"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// ServiceInstance is one purchased unit of a service within an order.
// Quantity is the count of instances per (order, service); each instance
// independently tracks whether downstream work has been assigned.
type ServiceInstance struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ServiceID string `json:"service_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	InstanceID      *string `json:"instance_id,omitempty"`
	Title           string  `json:"title"`
	Status          string  `json:"status" enum:"not_assigned,assigned,in_progress,paused,completed"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	Deadline        *string `json:"deadline,omitempty" format:"date-time"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// AskingTask tracks the client-communication workflow. Completion is
// orthogonal to stage: CompletedAt non-nil means the workflow is finished,
// whatever the current stage.
type AskingTask struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	InstanceID      string  `json:"instance_id"`
	Title           string  `json:"title"`
	Stage           string  `json:"stage" enum:"asked,shared,verified,informed_team"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	Deadline        *string `json:"deadline,omitempty" format:"date-time"`
	Mandatory       bool    `json:"mandatory"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy     *string `json:"completed_by,omitempty"`
	CompletionNotes *string `json:"completion_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// StageEntry is an append-only history record for an asking task. Entries
// are never mutated or deleted; corrections are new entries.
type StageEntry struct {
	ID           int64   `json:"id"`
	AskingTaskID string  `json:"asking_task_id"`
	Stage        string  `json:"stage" enum:"asked,shared,verified,informed_team"`
	Confirmation *string `json:"confirmation,omitempty"`
	StaffName    *string `json:"staff_name,omitempty"`
	Note         *string `json:"note,omitempty"`
	ActorID      string  `json:"actor_id"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type AuditEntry struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	Action      string `json:"action"`
	ActorID     string `json:"actor_id"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	Description string `json:"description,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
