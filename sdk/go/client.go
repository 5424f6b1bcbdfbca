package orderlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Orderline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Order represents the API order model.
type Order struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Customized bool           `json:"customized"`
	FolderLink string         `json:"folder_link,omitempty"`
	Services   map[string]int `json:"services,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Deadline   string `json:"deadline,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// AskingTask represents the API asking task model (partial).
type AskingTask struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Title       string `json:"title"`
	Stage       string `json:"stage"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// StageEntry is one record in an asking task's stage history.
type StageEntry struct {
	ID           int64   `json:"id"`
	AskingTaskID string  `json:"asking_task_id"`
	Stage        string  `json:"stage"`
	Confirmation *string `json:"confirmation,omitempty"`
	StaffName    *string `json:"staff_name,omitempty"`
	Note         *string `json:"note,omitempty"`
	ActorID      string  `json:"actor_id"`
	CreatedAt    string  `json:"created_at"`
}

// AskingTaskDetail is an asking task plus its history and per-stage state.
type AskingTaskDetail struct {
	AskingTask
	History []StageEntry `json:"history"`
}

// ReconcileResult summarizes an order reconciliation.
type ReconcileResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateOrder creates an order from a template.
func (c *Client) CreateOrder(ctx context.Context, orderType string) (Order, error) {
	body := map[string]any{"type": orderType}
	var resp Order
	err := c.do(ctx, http.MethodPost, "v0/orders", body, &resp)
	return resp, err
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, "v0/orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetOrderStatus updates the order status.
func (c *Client) SetOrderStatus(ctx context.Context, id, status string) (Order, error) {
	body := map[string]any{"status": status}
	var resp Order
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/orders/%s/status", url.PathEscape(id)), body, &resp)
	return resp, err
}

// AttachFolderLink attaches the delivery folder link and returns the count of
// auto-assigned units.
func (c *Client) AttachFolderLink(ctx context.Context, id, link string) (Order, int, error) {
	body := map[string]any{"folder_link": link}
	var resp struct {
		Order        Order `json:"order"`
		AutoAssigned int   `json:"auto_assigned"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/orders/%s/folder-link", url.PathEscape(id)), body, &resp)
	return resp.Order, resp.AutoAssigned, err
}

// ReconcileServices sets the order's desired per-service counts.
func (c *Client) ReconcileServices(ctx context.Context, id string, services map[string]int) (ReconcileResult, error) {
	body := map[string]any{"services": services}
	var resp struct {
		Result ReconcileResult `json:"result"`
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("v0/orders/%s/services", url.PathEscape(id)), body, &resp)
	return resp.Result, err
}

// Tasks returns a page of tasks, optionally filtered by order.
func (c *Client) Tasks(ctx context.Context, orderID string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := "v0/tasks"
	q := url.Values{}
	if orderID != "" {
		q.Set("order_id", orderID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignTask assigns a task to a user.
func (c *Client) AssignTask(ctx context.Context, id, userID string) (Task, error) {
	body := map[string]any{"assignee_id": userID}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/assign", url.PathEscape(id)), body, &resp)
	return resp, err
}

// StartTask moves a task to in_progress.
func (c *Client) StartTask(ctx context.Context, id string) (Task, error) {
	return c.taskAction(ctx, id, "start")
}

// PauseTask pauses an in-progress task.
func (c *Client) PauseTask(ctx context.Context, id string) (Task, error) {
	return c.taskAction(ctx, id, "pause")
}

// ResumeTask resumes a paused task.
func (c *Client) ResumeTask(ctx context.Context, id string) (Task, error) {
	return c.taskAction(ctx, id, "resume")
}

// CompleteTask completes a task.
func (c *Client) CompleteTask(ctx context.Context, id, notes string) (Task, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(id)), body, &resp)
	return resp, err
}

// ScheduleTask sets deadline (RFC3339, empty clears) and priority.
func (c *Client) ScheduleTask(ctx context.Context, id string, deadline *string, priority *int) (Task, error) {
	body := map[string]any{}
	if deadline != nil {
		body["deadline"] = *deadline
	}
	if priority != nil {
		body["priority"] = *priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/tasks/%s/schedule", url.PathEscape(id)), body, &resp)
	return resp, err
}

// GetAskingTask fetches an asking task with its stage history.
func (c *Client) GetAskingTask(ctx context.Context, id string) (AskingTaskDetail, error) {
	var resp AskingTaskDetail
	err := c.do(ctx, http.MethodGet, "v0/asking-tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateAskingStage records a stage update. Nil fields are left untouched,
// empty strings clear.
func (c *Client) UpdateAskingStage(ctx context.Context, id, stage string, confirmation, staffName, note *string) (AskingTask, error) {
	body := map[string]any{"stage": stage}
	if confirmation != nil {
		body["confirmation"] = *confirmation
	}
	if staffName != nil {
		body["staff_name"] = *staffName
	}
	if note != nil {
		body["note"] = *note
	}
	var resp AskingTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/asking-tasks/%s/stage", url.PathEscape(id)), body, &resp)
	return resp, err
}

// CompleteAskingTask completes an asking task at its current stage.
func (c *Client) CompleteAskingTask(ctx context.Context, id, notes string) (AskingTask, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp AskingTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/asking-tasks/%s/complete", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) taskAction(ctx context.Context, id, verb string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/%s", url.PathEscape(id), verb), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
