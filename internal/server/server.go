package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"orderline/internal/domain"
	"orderline/internal/engine"
	"orderline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"capacity_exceeded"`
	Message string         `json:"message" example:"cannot remove 2 instance(s) of service photo.editing: only 1 removable"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Orderline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Orderline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerServices(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAskingTasks(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var capErr engine.CapacityError
	if errors.As(err, &capErr) {
		return newAPIError(http.StatusConflict, "capacity_exceeded", err.Error(), map[string]any{
			"service_id": capErr.ServiceID,
			"requested":  capErr.Requested,
			"removable":  capErr.Removable,
		})
	}
	var transErr engine.InvalidTransitionError
	if errors.As(err, &transErr) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": transErr.From,
			"to":   transErr.To,
		})
	}
	var doneErr engine.AlreadyCompletedError
	if errors.As(err, &doneErr) {
		return newAPIError(http.StatusConflict, "already_completed", err.Error(), map[string]any{"id": doneErr.ID})
	}
	var lockErr engine.LockedOrderError
	if errors.As(err, &lockErr) {
		return newAPIError(http.StatusConflict, "order_locked", err.Error(), map[string]any{
			"order_id": lockErr.OrderID,
			"status":   lockErr.Status,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(createdAt, id string) string {
	return createdAt + "|" + id
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Orderline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerServices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List catalog services",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ServiceResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListServices(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ServiceResponse, 0, len(items))
		for _, s := range items {
			res = append(res, serviceResponse(s))
		}
		return &struct {
			Body []ServiceResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create order from template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.OrderCreateOptions{Type: input.Body.Type, ActorID: actorID}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		o, err := e.CreateOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountInstancesByService(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, counts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			Status:          input.Status,
			Type:            input.Type,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []OrderResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, o := range items {
			resp.Items = append(resp.Items, orderResponse(o, nil))
		}
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountInstancesByService(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, counts)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-order-status",
		Method:      http.MethodPatch,
		Path:        "/orders/{id}/status",
		Summary:     "Update order status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body SetOrderStatusRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.SetOrderStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-folder-link",
		Method:      http.MethodPost,
		Path:        "/orders/{id}/folder-link",
		Summary:     "Attach folder link and auto-assign eligible tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body AttachFolderLinkRequest `json:"body"`
	}) (*struct {
		Body struct {
			Order        OrderResponse `json:"order"`
			AutoAssigned int           `json:"auto_assigned"`
		} `json:"body"`
	}, error) {
		if input.Body.FolderLink == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "folder_link is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, assigned, err := e.AttachFolderLink(ctx, input.ID, input.Body.FolderLink, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Order        OrderResponse `json:"order"`
				AutoAssigned int           `json:"auto_assigned"`
			} `json:"body"`
		}{}
		out.Body.Order = orderResponse(o, nil)
		out.Body.AutoAssigned = assigned
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-order-services",
		Method:      http.MethodPut,
		Path:        "/orders/{id}/services",
		Summary:     "Reconcile order services to desired counts",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ReconcileRequest `json:"body"`
	}) (*struct {
		Body struct {
			Order    OrderResponse          `json:"order"`
			Result   engine.ReconcileResult `json:"result"`
			Services map[string]int         `json:"services"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReconcileServices(ctx, engine.ReconcileOptions{
			OrderID: input.ID,
			Desired: input.Body.Services,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.Repo.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountInstancesByService(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Order    OrderResponse          `json:"order"`
				Result   engine.ReconcileResult `json:"result"`
				Services map[string]int         `json:"services"`
			} `json:"body"`
		}{}
		out.Body.Order = orderResponse(o, counts)
		out.Body.Result = res
		out.Body.Services = counts
		return out, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrderID    string `query:"order_id"`
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			OrderID:         input.OrderID,
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapTasks(items, e.Now())
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	type taskAction func(ctx context.Context, id, actorID string) (domain.Task, error)
	registerTaskAction := func(opID, routeSuffix, summary string, fn taskAction) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/tasks/{id}/" + routeSuffix,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body TaskResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TaskResponse `json:"body"`
			}{Body: taskResponse(t, e.Now())}, nil
		})
	}
	registerTaskAction("start-task", "start", "Start task", func(ctx context.Context, id, actorID string) (domain.Task, error) {
		return e.StartTask(ctx, id, actorID)
	})
	registerTaskAction("pause-task", "pause", "Pause task", func(ctx context.Context, id, actorID string) (domain.Task, error) {
		return e.PauseTask(ctx, id, actorID)
	})
	registerTaskAction("resume-task", "resume", "Resume task", func(ctx context.Context, id, actorID string) (domain.Task, error) {
		return e.ResumeTask(ctx, id, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Assign task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.AssigneeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assignee_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, input.ID, input.Body.AssigneeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body CompleteRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.ID, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/schedule",
		Summary:     "Set task deadline and priority",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ScheduleTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ScheduleTask(ctx, input.ID, input.Body.Deadline, input.Body.Priority, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})
}

func registerAskingTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-asking-tasks",
		Method:      http.MethodGet,
		Path:        "/asking-tasks",
		Summary:     "List asking tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrderID   string `query:"order_id"`
		Stage     string `query:"stage"`
		Completed *bool  `query:"completed"`
	}) (*struct {
		Body []AskingTaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAskingTasks(ctx, repo.AskingTaskFilters{
			OrderID:   input.OrderID,
			Stage:     input.Stage,
			Completed: input.Completed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AskingTaskResponse, 0, len(items))
		for _, a := range items {
			res = append(res, askingTaskResponse(a))
		}
		return &struct {
			Body []AskingTaskResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-asking-task",
		Method:      http.MethodGet,
		Path:        "/asking-tasks/{id}",
		Summary:     "Get asking task with stage history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AskingTaskDetailResponse `json:"body"`
	}, error) {
		detail, err := e.GetAskingTaskDetail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AskingTaskDetailResponse `json:"body"`
		}{Body: AskingTaskDetailResponse{
			AskingTaskResponse: askingTaskResponse(detail.Task),
			History:            detail.History,
			Stages:             detail.Stages,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-asking-task",
		Method:      http.MethodPost,
		Path:        "/asking-tasks/{id}/assign",
		Summary:     "Assign asking task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body AskingTaskResponse `json:"body"`
	}, error) {
		if input.Body.AssigneeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assignee_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AssignAskingTask(ctx, input.ID, input.Body.AssigneeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AskingTaskResponse `json:"body"`
		}{Body: askingTaskResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-asking-stage",
		Method:      http.MethodPost,
		Path:        "/asking-tasks/{id}/stage",
		Summary:     "Record a stage update",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body StageUpdateRequest `json:"body"`
	}) (*struct {
		Body AskingTaskResponse `json:"body"`
	}, error) {
		if input.Body.Stage == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAskingStage(ctx, engine.StageUpdateOptions{
			ID:           input.ID,
			Stage:        input.Body.Stage,
			Confirmation: input.Body.Confirmation,
			StaffName:    input.Body.StaffName,
			Note:         input.Body.Note,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AskingTaskResponse `json:"body"`
		}{Body: askingTaskResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-asking-task",
		Method:      http.MethodPost,
		Path:        "/asking-tasks/{id}/complete",
		Summary:     "Complete asking task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body CompleteRequest `json:"body"`
	}) (*struct {
		Body AskingTaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CompleteAskingTask(ctx, input.ID, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AskingTaskResponse `json:"body"`
		}{Body: askingTaskResponse(a)}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Action     string `query:"action"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestAudit(ctx, repo.AuditFilters{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Action:     input.Action,
			ActorID:    input.ActorID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AuditEntryResponse, 0, len(items))
		for _, a := range items {
			res = append(res, auditResponse(a))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: res}, nil
	})
}
