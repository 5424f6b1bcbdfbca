package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"orderline/internal/config"
	"orderline/internal/domain"
	"orderline/internal/engine"
	"orderline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	overdueSweepInterval   = time.Minute
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
	notified map[string]struct{}
}

// startWebhookDispatcher tails the audit log and delivers entries to the
// configured webhooks. It also sweeps for overdue tasks and posts a
// task.overdue notification once per task.
func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
		notified: make(map[string]struct{}),
	}
	go d.run()
	go d.sweepOverdue()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.engine.Repo.AuditAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch audit entries failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(entry.Action) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.post(ctx, hook, webhookPayload(entry)); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

// sweepOverdue periodically flags uncompleted tasks past their deadline.
// The stored status never changes; only a notification goes out.
func (d *webhookDispatcher) sweepOverdue() {
	ticker := time.NewTicker(overdueSweepInterval)
	defer ticker.Stop()
	for {
		d.notifyOverdue()
		<-ticker.C
	}
}

func (d *webhookDispatcher) notifyOverdue() {
	ctx := context.Background()
	tasks, err := d.engine.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		log.Printf("webhook: overdue sweep failed: %v", err)
		return
	}
	now := d.engine.Now()
	for _, t := range tasks {
		if engine.EffectiveTaskStatus(t, now) != "overdue" {
			continue
		}
		d.mu.Lock()
		_, seen := d.notified[t.ID]
		d.mu.Unlock()
		if seen {
			continue
		}
		body := webhookEvent{
			Type:       "task.overdue",
			EntityKind: "task",
			EntityID:   t.ID,
			TS:         now.UTC().Format(time.RFC3339),
			Payload:    mustJSON(map[string]any{"title": t.Title, "deadline": t.Deadline, "status": t.Status}),
		}
		delivered := false
		for _, hook := range d.webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if !newEventFilter(hook.Events).match(body.Type) {
				continue
			}
			if err := d.post(ctx, hook, body); err != nil {
				log.Printf("webhook: overdue notice to %s failed: %v", hook.URL, err)
				continue
			}
			delivered = true
		}
		if delivered {
			d.mu.Lock()
			d.notified[t.ID] = struct{}{}
			d.mu.Unlock()
		}
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestAuditID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id,omitempty"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func webhookPayload(entry domain.AuditEntry) webhookEvent {
	payload := map[string]any{"description": entry.Description}
	if entry.OldValue != "" {
		payload["old_value"] = rawOrString(entry.OldValue)
	}
	if entry.NewValue != "" {
		payload["new_value"] = rawOrString(entry.NewValue)
	}
	return webhookEvent{
		ID:         entry.ID,
		Type:       entry.Action,
		EntityKind: entry.EntityKind,
		EntityID:   entry.EntityID,
		ActorID:    entry.ActorID,
		TS:         entry.TS,
		Payload:    mustJSON(payload),
	}
}

func rawOrString(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, evt webhookEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orderline-Event", evt.Type)
	req.Header.Set("X-Orderline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Orderline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
