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

	"propline/internal/config"
	"propline/internal/domain"
	"propline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *log.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhooks relays new journal events to the configured endpoints until
// ctx is done. Each hook starts at the newest event present at startup.
func StartWebhooks(ctx context.Context, e engine.Engine, hooks []config.WebhookConfig, logger *log.Logger) {
	if len(hooks) == 0 {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
	d.initCursors(ctx)
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) initCursors(ctx context.Context) {
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger.Printf("[webhook] init cursor failed: %v", err)
		cur = 0
	}
	d.mu.Lock()
	for i := range d.webhooks {
		d.cursors[i] = cur
	}
	d.mu.Unlock()
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.logger.Printf("[webhook] fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			// Retried from the same event on the next tick.
			d.logger.Printf("[webhook] deliver %s to %s failed: %v", evt.Type, hook.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors[idx]
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	out := eventResponse(evt)
	data, err := json.Marshal(webhookEvent{
		ID:         out.ID,
		Type:       out.Type,
		ProjectID:  out.ProjectID,
		EntityKind: out.EntityKind,
		EntityID:   out.EntityID,
		ActorID:    out.ActorID,
		TS:         out.TS,
		Payload:    out.Payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Propline-Event", evt.Type)
	req.Header.Set("X-Propline-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.ProjectID != "" {
		req.Header.Set("X-Propline-Project", evt.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Propline-Secret", hook.Secret)
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

// match accepts exact types and "task.*" style prefixes.
func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
