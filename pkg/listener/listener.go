// Package listener implements the Event Listener Registry (C9, §4.8):
// per-execution subscriptions with either PUSH_STREAM (an inbox
// channel) or WEBHOOK (fire-and-forget HTTP POST with bounded
// exponential backoff) delivery. Grounded on the teacher's
// pkg/events.Broker fan-out shape, specialized per execution and
// extended with the webhook path the teacher's in-process broker never
// needed.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/rs/zerolog"
)

// DeliveryMethod selects how a subscription receives events/logs.
type DeliveryMethod string

const (
	PushStream DeliveryMethod = "PUSH_STREAM"
	Webhook    DeliveryMethod = "WEBHOOK"
)

// DefaultInboxCapacity bounds a PUSH_STREAM subscription's inbox;
// exceeding it closes the subscription per §5's backpressure policy.
const DefaultInboxCapacity = 1024

// Webhook delivery is retried with exponential backoff: 1s, 2s, 4s,
// ..., capped at 30s, for up to 5 attempts, then dropped with an
// error-level log (no dead-letter store — §9 leaves the schedule
// unspecified; see DESIGN.md Open Question decisions for this choice).
const (
	maxWebhookAttempts = 5
	maxWebhookBackoff  = 30 * time.Second
)

// Message is one item delivered to a PUSH_STREAM inbox: exactly one of
// Event or Log is set.
type Message struct {
	Event *types.ExecutionEvent
	Log   *types.LogLine
}

// OverflowError reports that a PUSH_STREAM subscription's inbox
// exceeded its capacity and was closed (§5).
type OverflowError struct {
	SubscriberID string
	ExecutionID  string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("subscription %s on execution %s overflowed its inbox and was closed", e.SubscriberID, e.ExecutionID)
}

// Subscription is one subscriber's registration against one execution.
type Subscription struct {
	ID             string
	SubscriberID   string
	ExecutionID    string
	DeliveryMethod DeliveryMethod
	IncludeEvents  bool
	IncludeLogs    bool
	WebhookURL     string
}

type liveSubscription struct {
	sub    Subscription
	inbox  chan Message // non-nil only for PUSH_STREAM
	closed bool
}

// Registry is the Event Listener Registry (C9).
type Registry struct {
	mu          sync.RWMutex
	byExecution map[string]map[string]*liveSubscription // executionID -> subscriptionID -> live

	inboxCapacity int
	httpClient    *http.Client
	logger        zerolog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byExecution:   make(map[string]map[string]*liveSubscription),
		inboxCapacity: DefaultInboxCapacity,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        log.WithComponent("listener"),
	}
}

// Register creates a subscription. For PUSH_STREAM it also returns the
// inbox the subscriber should read from; for WEBHOOK the returned
// channel is nil.
func (r *Registry) Register(sub Subscription) (<-chan Message, error) {
	if err := ids.Validate("subscriberId", sub.SubscriberID); err != nil {
		return nil, err
	}
	if err := ids.Validate("executionId", sub.ExecutionID); err != nil {
		return nil, err
	}
	if sub.DeliveryMethod == Webhook && sub.WebhookURL == "" {
		return nil, apierrors.NewValidation("webhookUrl", "required for WEBHOOK delivery")
	}
	if sub.ID == "" {
		sub.ID = ids.New()
	}

	live := &liveSubscription{sub: sub}
	if sub.DeliveryMethod == PushStream {
		live.inbox = make(chan Message, r.inboxCapacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byExecution[sub.ExecutionID]
	if !ok {
		subs = make(map[string]*liveSubscription)
		r.byExecution[sub.ExecutionID] = subs
	}
	subs[sub.ID] = live

	return live.inbox, nil
}

// Unregister removes one subscription, closing its inbox if any.
func (r *Registry) Unregister(executionID, subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byExecution[executionID]
	if !ok {
		return
	}
	if live, ok := subs[subscriptionID]; ok {
		closeLive(live)
		delete(subs, subscriptionID)
	}
}

// CleanupExecution removes every subscription for executionID, closing
// every PUSH_STREAM inbox. The Execution Engine calls this once an
// execution reaches a terminal state (§4.7).
func (r *Registry) CleanupExecution(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byExecution[executionID]
	if !ok {
		return
	}
	for _, live := range subs {
		closeLive(live)
	}
	delete(r.byExecution, executionID)
}

func closeLive(live *liveSubscription) {
	if live.closed {
		return
	}
	live.closed = true
	if live.inbox != nil {
		close(live.inbox)
	}
}

// NotifyEvent delivers an execution event to every matching
// subscription on its execution, respecting each one's IncludeEvents
// flag (§4.8).
func (r *Registry) NotifyEvent(ctx context.Context, event types.ExecutionEvent) {
	r.notify(ctx, event.ExecutionID, Message{Event: &event}, func(s Subscription) bool { return s.IncludeEvents })
}

// NotifyLog delivers a log line to every matching subscription,
// respecting each one's IncludeLogs flag.
func (r *Registry) NotifyLog(ctx context.Context, line types.LogLine) {
	r.notify(ctx, line.ExecutionID, Message{Log: &line}, func(s Subscription) bool { return s.IncludeLogs })
}

func (r *Registry) notify(ctx context.Context, executionID string, msg Message, include func(Subscription) bool) {
	r.mu.RLock()
	subs := r.byExecution[executionID]
	targets := make([]*liveSubscription, 0, len(subs))
	for _, live := range subs {
		if !live.closed && include(live.sub) {
			targets = append(targets, live)
		}
	}
	r.mu.RUnlock()

	for _, live := range targets {
		switch live.sub.DeliveryMethod {
		case PushStream:
			r.deliverPush(live, msg)
		case Webhook:
			go r.deliverWebhook(ctx, live.sub, msg)
		}
	}
}

// deliverPush is at-most-once: a full inbox closes the subscription
// rather than blocking the notifier or silently dropping just this
// message (§5 backpressure policy).
func (r *Registry) deliverPush(live *liveSubscription, msg Message) {
	select {
	case live.inbox <- msg:
	default:
		r.mu.Lock()
		closeLive(live)
		if subs, ok := r.byExecution[live.sub.ExecutionID]; ok {
			delete(subs, live.sub.ID)
		}
		r.mu.Unlock()
		r.logger.Warn().
			Str("subscriber_id", live.sub.SubscriberID).
			Str("execution_id", live.sub.ExecutionID).
			Err(&OverflowError{SubscriberID: live.sub.SubscriberID, ExecutionID: live.sub.ExecutionID}).
			Msg("push subscription overflowed, closing")
	}
}

// deliverWebhook is at-least-once within the bounded retry budget
// above, then dropped.
func (r *Registry) deliverWebhook(ctx context.Context, sub Subscription, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("subscriber_id", sub.SubscriberID).Msg("failed to marshal webhook payload")
		return
	}

	backoff := time.Second
	for attempt := 1; attempt <= maxWebhookAttempts; attempt++ {
		if r.postWebhook(ctx, sub.WebhookURL, body) {
			return
		}
		if attempt == maxWebhookAttempts {
			r.logger.Error().
				Str("webhook_url", sub.WebhookURL).
				Str("subscriber_id", sub.SubscriberID).
				Msg("webhook delivery exhausted retries, dropping")
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxWebhookBackoff {
			backoff = maxWebhookBackoff
		}
	}
}

func (r *Registry) postWebhook(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}
