package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification about a runtime environment.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that published the event.
	Source string `json:"source"`

	// EnvironmentID is the associated environment, if any.
	EnvironmentID string `json:"environment_id,omitempty"`

	// JobName is the associated job name, if known.
	JobName string `json:"job_name,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeEnvironmentCreated  = "environment.created"
	EventTypeEnvironmentPrepared = "environment.prepared"
	EventTypeEnvironmentFailed   = "environment.failed"
	EventTypeConfigKeyMissing    = "config.key_missing"
	EventTypePolicyViolation     = "policy.violation"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In synchronous mode
// subscribers run on the publishing goroutine, in order of subscription.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishEnvironmentCreated publishes an environment.created event.
func (ep *EventPublisher) PublishEnvironmentCreated(environmentID, family string) error {
	return ep.Publish(Event{
		Type:          EventTypeEnvironmentCreated,
		Source:        "runtime",
		EnvironmentID: environmentID,
		Message:       fmt.Sprintf("Environment %s created (%s)", environmentID, family),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"family": family,
		},
	})
}

// PublishEnvironmentPrepared publishes an environment.prepared event.
func (ep *EventPublisher) PublishEnvironmentPrepared(environmentID, jobName, mode string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeEnvironmentPrepared,
		Source:        "runtime",
		EnvironmentID: environmentID,
		JobName:       jobName,
		Message:       fmt.Sprintf("Environment %s prepared in %s mode", environmentID, mode),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"mode":     mode,
			"duration": duration.Seconds(),
		},
	})
}

// PublishEnvironmentFailed publishes an environment.failed event.
func (ep *EventPublisher) PublishEnvironmentFailed(environmentID, jobName, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeEnvironmentFailed,
		Source:        "runtime",
		EnvironmentID: environmentID,
		JobName:       jobName,
		Message:       fmt.Sprintf("Environment %s failed to prepare: %s", environmentID, reason),
		Level:         EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishKeyMissing publishes a config.key_missing event.
func (ep *EventPublisher) PublishKeyMissing(environmentID, key string) error {
	return ep.Publish(Event{
		Type:          EventTypeConfigKeyMissing,
		Source:        "config",
		EnvironmentID: environmentID,
		Message:       fmt.Sprintf("Configuration item %s not set", key),
		Level:         EventLevelWarning,
		Data: map[string]interface{}{
			"key": key,
		},
	})
}

// PublishPolicyViolation publishes a policy.violation event.
func (ep *EventPublisher) PublishPolicyViolation(environmentID, policyName, message, severity string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:          EventTypePolicyViolation,
		Source:        "policy",
		EnvironmentID: environmentID,
		Message:       fmt.Sprintf("Policy %s: %s", policyName, message),
		Level:         level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
		},
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents batches buffered events, delivering a batch when it is full
// or when the flush interval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEnvironmentID creates a filter that only allows events for one environment.
func FilterByEnvironmentID(environmentID string) EventFilter {
	return func(event Event) bool {
		return event.EnvironmentID == environmentID
	}
}
