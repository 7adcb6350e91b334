package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
)

// EventSubscriber handles a published event.
type EventSubscriber func(ctx context.Context, event *engine.Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event *engine.Event) bool

// EventPublisher fans engine events out to subscribers. Delivery is
// synchronous by default, so subscribers observe events in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan deliveredEvent
	subscribers map[int]subscriberEntry
	nextID      int
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closeOnce   sync.Once
	done        chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

type deliveredEvent struct {
	ctx   context.Context
	event *engine.Event
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{
		config:      cfg,
		subscribers: make(map[int]subscriberEntry),
		done:        make(chan struct{}),
	}

	if cfg.Enabled && cfg.EnableAsync {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1000
		}
		ep.buffer = make(chan deliveredEvent, size)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep
}

// Publish implements engine.EventPublisher.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if !ep.config.Enabled || event == nil {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	if ep.buffer == nil {
		ep.deliver(ctx, event)
		return nil
	}

	select {
	case <-ep.done:
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- deliveredEvent{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Subscribe registers a subscriber and returns a function that removes it.
// A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) (unsubscribe func()) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	id := ep.nextID
	ep.nextID++
	ep.subscribers[id] = subscriberEntry{subscriber: subscriber, filter: filter}

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		delete(ep.subscribers, id)
	}
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case d := <-ep.buffer:
			ep.deliver(d.ctx, d.event)
		case <-ep.done:
			// drain what was accepted before shutdown
			for {
				select {
				case d := <-ep.buffer:
					ep.deliver(d.ctx, d.event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(ctx context.Context, event *engine.Event) {
	ep.mu.RLock()
	entries := make([]subscriberEntry, 0, len(ep.subscribers))
	for _, entry := range ep.subscribers {
		entries = append(entries, entry)
	}
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(ctx, event)
	}
}

// Shutdown stops async delivery after draining accepted events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.closeOnce.Do(func() { close(ep.done) })

	waitDone := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// LogSubscriber returns a subscriber that writes events to logger at a
// level matching their severity.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	logger = logger.With().Str("component", "events").Logger()
	return func(_ context.Context, event *engine.Event) {
		var e *zerolog.Event
		switch event.Level {
		case "error":
			e = logger.Error()
		case "warning":
			e = logger.Warn()
		default:
			e = logger.Debug()
		}
		e.Str("event_type", string(event.Type)).
			Str("session_id", event.SessionID).
			Str("execution_id", event.ExecutionID).
			Str("step", event.Step).
			Msg(event.Message)
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		"info":    0,
		"warning": 1,
		"error":   2,
	}

	minLevelValue := levels[minLevel]

	return func(event *engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event *engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySession creates a filter that only allows events of one session.
func FilterBySession(sessionID string) EventFilter {
	return func(event *engine.Event) bool {
		return event.SessionID == sessionID
	}
}

var _ engine.EventPublisher = (*EventPublisher)(nil)
