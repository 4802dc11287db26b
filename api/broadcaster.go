package api

import (
	"sync"
)

// EventType discriminates the event streams a WebSocket client can
// subscribe to.
type EventType string

const (
	// EventTypeState carries guest-thread state snapshots (RIP, registers,
	// flags, execution status) after a step or after a run stops.
	EventTypeState EventType = "state"
	// EventTypeTranslation carries engine events: block translated, cache
	// flush, block link established.
	EventTypeTranslation EventType = "translation"
	// EventTypeExecution carries block-exit events (breakpoint, halt,
	// syscall, fault).
	EventTypeExecution EventType = "event"
	// EventTypeTrace carries decoded-instruction trace lines when tracing
	// is enabled on a session.
	EventTypeTrace EventType = "trace"
)

// BroadcastEvent is one event fanned out to subscribed WebSocket clients.
type BroadcastEvent struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is one client's filtered view of the event stream.
type Subscription struct {
	SessionID  string
	EventTypes map[EventType]bool
	Channel    chan BroadcastEvent
}

// Broadcaster fans events out to every matching subscription. Slow
// clients are skipped rather than allowed to stall the engine's
// translate/execute loop.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription]bool
	broadcast     chan BroadcastEvent
	register      chan *Subscription
	unregister    chan *Subscription
	done          chan struct{}
}

// NewBroadcaster creates and starts a broadcaster.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[*Subscription]bool),
		broadcast:     make(chan BroadcastEvent, 256),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		done:          make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case sub := <-b.register:
			b.mu.Lock()
			b.subscriptions[sub] = true
			b.mu.Unlock()

		case sub := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[sub] {
				delete(b.subscriptions, sub)
				close(sub.Channel)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for sub := range b.subscriptions {
				if sub.SessionID != "" && sub.SessionID != event.SessionID {
					continue
				}
				if len(sub.EventTypes) > 0 && !sub.EventTypes[event.Type] {
					continue
				}

				select {
				case sub.Channel <- event:
				default:
					// Client too slow; drop the event for it.
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for sub := range b.subscriptions {
				close(sub.Channel)
			}
			b.subscriptions = make(map[*Subscription]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a filtered subscription. An empty sessionID matches
// every session; an empty eventTypes list matches every event type.
func (b *Broadcaster) Subscribe(sessionID string, eventTypes []EventType) *Subscription {
	eventTypeMap := make(map[EventType]bool)
	for _, et := range eventTypes {
		eventTypeMap[et] = true
	}

	sub := &Subscription{
		SessionID:  sessionID,
		EventTypes: eventTypeMap,
		Channel:    make(chan BroadcastEvent, 64),
	}

	b.register <- sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.unregister <- sub
}

// Broadcast queues an event for fan-out, dropping it if the broadcaster
// is saturated so callers on the execution path never block.
func (b *Broadcaster) Broadcast(event BroadcastEvent) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// BroadcastState sends a guest-state snapshot event.
func (b *Broadcaster) BroadcastState(sessionID string, data map[string]interface{}) {
	b.Broadcast(BroadcastEvent{
		Type:      EventTypeState,
		SessionID: sessionID,
		Data:      data,
	})
}

// BroadcastTranslation sends an engine event (the callers send "flush"
// and "session_created") with its detail fields.
func (b *Broadcaster) BroadcastTranslation(sessionID string, what string, details map[string]interface{}) {
	data := map[string]interface{}{"what": what}
	for k, v := range details {
		data[k] = v
	}
	b.Broadcast(BroadcastEvent{
		Type:      EventTypeTranslation,
		SessionID: sessionID,
		Data:      data,
	})
}

// BroadcastExecutionEvent sends a block-exit event (breakpoint, halt,
// syscall, fault).
func (b *Broadcaster) BroadcastExecutionEvent(sessionID string, eventName string, details map[string]interface{}) {
	data := map[string]interface{}{"event": eventName}
	for k, v := range details {
		data[k] = v
	}

	b.Broadcast(BroadcastEvent{
		Type:      EventTypeExecution,
		SessionID: sessionID,
		Data:      data,
	})
}

// BroadcastTrace sends one trace line from a session's trace writer.
func (b *Broadcaster) BroadcastTrace(sessionID string, line string) {
	b.Broadcast(BroadcastEvent{
		Type:      EventTypeTrace,
		SessionID: sessionID,
		Data:      map[string]interface{}{"line": line},
	})
}

// Close shuts the broadcaster down and closes every subscription.
func (b *Broadcaster) Close() {
	close(b.done)
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
