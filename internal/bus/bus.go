// Package bus is the asynchronous message channel between the orchestrator
// and page agents. Every message kind has exactly one authoritative handler;
// agents additionally subscribe per tab to receive their begin instruction.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind tags a message on the bus.
type Kind string

const (
	KindRunCheckNow        Kind = "RUN_CHECK_NOW"
	KindContentScriptReady Kind = "CONTENT_SCRIPT_READY"
	KindCheckIn            Kind = "CHECK_IN"
	KindLoginSuccessful    Kind = "LOGIN_SUCCESSFUL"
	KindPresenceComplete   Kind = "PRESENCE_CHECK_COMPLETE"
	KindProxyFetch         Kind = "PROXY_FETCH"
	KindScheduleAlarm      Kind = "SCHEDULE_ALARM"
	KindAuthStateQuery     Kind = "AUTH_STATE_QUERY"
)

// ErrNoHandler is returned when a message kind has no registered handler.
var ErrNoHandler = errors.New("no handler for message kind")

// ErrNoSubscriber is returned when a tab-directed message has no listener.
var ErrNoSubscriber = errors.New("no subscriber for tab")

// Envelope is one message: a kind, the tab it concerns (if any) and a typed
// payload the handler asserts on.
type Envelope struct {
	Kind    Kind
	TabID   int
	Payload any
}

// HandlerFunc processes one message and optionally produces a reply.
type HandlerFunc func(ctx context.Context, env Envelope) (any, error)

// Bus routes envelopes to handlers and tab subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
	tabs     map[int]chan Envelope
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Kind]HandlerFunc),
		tabs:     make(map[int]chan Envelope),
	}
}

// Handle registers the single handler for a message kind.
func (b *Bus) Handle(kind Kind, fn HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for %s", kind)
	}
	b.handlers[kind] = fn
	return nil
}

// Send delivers a fire-and-forget message; any reply is discarded.
func (b *Bus) Send(ctx context.Context, env Envelope) error {
	_, err := b.Request(ctx, env)
	return err
}

// Request delivers a message and returns the handler's single reply.
func (b *Bus) Request(ctx context.Context, env Envelope) (any, error) {
	b.mu.RLock()
	fn, ok := b.handlers[env.Kind]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, env.Kind)
	}
	return fn(ctx, env)
}

// SubscribeTab returns the delivery channel for messages directed at a tab.
// The channel is buffered so the sender never blocks on a slow agent.
func (b *Bus) SubscribeTab(tabID int) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.tabs[tabID]
	if !ok {
		ch = make(chan Envelope, 4)
		b.tabs[tabID] = ch
	}
	return ch
}

// UnsubscribeTab removes a tab's delivery channel.
func (b *Bus) UnsubscribeTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.tabs[tabID]; ok {
		close(ch)
		delete(b.tabs, tabID)
	}
}

// DeliverTab queues a message for the agent attached to a tab.
func (b *Bus) DeliverTab(env Envelope) error {
	b.mu.RLock()
	ch, ok := b.tabs[env.TabID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSubscriber, env.TabID)
	}

	select {
	case ch <- env:
		return nil
	default:
		return fmt.Errorf("delivery buffer full for tab %d", env.TabID)
	}
}
