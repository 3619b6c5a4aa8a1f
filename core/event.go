// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the lifecycle events a registry emits after successful
// operations.
package core

import "sync"

// Event represents a lifecycle event that can be emitted by the ORM.
//
// Events are triggered after create, update, destroy, and find operations.
// They allow users to register custom handlers to observe or react to changes
// in the persistence layer.
type Event string

const (
	// EventCreate is emitted after a record is created.
	EventCreate Event = "create"
	// EventUpdate is emitted after records are updated.
	EventUpdate Event = "update"
	// EventDestroy is emitted after records are destroyed.
	EventDestroy Event = "destroy"
	// EventFind is emitted after records are retrieved.
	EventFind Event = "find"
)

// EventHandler defines the callback signature for event listeners.
// The payload argument varies depending on the event type (CreatePayload,
// UpdatePayload, DestroyPayload, FindPayload).
type EventHandler func(payload any)

// EventDispatcher manages a list of event handlers and dispatches them
// when the corresponding events are emitted.
type EventDispatcher struct {
	mutex       sync.RWMutex
	handlerList map[Event][]EventHandler
}

func newEventDispatcher() *EventDispatcher {
	return &EventDispatcher{handlerList: make(map[Event][]EventHandler)}
}

// On registers an EventHandler for a specific Event.
//
// Example:
//
//	registry.On(core.EventCreate, func(payload any) {
//	    if p, ok := payload.(core.CreatePayload); ok {
//	        log.Printf("%s created: %+v", p.Collection, p.Record)
//	    }
//	})
func (r *Registry) On(event Event, handler EventHandler) {
	r.events.mutex.Lock()
	defer r.events.mutex.Unlock()
	r.events.handlerList[event] = append(r.events.handlerList[event], handler)
}

// Emit triggers all registered handlers for the given Event.
//
// Handlers are executed asynchronously in separate goroutines.
// The payload type depends on the event being emitted.
func (r *Registry) Emit(event Event, payload any) {
	r.events.mutex.RLock()
	defer r.events.mutex.RUnlock()
	if hs, ok := r.events.handlerList[event]; ok {
		for _, h := range hs {
			go h(payload)
		}
	}
}

// CreatePayload represents the payload passed to EventCreate handlers.
type CreatePayload struct {
	Collection string
	Record     Record
}

// UpdatePayload represents the payload passed to EventUpdate handlers.
//
// It contains the criteria used for the update, the applied values and the
// updated records.
type UpdatePayload struct {
	Collection string
	Criteria   *Criteria
	Values     Record
	Records    []Record
}

// DestroyPayload represents the payload passed to EventDestroy handlers.
type DestroyPayload struct {
	Collection string
	Criteria   *Criteria
}

// FindPayload represents the payload passed to EventFind handlers.
type FindPayload struct {
	Collection string
	Criteria   *Criteria
	Records    []Record
}
