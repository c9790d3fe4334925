// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package events is an in-process publish/subscribe bus for storage
// notifications. Subscriptions live until their unsubscribe handle is
// called.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docvault/core"
)

// Kind identifies an event type.
type Kind string

const (
	WorkCreated        Kind = "work.created"
	WorkUpdated        Kind = "work.updated"
	WorkDeleted        Kind = "work.deleted"
	WorkRestored       Kind = "work.restored"
	TemplateCreated    Kind = "template.created"
	TemplateUpdated    Kind = "template.updated"
	TemplateDeleted    Kind = "template.deleted"
	TemplateRestored   Kind = "template.restored"
	VersionCreated     Kind = "version.created"
	DataCorrupted      Kind = "data.corrupted"
	StorageInitialized Kind = "storage.initialized"
	Error              Kind = "error"
)

// Event is a single notification. ID names the affected record, if any.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	ID        string
	Err       error
	ErrKind   core.ErrorKind
	Data      map[string]any
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Emitter dispatches events to subscribers.
type Emitter struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an Emitter. A nil logger selects slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[Kind][]subscription),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers handler for kind and returns a function that removes
// it. Calling the returned function more than once is harmless.
func (e *Emitter) Subscribe(kind Kind, handler Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[kind] = append(e.subs[kind], subscription{id: id, handler: handler})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.unsubscribe(kind, id) })
	}
}

func (e *Emitter) unsubscribe(kind Kind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subs[kind]
	for i, s := range subs {
		if s.id == id {
			// copy so a concurrent Emit iterating the old slice is unaffected
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(e.subs, kind)
			} else {
				e.subs[kind] = next
			}
			return
		}
	}
}

// Emit delivers ev to every subscriber of ev.Kind. A zero Timestamp is
// filled in. A panicking handler is logged and does not stop delivery.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if ev.Err != nil && ev.ErrKind == "" {
		ev.ErrKind = core.KindOf(ev.Err)
	}

	e.mu.RLock()
	subs := e.subs[ev.Kind]
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s.handler, ev)
	}
}

func (e *Emitter) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "kind", ev.Kind, "id", ev.ID, "panic", r)
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of handlers registered for kind.
func (e *Emitter) SubscriberCount(kind Kind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[kind])
}
