package rt

import "sync"

// ---------------------------------------------------------------------------
// CallbackList: ordered multicast delivery
// ---------------------------------------------------------------------------

// callbackEntry is one subscription: the handler's target and selector.
type callbackEntry struct {
	target   Handle
	selector int
}

// CallbackList is an ordered, thread-safe multicast handler list.
// Insertion order is invocation order. Raise works on a snapshot taken
// under the lock, so concurrent Subscribe/Unsubscribe never affect an
// in-progress delivery nor corrupt the list.
//
// A list created through Runtime.NewCallbackList holds strong references:
// its targets are traced as collector roots until the list is closed or
// the entries are removed.
type CallbackList struct {
	mu      sync.Mutex
	entries []callbackEntry
}

// Subscribe appends a handler to the list.
func (l *CallbackList) Subscribe(target Handle, selector int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, callbackEntry{target: target, selector: selector})
}

// Unsubscribe removes the first matching handler. Reports whether a match
// was found.
func (l *CallbackList) Unsubscribe(target Handle, selector int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.target == target && e.selector == selector {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of subscribed handlers.
func (l *CallbackList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear removes all handlers.
func (l *CallbackList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// snapshot copies the current entries for one delivery pass.
func (l *CallbackList) snapshot() []callbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := make([]callbackEntry, len(l.entries))
	copy(snap, l.entries)
	return snap
}

// forEachTarget visits the current targets. Used by the collector while
// tracing roots.
func (l *CallbackList) forEachTarget(fn func(Handle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		fn(e.target)
	}
}

// ---------------------------------------------------------------------------
// EventRegistry
// ---------------------------------------------------------------------------

// EventRegistry tracks every live callback list so the collector can treat
// subscribed targets as reachable.
type EventRegistry struct {
	mu    sync.Mutex
	lists map[*CallbackList]struct{}
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{lists: make(map[*CallbackList]struct{})}
}

func (er *EventRegistry) register(l *CallbackList) {
	er.mu.Lock()
	er.lists[l] = struct{}{}
	er.mu.Unlock()
}

func (er *EventRegistry) unregister(l *CallbackList) {
	er.mu.Lock()
	delete(er.lists, l)
	er.mu.Unlock()
}

// Count returns the number of registered lists.
func (er *EventRegistry) Count() int {
	er.mu.Lock()
	defer er.mu.Unlock()
	return len(er.lists)
}

// forEachTarget visits every target of every registered list.
func (er *EventRegistry) forEachTarget(fn func(Handle)) {
	er.mu.Lock()
	lists := make([]*CallbackList, 0, len(er.lists))
	for l := range er.lists {
		lists = append(lists, l)
	}
	er.mu.Unlock()

	for _, l := range lists {
		l.forEachTarget(fn)
	}
}

// ---------------------------------------------------------------------------
// Runtime event API
// ---------------------------------------------------------------------------

// NewCallbackList creates a callback list registered with the runtime.
func (rt *Runtime) NewCallbackList() *CallbackList {
	l := &CallbackList{}
	rt.events.register(l)
	return l
}

// CloseCallbackList clears the list and releases its targets for
// collection. The list must not be raised afterwards.
func (rt *Runtime) CloseCallbackList(l *CallbackList) {
	rt.events.unregister(l)
	l.Clear()
}

// Raise delivers an event to every handler present in the list at call
// time, in insertion order, exactly once. Each handler is invoked through
// the dispatch resolver with the fixed two-argument shape (origin, data).
//
// Raise on an empty list is a no-op. A failing handler does not halt
// delivery; failures (including invalid targets) are collected and
// reported once as a *RaiseError after the full snapshot has run. An
// in-flight Raise cannot be cancelled. Concurrent raises on the same list
// may interleave; ordering across them is unspecified.
func (rt *Runtime) Raise(l *CallbackList, origin Handle, data Value) error {
	snap := l.snapshot()
	if len(snap) == 0 {
		return nil
	}

	args := []Value{Ref(origin), data}
	var failed []*HandlerError
	for i, e := range snap {
		if _, err := rt.Send(e.target, e.selector, args); err != nil {
			failed = append(failed, &HandlerError{
				Index:    i,
				Selector: rt.Selectors.Name(e.selector),
				Err:      err,
			})
		}
	}

	if len(failed) > 0 {
		return &RaiseError{Handlers: failed}
	}
	return nil
}
