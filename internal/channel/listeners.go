package channel

import "sync"

// Listeners is a registry of per-event listeners. Dispatch runs listeners in
// registration order against a copy of the registry, so a listener may
// register or remove listeners without affecting the current dispatch.
type Listeners struct {
	mu      sync.RWMutex
	entries []entry
	next    int
}

type entry struct {
	id   int
	name string
	fn   Listener
}

// On registers fn for name.
func (ls *Listeners) On(name string, fn Listener) func() {
	ls.mu.Lock()
	id := ls.next
	ls.next++
	ls.entries = append(ls.entries, entry{id: id, name: name, fn: fn})
	ls.mu.Unlock()

	return func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		for i, e := range ls.entries {
			if e.id == id {
				ls.entries = append(ls.entries[:i], ls.entries[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers evt to every listener registered for evt.Name.
func (ls *Listeners) Dispatch(evt Event) {
	ls.mu.RLock()
	var fns []Listener
	for _, e := range ls.entries {
		if e.name == evt.Name {
			fns = append(fns, e.fn)
		}
	}
	ls.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Count reports how many listeners are registered for name. An empty name
// counts all of them.
func (ls *Listeners) Count(name string) int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if name == "" {
		return len(ls.entries)
	}
	n := 0
	for _, e := range ls.entries {
		if e.name == name {
			n++
		}
	}
	return n
}
