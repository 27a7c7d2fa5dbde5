package es

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entry binds an event tag to a constructor for its concrete type. New must
// return a pointer so the payload can be unmarshaled into it.
type Entry struct {
	Type string
	New  func() Event
}

// EntryFor derives the tag from a zero value of T.
func EntryFor[T any, PT interface {
	*T
	Event
}]() Entry {
	var zero T
	return Entry{
		Type: PT(&zero).EventType(),
		New:  func() Event { return PT(new(T)) },
	}
}

// Registry is a closed tag to decoder table. It is built once at startup and
// is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	entries map[string]func() Event
}

// NewRegistry validates and freezes entries. Empty and duplicate tags fail.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]func() Event, len(entries))}
	for _, e := range entries {
		if e.Type == "" {
			return nil, fmt.Errorf("registry: empty event type")
		}
		if e.New == nil {
			return nil, fmt.Errorf("registry: %s has no constructor", e.Type)
		}
		if _, dup := r.entries[e.Type]; dup {
			return nil, fmt.Errorf("registry: duplicate event type %s", e.Type)
		}
		if got := e.New().EventType(); got != e.Type {
			return nil, fmt.Errorf("registry: %s constructor yields %s", e.Type, got)
		}
		r.entries[e.Type] = e.New
	}
	return r, nil
}

// MustRegistry is NewRegistry for package-level and main wiring.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Merge returns a registry holding the entries of both. Conflicting tags fail.
func (r *Registry) Merge(other *Registry) (*Registry, error) {
	entries := make([]Entry, 0, len(r.entries)+len(other.entries))
	for _, src := range []*Registry{r, other} {
		for tag, fn := range src.entries {
			entries = append(entries, Entry{Type: tag, New: fn})
		}
	}
	return NewRegistry(entries...)
}

func (r *Registry) Has(eventType string) bool {
	_, ok := r.entries[eventType]
	return ok
}

// Types lists registered tags in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode turns a stored payload back into its concrete event.
func (r *Registry) Decode(eventType string, payload []byte) (Event, error) {
	newFn, ok := r.entries[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	evt := newFn()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrDecode, eventType, err)
	}
	return evt, nil
}

// Encode serializes e. Unregistered types are rejected so nothing is written
// that could not be replayed.
func (r *Registry) Encode(e Event) ([]byte, error) {
	if !r.Has(e.EventType()) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType())
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return data, nil
}
