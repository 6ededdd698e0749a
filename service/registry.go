package service

import (
	"iter"
	"maps"
	"slices"
	"strings"
)

// EventMarker is an optional prefix on member names. It is stripped to form
// the dispatch key, so "$added" is addressed as "added".
const EventMarker = "$"

// Member is a *Method, *Event or *Handler.
type Member interface {
	member()
}

// Members maps member names to members.
type Members map[string]Member

// Provider is implemented by service values.
type Provider interface {
	Members() Members
}

// Members is itself a Provider.
func (m Members) Members() Members {
	return m
}

// Registry holds the members of one namespace, classified by kind and keyed
// by local name. It is read-only once built.
type Registry struct {
	methods  map[string]*Method
	events   map[string]*Event
	handlers map[string]*Handler
}

// NewRegistry classifies the members of p. Members are visited in name
// order; when two names collide after stripping EventMarker the later one
// wins. Nil members are skipped.
func NewRegistry(p Provider) *Registry {
	r := &Registry{
		methods:  map[string]*Method{},
		events:   map[string]*Event{},
		handlers: map[string]*Handler{},
	}
	members := p.Members()
	for _, name := range slices.Sorted(maps.Keys(members)) {
		key := strings.TrimPrefix(name, EventMarker)
		switch m := members[name].(type) {
		case *Method:
			if m != nil {
				r.methods[key] = m
			}
		case *Event:
			if m != nil {
				r.events[key] = m
			}
		case *Handler:
			if m != nil {
				r.handlers[key] = m
			}
		}
	}
	return r
}

func (r *Registry) Method(name string) (*Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

func (r *Registry) Event(name string) (*Event, bool) {
	e, ok := r.events[name]
	return e, ok
}

func (r *Registry) Handler(name string) (*Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Methods iterates the methods in name order.
func (r *Registry) Methods() iter.Seq2[string, *Method] {
	return sortedSeq(r.methods)
}

// Events iterates the events in name order.
func (r *Registry) Events() iter.Seq2[string, *Event] {
	return sortedSeq(r.events)
}

func sortedSeq[V any](m map[string]V) iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}
