package audit

import (
	"sort"
	"strconv"
	"sync"
)

// Log is an append-only event log. Events are totally ordered by time, then
// by insertion sequence.
type Log struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	newID  func(Event) string
	hooks  []func(Event)
}

type Option func(*Log)

// WithIDs assigns an ID to every appended event.
func WithIDs(fn func(Event) string) Option {
	return func(l *Log) { l.newID = fn }
}

// WithHook runs fn after each append, outside the lock.
func WithHook(fn func(Event)) Option {
	return func(l *Log) { l.hooks = append(l.hooks, fn) }
}

func NewLog(opts ...Option) *Log {
	l := &Log{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append stamps and stores events. Callers must not modify an event after
// appending it.
func (l *Log) Append(evs ...Event) {
	l.mu.Lock()
	for _, e := range evs {
		l.seq++
		h := e.Head()
		h.Seq = l.seq
		if l.newID != nil && h.ID == "" {
			h.ID = l.newID(e)
		}
		l.events = append(l.events, e)
	}
	hooks := l.hooks
	l.mu.Unlock()

	for _, fn := range hooks {
		for _, e := range evs {
			fn(e)
		}
	}
}

// Events returns copies of the logged events in (time, seq) order. Changing
// a returned event does not change the log.
func (l *Log) Events() []Event {
	l.mu.Lock()
	out := make([]Event, len(l.events))
	for i, e := range l.events {
		out[i] = e.clone()
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Head(), out[j].Head()
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Seq < b.Seq
	})
	return out
}

// OfKind filters Events by kind.
func (l *Log) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func itoa(i int) string { return strconv.Itoa(i) }
