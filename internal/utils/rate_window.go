package utils

import (
	"sort"
	"sync"
	"time"
)

// Key identifies one event stream. Kind is part of the key so that, for
// example, bans and kicks by the same actor are counted separately.
type Key struct {
	GuildID   string
	SubjectID string
	Kind      string
}

type Entry[T any] struct {
	At    time.Time
	Value T
}

// RateWindow is a keyed sliding-window event log. Expired entries are pruned
// lazily whenever a key is read; Sweep drops idle keys.
type RateWindow[T any] struct {
	mu      sync.Mutex
	entries map[Key][]Entry[T]
}

func NewRateWindow[T any]() *RateWindow[T] {
	return &RateWindow[T]{entries: make(map[Key][]Entry[T])}
}

func (w *RateWindow[T]) Record(key Key, at time.Time, value T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertLocked(key, Entry[T]{At: at, Value: value})
}

// Observe records an event and returns the entries still inside window,
// measured from the event's own timestamp.
func (w *RateWindow[T]) Observe(key Key, at time.Time, value T, window time.Duration) []Entry[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertLocked(key, Entry[T]{At: at, Value: value})
	return w.pruneLocked(key, window, at)
}

func (w *RateWindow[T]) CountWithin(key Key, window time.Duration, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pruneLocked(key, window, now))
}

func (w *RateWindow[T]) Entries(key Key, window time.Duration, now time.Time) []Entry[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneLocked(key, window, now)
}

// Take removes the key and returns whatever it held. A second caller racing
// on the same burst gets nil.
func (w *RateWindow[T]) Take(key Key) []Entry[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := w.entries[key]
	delete(w.entries, key)
	return entries
}

func (w *RateWindow[T]) Clear(key Key) {
	w.mu.Lock()
	delete(w.entries, key)
	w.mu.Unlock()
}

// Keys lists keys of the given kind that currently hold entries.
func (w *RateWindow[T]) Keys(kind string) []Key {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]Key, 0, len(w.entries))
	for key, entries := range w.entries {
		if key.Kind == kind && len(entries) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// Sweep drops entries older than maxAge and removes keys left empty. It
// returns the number of keys removed.
func (w *RateWindow[T]) Sweep(now time.Time, maxAge time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for key := range w.entries {
		if len(w.pruneLocked(key, maxAge, now)) == 0 {
			delete(w.entries, key)
			removed++
		}
	}
	return removed
}

func (w *RateWindow[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *RateWindow[T]) insertLocked(key Key, entry Entry[T]) {
	list := w.entries[key]
	// Audit entries can arrive out of order; keep the slice sorted.
	idx := sort.Search(len(list), func(i int) bool { return list[i].At.After(entry.At) })
	list = append(list, Entry[T]{})
	copy(list[idx+1:], list[idx:])
	list[idx] = entry
	w.entries[key] = list
}

func (w *RateWindow[T]) pruneLocked(key Key, window time.Duration, now time.Time) []Entry[T] {
	list := w.entries[key]
	idx := 0
	for _, entry := range list {
		if now.Sub(entry.At) <= window {
			break
		}
		idx++
	}
	if idx > 0 {
		list = list[idx:]
		if len(list) == 0 {
			list = nil
		}
		w.entries[key] = list
	}
	out := make([]Entry[T], len(list))
	copy(out, list)
	return out
}
