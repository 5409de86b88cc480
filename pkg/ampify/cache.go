// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"iter"
	"maps"
	"sync"
)

// EntryState is the resolution state of a remote resource.
type EntryState uint8

const (
	// StateUnresolved is set when a fetch is issued. An entry that
	// stays in this state after the prefetch phase failed to load.
	StateUnresolved EntryState = iota

	// StateFetched is a resource that was received.
	StateFetched

	// StateNotFound is a resource whose server answered with a 404.
	StateNotFound

	// StateInvalid is a resource that was received but cannot be used,
	// like a malformed data: URI or an oversized payload.
	StateInvalid
)

func (s EntryState) String() string {
	switch s {
	case StateFetched:
		return "fetched"
	case StateNotFound:
		return "not found"
	case StateInvalid:
		return "invalid"
	default:
		return "unresolved"
	}
}

// Entry is a [Cache] entry.
type Entry struct {
	State       EntryState
	Payload     []byte
	ContentType string
	Err         error
}

// Cache keeps track of remote resources during one transformation.
// Keys are the literal src or href attribute values.
type Cache struct {
	sync.RWMutex
	entries map[string]*Entry
}

// NewCache returns an empty [Cache].
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
	}
}

// Reserve marks a key as unresolved. It returns false when the key
// already exists, in which case no fetch must be issued.
func (c *Cache) Reserve(key string) bool {
	c.Lock()
	defer c.Unlock()

	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = &Entry{State: StateUnresolved}
	return true
}

// Resolve sets a fetched payload for a reserved key.
// It returns false when the key is not pending anymore.
func (c *Cache) Resolve(key string, payload []byte, contentType string) bool {
	return c.settle(key, &Entry{
		State:       StateFetched,
		Payload:     payload,
		ContentType: contentType,
	})
}

// MarkNotFound sets a reserved key as not found.
// It returns false when the key is not pending anymore.
func (c *Cache) MarkNotFound(key string) bool {
	return c.settle(key, &Entry{State: StateNotFound})
}

// Reject sets a reserved key as invalid, with the reason.
// It returns false when the key is not pending anymore.
func (c *Cache) Reject(key string, err error) bool {
	return c.settle(key, &Entry{State: StateInvalid, Err: err})
}

func (c *Cache) settle(key string, entry *Entry) bool {
	c.Lock()
	defer c.Unlock()

	e, ok := c.entries[key]
	if !ok || e.State != StateUnresolved {
		return false
	}
	c.entries[key] = entry
	return true
}

// Get returns the entry for a given key.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.RLock()
	defer c.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Len returns the number of keys in the cache.
func (c *Cache) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.entries)
}

// Pending returns the keys still in the [StateUnresolved] state.
func (c *Cache) Pending() iter.Seq[string] {
	c.RLock()
	keys := maps.Clone(c.entries)
	c.RUnlock()

	return func(yield func(string) bool) {
		for k, e := range keys {
			if e.State != StateUnresolved {
				continue
			}
			if !yield(k) {
				return
			}
		}
	}
}
