// Package cache provides the local durable cache port used for
// immediate-session continuity: a synchronous string-keyed get/set/remove
// store, with in-memory and SQLite implementations.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cache is a string-keyed durable store.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// GetJSON decodes the JSON value stored under key into v. It reports false
// when the key is absent.
func GetJSON(c Cache, key string, v any) (bool, error) {
	raw, ok, err := c.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding cache key %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key.
func SetJSON(c Cache, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache key %s: %w", key, err)
	}
	return c.Set(key, string(data))
}

// Memory is a thread-safe in-memory Cache.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

// Get implements Cache.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// Set implements Cache.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// Remove implements Cache.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Keys returns all keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prefixed scopes every key of an underlying cache under a fixed prefix, so
// several players can share one durable store without colliding.
type Prefixed struct {
	inner  Cache
	prefix string
}

// WithPrefix returns a view of c whose keys are prefixed with prefix.
func WithPrefix(c Cache, prefix string) *Prefixed {
	if p, ok := c.(*Prefixed); ok {
		return &Prefixed{inner: p.inner, prefix: p.prefix + prefix}
	}
	return &Prefixed{inner: c, prefix: prefix}
}

// Get implements Cache.
func (p *Prefixed) Get(key string) (string, bool, error) {
	return p.inner.Get(p.prefix + key)
}

// Set implements Cache.
func (p *Prefixed) Set(key, value string) error {
	return p.inner.Set(p.prefix+key, value)
}

// Remove implements Cache.
func (p *Prefixed) Remove(key string) error {
	return p.inner.Remove(p.prefix + key)
}

// Prefix returns the full key prefix of this view.
func (p *Prefixed) Prefix() string {
	return strings.Clone(p.prefix)
}
