// Package vmap provides a thread-safe generic map with read-write mutex
// protection, used for shared indexes like per-host rate buckets and the
// in-flight download set.
package vmap

import (
	"sync"
)

// Map is a thread-safe generic map with read-write mutex protection.
// It provides concurrent access to key-value pairs of any comparable key type.
type Map[kT comparable, vT any] struct {
	kv map[kT]vT
	mu sync.RWMutex
}

// New creates and returns a new empty Map instance with an initialized internal map.
func New[kT comparable, vT any]() *Map[kT, vT] {
	return &Map[kT, vT]{
		kv: make(map[kT]vT),
	}
}

// Make initializes the internal map. Call this to reset the map or if using a zero-value Map.
func (vm *Map[kT, vT]) Make() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.kv = make(map[kT]vT)
}

// Set stores a value for the given key with write lock protection.
func (vm *Map[kT, vT]) Set(key kT, val vT) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.kv[key] = val
}

// SetIfAbsent stores a value only when the key is not already present.
// It reports whether the value was stored. Used for claim-style semantics
// like the at-most-once in-flight set.
func (vm *Map[kT, vT]) SetIfAbsent(key kT, val vT) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.kv[key]; ok {
		return false
	}
	vm.kv[key] = val
	return true
}

// GetOr returns the stored value for key, or stores and returns the value
// produced by mk when the key is absent. mk runs under the write lock.
func (vm *Map[kT, vT]) GetOr(key kT, mk func() vT) vT {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if v, ok := vm.kv[key]; ok {
		return v
	}
	v := mk()
	vm.kv[key] = v
	return v
}

// Get retrieves a value for the given key with read lock protection.
func (vm *Map[kT, vT]) Get(key kT) (val vT) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	val = vm.kv[key]
	return
}

// Has reports whether the key is present.
func (vm *Map[kT, vT]) Has(key kT) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	_, ok := vm.kv[key]
	return ok
}

// Len returns the number of stored keys.
func (vm *Map[kT, vT]) Len() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return len(vm.kv)
}

// Dump returns all keys and values as separate slices.
func (vm *Map[kT, vT]) Dump() (keys []kT, vals []vT) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	n := len(vm.kv)
	keys = make([]kT, n)
	vals = make([]vT, n)

	var i int
	for key, val := range vm.kv {
		keys[i] = key
		vals[i] = val
		i++
	}
	return
}

// Range iterates over all key-value pairs with read lock protection.
// The function f is called for each key-value pair. If f returns false,
// iteration stops early. The function f should not modify the map.
func (vm *Map[kT, vT]) Range(f func(key kT, val vT) bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for k, v := range vm.kv {
		if !f(k, v) {
			return
		}
	}
}

// Delete removes a key from the map with write lock protection.
// If the key does not exist, this is a no-op.
func (vm *Map[kT, vT]) Delete(key kT) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.kv, key)
}
