// Package intern holds the process-wide name table shared by the loader and
// the replay workers.
//
// The table has two phases. While loading, names are added under a mutex.
// Freeze switches it to read-only; after that lookups take no lock and adding
// a name that is not already present panics with ErrFrozen.
package intern

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrFrozen is the panic value (wrapped) raised when a new name is interned
// after Freeze
var ErrFrozen = errors.New("intern table is frozen")

// Table maps lower-cased names to a single shared copy
type Table struct {
	mu     sync.Mutex
	frozen atomic.Bool
	names  map[string]string
}

// NewTable creates an empty table in the loading phase
func NewTable() *Table {
	return &Table{names: make(map[string]string)}
}

// Intern returns the canonical lower-cased copy of name, adding it if needed
func (t *Table) Intern(name string) string {
	key := strings.ToLower(name)
	if t.frozen.Load() {
		if v, ok := t.names[key]; ok {
			return v
		}
		panic(fmt.Errorf("%w: cannot add %q", ErrFrozen, name))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.names[key]; ok {
		return v
	}
	key = strings.Clone(key)
	t.names[key] = key
	return key
}

// Lookup returns the canonical copy of name if it was interned
func (t *Table) Lookup(name string) (string, bool) {
	key := strings.ToLower(name)
	if t.frozen.Load() {
		v, ok := t.names[key]
		return v, ok
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.names[key]
	return v, ok
}

// Freeze makes the table read-only. It must be called exactly once.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen.Load() {
		panic(fmt.Errorf("%w: Freeze called twice", ErrFrozen))
	}
	t.frozen.Store(true)
}

// Frozen reports whether Freeze has been called
func (t *Table) Frozen() bool {
	return t.frozen.Load()
}

// Len returns the number of interned names
func (t *Table) Len() int {
	if t.frozen.Load() {
		return len(t.names)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.names)
}
