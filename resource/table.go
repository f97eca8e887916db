package resource

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
)

// Handle is an opaque reference to a value in a Table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// ErrTableClosed is returned by Insert after Close.
var ErrTableClosed = errors.New("resource table closed")

// Closer is optionally implemented by table values that need cleanup when
// removed or when the table is closed.
type Closer interface {
	Close() error
}

// Table maps dense handles to live values with free-list reuse. The proxy
// worker uses one per object kind to resolve wire IDs to host resources.
type Table[T any] struct {
	mu       sync.RWMutex
	entries  []tableEntry[T]
	freeList []Handle
	closed   bool
}

type tableEntry[T any] struct {
	value T
	valid bool
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries:  make([]tableEntry[T], 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Insert stores a value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTableClosed
	}

	e := tableEntry[T]{value: value, valid: true}

	if len(t.freeList) > 0 {
		handle := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[handle-1] = e
		return handle, nil
	}

	t.entries = append(t.entries, e)
	return Handle(len(t.entries)), nil
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	var zero T
	if handle == 0 {
		return zero, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(t.entries) {
		return zero, false
	}

	e := t.entries[idx]
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// Remove drops a handle and returns its value. The caller owns any cleanup;
// Remove does not call Close on the value.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	var zero T
	if handle == 0 {
		return zero, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(t.entries) {
		return zero, false
	}

	e := &t.entries[idx]
	if !e.valid {
		return zero, false
	}

	value := e.value
	e.valid = false
	e.value = zero
	t.freeList = append(t.freeList, handle)

	return value, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over live entries until fn returns false.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(Handle(i+1), e.value) {
				break
			}
		}
	}
}

// Close removes every entry, calling Close on values that implement Closer,
// and stops accepting inserts. Teardown is collect-and-continue: one failing
// value never prevents the rest from closing.
func (t *Table[T]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs error
	var zero T
	for i := range t.entries {
		if !t.entries[i].valid {
			continue
		}
		if c, ok := any(t.entries[i].value).(Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
		t.entries[i].valid = false
		t.entries[i].value = zero
	}

	t.entries = nil
	t.freeList = nil
	return errs
}
