package permission

import (
	"errors"
	"fmt"
	"sync"
)

// RootPermission is the name bound to the reserved root bit.
const RootPermission = "*"

const rootBit = 63

var (
	ErrFrozen            = errors.New("permission: registry frozen")
	ErrDuplicate         = errors.New("permission: already registered")
	ErrLimitExceeded     = errors.New("permission: no free bit")
	ErrUnknownPermission = errors.New("permission: not registered")
)

// Registry maps permission names to bit positions within a [Mask64]. Bits
// are handed out in registration order starting at zero.
type Registry struct {
	rootReserved bool

	mu     sync.RWMutex
	bits   map[string]int
	names  [64]string
	next   int
	frozen bool
}

// NewRegistry creates a [Registry]. With rootReserved, bit 63 is bound to
// [RootPermission] and implies every other permission.
func NewRegistry(rootReserved bool) *Registry {
	r := &Registry{rootReserved: rootReserved, bits: make(map[string]int)}
	if rootReserved {
		r.bits[RootPermission] = rootBit
		r.names[rootBit] = RootPermission
	}
	return r
}

func (r *Registry) capacity() int {
	if r.rootReserved {
		return rootBit
	}
	return len(r.names)
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	if name == "" {
		return -1, errors.New("permission: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.frozen:
		return -1, ErrFrozen
	case r.next >= r.capacity():
		return -1, fmt.Errorf("%w for %q", ErrLimitExceeded, name)
	}
	if _, ok := r.bits[name]; ok {
		return -1, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}

	bit := r.next
	r.next++
	r.bits[name] = bit
	r.names[bit] = name
	return bit, nil
}

// Bit returns the bit of name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	bit, ok := r.bits[name]
	r.mu.RUnlock()
	return bit, ok
}

// Names expands mask into permission names in bit order.
func (r *Registry) Names(mask Mask64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for bit, name := range r.names {
		if name != "" && mask.Has(bit, false) {
			out = append(out, name)
		}
	}
	return out
}

// Freeze rejects every later Register call.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Count returns the number of registered permissions, root excluded.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// RootReserved reports whether bit 63 is the root permission.
func (r *Registry) RootReserved() bool { return r.rootReserved }
