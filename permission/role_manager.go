package permission

import (
	"errors"
	"fmt"
	"sync"
)

// RoleManager binds role names to permission masks. Roles are registered
// at startup and only read afterwards.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	masks  map[string]Mask64
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{registry: registry, masks: make(map[string]Mask64)}
}

// RegisterRole binds role to perms. Every permission must already be in the
// registry.
func (rm *RoleManager) RegisterRole(role string, perms []string) error {
	if role == "" {
		return errors.New("permission: empty role name")
	}

	var mask Mask64
	for _, p := range perms {
		bit, ok := rm.registry.Bit(p)
		if !ok {
			return fmt.Errorf("%w: role %q wants %q", ErrUnknownPermission, role, p)
		}
		mask.Set(bit)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.frozen {
		return ErrFrozen
	}
	if _, ok := rm.masks[role]; ok {
		return fmt.Errorf("%w: role %q", ErrDuplicate, role)
	}
	rm.masks[role] = mask
	return nil
}

func (rm *RoleManager) mask(role string) (Mask64, bool) {
	rm.mu.RLock()
	m, ok := rm.masks[role]
	rm.mu.RUnlock()
	return m, ok
}

// Permissions lists what role grants. Unknown roles grant nothing.
func (rm *RoleManager) Permissions(role string) []string {
	m, ok := rm.mask(role)
	if !ok {
		return nil
	}
	return rm.registry.Names(m)
}

// Allows reports whether role holds perm. The root bit, when reserved,
// allows everything.
func (rm *RoleManager) Allows(role, perm string) bool {
	m, ok := rm.mask(role)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(perm)
	return ok && m.Has(bit, rm.registry.RootReserved())
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	rm.frozen = true
	rm.mu.Unlock()
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.masks)
}
