package permission

import (
	"errors"
	"testing"
)

func TestRegistryAssignsSequentialBits(t *testing.T) {
	r := NewRegistry(false)
	for i, name := range []string{"sessions:read", "sessions:revoke", "admin"} {
		bit, err := r.Register(name)
		if err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
		if bit != i {
			t.Fatalf("Register(%q) bit = %d, want %d", name, bit, i)
		}
	}
	if _, err := r.Register("admin"); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if r.Count() != 3 {
		t.Fatalf("Count = %d, want 3", r.Count())
	}
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry(false)
	r.Freeze()
	if _, err := r.Register("late"); err == nil {
		t.Fatal("expected register after freeze to fail")
	}
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(true)
	for i := 0; i < 63; i++ {
		if _, err := r.Register(string(rune('A'+i%26)) + string(rune('a'+i/26))); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := r.Register("overflow"); err == nil {
		t.Fatal("expected root bit to be unavailable")
	}
}

func TestRoleManagerPermissions(t *testing.T) {
	r := NewRegistry(true)
	for _, name := range []string{"sessions:read", "sessions:revoke", "reports:view"} {
		if _, err := r.Register(name); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()

	rm := NewRoleManager(r)
	if err := rm.RegisterRole("member", []string{"sessions:read"}); err != nil {
		t.Fatal(err)
	}
	if err := rm.RegisterRole("operator", []string{"sessions:read", "sessions:revoke"}); err != nil {
		t.Fatal(err)
	}
	if err := rm.RegisterRole("root", []string{RootPermission}); err != nil {
		t.Fatal(err)
	}
	if err := rm.RegisterRole("bad", []string{"missing"}); err == nil {
		t.Fatal("expected unknown permission to fail")
	}
	rm.Freeze()

	got := rm.Permissions("operator")
	if len(got) != 2 || got[0] != "sessions:read" || got[1] != "sessions:revoke" {
		t.Fatalf("Permissions(operator) = %v", got)
	}
	if rm.Permissions("nobody") != nil {
		t.Fatal("unknown role must grant nothing")
	}

	if !rm.Allows("member", "sessions:read") {
		t.Fatal("member should read sessions")
	}
	if rm.Allows("member", "sessions:revoke") {
		t.Fatal("member must not revoke sessions")
	}
	if !rm.Allows("root", "reports:view") {
		t.Fatal("root bit should grant everything")
	}
	if rm.Count() != 3 {
		t.Fatalf("Count = %d, want 3", rm.Count())
	}
	if err := rm.RegisterRole("late", nil); err == nil {
		t.Fatal("expected register after freeze to fail")
	}
}

func TestMask64(t *testing.T) {
	var m Mask64
	m.Set(3)
	m.Set(70)
	if !m.Has(3, false) || m.Has(4, false) || m.Has(70, false) {
		t.Fatalf("unexpected mask state %b", m.Raw())
	}
	m.Clear(3)
	if m.Has(3, false) {
		t.Fatal("bit 3 should be cleared")
	}
	m.Set(63)
	if !m.Has(5, true) {
		t.Fatal("root bit should grant bit 5")
	}
	if m.Has(5, false) {
		t.Fatal("root bit ignored when not reserved")
	}
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry(true)
	if _, err := r.Register(RootPermission); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("root name must be taken, got %v", err)
	}
	if _, err := r.Register(""); err == nil {
		t.Fatal("empty name must fail")
	}
	r.Freeze()
	if _, err := r.Register("late"); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}

	rm := NewRoleManager(r)
	if err := rm.RegisterRole("ghost", []string{"missing"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	if got := r.Names(Mask64(1 << 63)); len(got) != 1 || got[0] != RootPermission {
		t.Fatalf("Names(root) = %v", got)
	}
}
