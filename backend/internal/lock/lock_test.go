package lock

import (
	"errors"
	"testing"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager()

	if _, err := m.Acquire("sections.0", "alice"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	// 同持有者重复获取是幂等的
	if _, err := m.Acquire("sections.0", "alice"); err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	// 他人获取被拒绝
	if _, err := m.Acquire("sections.0", "bob"); !errors.Is(err, ErrLockDenied) {
		t.Fatalf("Acquire() by bob = %v, want ErrLockDenied", err)
	}
	// 不同路径互不影响
	if _, err := m.Acquire("sections.1", "bob"); err != nil {
		t.Fatalf("Acquire() other path error = %v", err)
	}

	// 非持有者释放是静默 no-op
	if ok := m.Release("sections.0", "bob"); ok {
		t.Fatal("Release() by non-holder returned true")
	}
	if _, held := m.IsLocked("sections.0"); !held {
		t.Fatal("lock vanished after foreign release")
	}

	if ok := m.Release("sections.0", "alice"); !ok {
		t.Fatal("Release() by holder returned false")
	}
	if _, err := m.Acquire("sections.0", "bob"); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestManager_HeldByAndReleaseAll(t *testing.T) {
	m := NewManager()
	mustAcquire(t, m, "a", "alice")
	mustAcquire(t, m, "b", "alice")
	mustAcquire(t, m, "c", "bob")

	if got := len(m.HeldBy("alice")); got != 2 {
		t.Fatalf("HeldBy(alice) = %d locks, want 2", got)
	}

	released := m.ReleaseAll("alice")
	if len(released) != 2 {
		t.Fatalf("ReleaseAll(alice) = %v, want 2 paths", released)
	}
	if _, held := m.IsLocked("a"); held {
		t.Fatal("path a still locked after ReleaseAll")
	}
	// bob 的锁不受影响
	if l, held := m.IsLocked("c"); !held || l.HolderID != "bob" {
		t.Fatalf("path c = %+v, want held by bob", l)
	}
}

func mustAcquire(t *testing.T, m *Manager, path, holder string) {
	t.Helper()
	if _, err := m.Acquire(path, holder); err != nil {
		t.Fatalf("Acquire(%q, %q) error = %v", path, holder, err)
	}
}
