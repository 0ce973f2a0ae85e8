package registry

import (
	"net"
	"testing"
)

func addr(s string) net.Addr {
	a, _ := net.ResolveTCPAddr("tcp", s)
	return a
}

func TestInsertAndLookupByPort(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	e, ok := r.ByPort(7000)
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if e.Name != MissingName {
		t.Fatalf("expected missing name placeholder, got %q", e.Name)
	}
}

func TestSetNameUniqueSucceedsAndIndexesByName(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	if !r.SetName(7000, "Alice", 9000) {
		t.Fatal("expected unique name to be accepted")
	}
	e, ok := r.ByName("Alice")
	if !ok || e.StreamPeerPort != 7000 || e.LocalPort != 9000 {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}
}

func TestSetNameDuplicateRejected(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.Insert(7001, addr("127.0.0.1:7001"), nil)

	if !r.SetName(7000, "Alice", 9000) {
		t.Fatal("first claim of Alice should succeed")
	}
	if r.SetName(7001, "Alice", 9001) {
		t.Fatal("duplicate name claim should be rejected")
	}
	// Original entry is untouched.
	e, _ := r.ByName("Alice")
	if e.StreamPeerPort != 7000 {
		t.Fatalf("expected original entry to retain the name, got port %d", e.StreamPeerPort)
	}
}

func TestTouchUDPUpdatesLastKnownPort(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.SetName(7000, "Alice", 9000)

	if r.TouchUDP("Bob", 40001) {
		t.Fatal("expected touch for unknown name to fail")
	}
	if !r.TouchUDP("Alice", 40001) {
		t.Fatal("expected touch for known name to succeed")
	}
	e, _ := r.ByName("Alice")
	if e.LastKnownUDPPort != 40001 {
		t.Fatalf("expected last known udp port 40001, got %d", e.LastKnownUDPPort)
	}
	if !e.HasDatagram() {
		t.Fatal("expected HasDatagram true after touch")
	}
}

func TestRemoveClearsBothIndices(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.SetName(7000, "Alice", 9000)

	r.Remove(7000)
	if _, ok := r.ByPort(7000); ok {
		t.Fatal("expected port index to be cleared")
	}
	if _, ok := r.ByName("Alice"); ok {
		t.Fatal("expected name index to be cleared")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got len %d", r.Len())
	}
}

func TestRemoveAfterNameStolenDoesNotClobberNewOwner(t *testing.T) {
	// Simulate: entry at 7000 is named Alice, evicted directly via
	// Remove (bypassing the duplicate-name path) and replaced by a
	// fresh entry at 7001 also named Alice. Removing the stale port
	// must not delete the new owner's name index entry.
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.SetName(7000, "Alice", 9000)
	r.Remove(7000)

	r.Insert(7001, addr("127.0.0.1:7001"), nil)
	r.SetName(7001, "Alice", 9001)
	r.Remove(7000) // no-op: 7000 no longer exists

	e, ok := r.ByName("Alice")
	if !ok || e.StreamPeerPort != 7001 {
		t.Fatalf("expected Alice to still resolve to port 7001, got %+v ok=%v", e, ok)
	}
}

func TestEachVisitsAllEntries(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.Insert(7001, addr("127.0.0.1:7001"), nil)
	r.Insert(7002, addr("127.0.0.1:7002"), nil)

	seen := make(map[uint16]bool)
	r.Each(func(e *Entry) { seen[e.StreamPeerPort] = true })
	if len(seen) != 3 {
		t.Fatalf("expected 3 entries visited, got %d", len(seen))
	}
}

func TestDescribeFormat(t *testing.T) {
	r := New()
	r.Insert(7000, addr("127.0.0.1:7000"), nil)
	r.SetName(7000, "Alice", 9000)
	e, _ := r.ByName("Alice")
	if got, want := e.Describe(), "Alice @ 127.0.0.1:7000 udp=no"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	r.TouchUDP("Alice", 40001)
	if got, want := e.Describe(), "Alice @ 127.0.0.1:7000 udp=yes"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
