package arch

import "testing"

func TestLookupKnownArchitectures(t *testing.T) {
	for _, name := range []string{"x86_64", "aarch64", "armv7l", "i686", "ppc", "ppc64le", "riscv64", "s390x"} {
		info, ok := Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
		if info.Triplet == "" {
			t.Fatalf("Lookup(%q).Triplet is empty", name)
		}
		if info.CoreDynamicLinker == "" {
			t.Fatalf("Lookup(%q).CoreDynamicLinker is empty", name)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("bogus-arch"); ok {
		t.Fatal("Lookup(bogus-arch) should not be found")
	}
}

func TestCrossCompiling(t *testing.T) {
	host := Host()
	if CrossCompiling(host) {
		t.Fatalf("CrossCompiling(%q) = true for host arch, want false", host)
	}
	other := "aarch64"
	if host == other {
		other = "x86_64"
	}
	if !CrossCompiling(other) {
		t.Fatalf("CrossCompiling(%q) = false, want true (differs from host %q)", other, host)
	}
}

func TestHostReturnsKnownEntry(t *testing.T) {
	if _, ok := Lookup(Host()); !ok {
		t.Fatalf("Host() = %q has no Table entry", Host())
	}
}
