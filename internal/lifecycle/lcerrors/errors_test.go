package lcerrors

import (
	"errors"
	"testing"
)

func TestPluginLoadUnwrap(t *testing.T) {
	inner := errors.New("constructor failed")
	err := &PluginLoad{Part: "libfoo", Plugin: "cmake", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("PluginLoad should unwrap to its Err")
	}
}

func TestCorruptStateUnwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := &CorruptState{Path: "/work/parts/libfoo/state/build", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("CorruptState should unwrap to its Err")
	}
}

func TestErrorMessagesNameTheirSubjects(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&MissingDependency{Part: "app", Missing: "libfoo"}, "app"},
		{&CircularDependency{Remaining: []string{"a", "b"}}, "a"},
		{&Collision{PartA: "a", PartB: "b", Path: "etc/x"}, "etc/x"},
	}
	for _, c := range cases {
		msg := c.err.Error()
		if msg == "" {
			t.Fatalf("%T.Error() is empty", c.err)
		}
		if !contains(msg, c.want) {
			t.Fatalf("%T.Error() = %q, want to contain %q", c.err, msg, c.want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
