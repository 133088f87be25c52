package access

import (
	"reflect"
	"testing"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		ip, pattern string
		want        bool
	}{
		{"10.0.0.5", "10.0.0.0/24", true},
		{"10.0.1.5", "10.0.0.0/24", false},
		{"::ffff:10.0.0.5", "10.0.0.0/24", true},
		{"::ffff:127.0.0.1", "127.0.0.1", true},
		{"::1", "::1", true},
		{"::1", "*", true},
		{"192.168.1.1", "10.0.0.0/8, 192.168.1.1", true},
		{"192.168.1.2", "10.0.0.0/8,192.168.1.1", false},
		{"not-an-ip", "not-an-ip", true},
		{"not-an-ip", "10.0.0.0/8", false},
	}
	for _, c := range cases {
		if got := Matches(c.ip, c.pattern); got != c.want {
			t.Fatalf("Matches(%q,%q)=%v want %v", c.ip, c.pattern, got, c.want)
		}
	}
}

func TestRegistry_DefaultsAndGrants(t *testing.T) {
	r := NewRegistry()
	if !r.Has("1.2.3.4", Place) || r.Has("1.2.3.4", Build) {
		t.Fatalf("unknown identity should hold exactly the defaults")
	}
	if !r.MayPlace("1.2.3.4") {
		t.Fatalf("unknown identity must keep its cars")
	}

	r.Seed("::1", "loovjo", Build, Police, Command)
	e, ok := r.Lookup("::1")
	if !ok || e.Name != "loovjo" {
		t.Fatalf("Lookup=%+v,%v", e, ok)
	}
	want := []Perm{Connect, View, Place, Police, Build, Command}
	if !reflect.DeepEqual(e.Perms, want) {
		t.Fatalf("perms=%v want %v", e.Perms, want)
	}

	r.Make("10.0.0.1", "a")
	r.Make("10.0.0.2", "b")
	ips := r.Match("10.0.0.0/24")
	if !reflect.DeepEqual(ips, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Fatalf("Match=%v", ips)
	}
	r.Deny(ips, Place)
	if r.MayPlace("10.0.0.1") || r.Has("10.0.0.2", Place) {
		t.Fatalf("deny did not apply")
	}
	r.Grant([]string{"10.0.0.1"}, Moderator)
	if !r.Has("10.0.0.1", Moderator) {
		t.Fatalf("grant did not apply")
	}
	r.Remove([]string{"10.0.0.1"})
	if _, ok := r.Lookup("10.0.0.1"); ok {
		t.Fatalf("remove did not apply")
	}
	if len(r.Entries()) != 2 {
		t.Fatalf("entries=%v", r.Entries())
	}
}

func TestParsePerm(t *testing.T) {
	if p, ok := ParsePerm("build"); !ok || p != Build {
		t.Fatalf("ParsePerm(build)=%v,%v", p, ok)
	}
	if _, ok := ParsePerm("root"); ok {
		t.Fatalf("unknown permission accepted")
	}
}
