// Package access tracks identities (remote addresses) and the permissions they hold.
package access

import (
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type Perm string

const (
	Connect   Perm = "connect"
	View      Perm = "view"
	Place     Perm = "place"
	Police    Perm = "police"
	Build     Perm = "build"
	Command   Perm = "command"
	Moderator Perm = "moderator"
)

// AllPerms is every permission in display order.
var AllPerms = []Perm{Connect, View, Place, Police, Build, Command, Moderator}

// DefaultPerms is what a new or unknown identity holds.
var DefaultPerms = []Perm{Connect, View, Place}

func ParsePerm(s string) (Perm, bool) {
	p := Perm(s)
	return p, lo.Contains(AllPerms, p)
}

type user struct {
	name  string
	perms map[Perm]bool
}

func newUser(name string) *user {
	u := &user{name: name, perms: map[Perm]bool{}}
	for _, p := range DefaultPerms {
		u.perms[p] = true
	}
	return u
}

func (u *user) list() []Perm {
	return lo.Filter(AllPerms, func(p Perm, _ int) bool { return u.perms[p] })
}

// Entry is a registered identity as shown to clients and the console.
type Entry struct {
	IP    string
	Name  string
	Perms []Perm
}

// Registry is safe for concurrent use; the world loop reads it at the end of every tick.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*user
}

func NewRegistry() *Registry {
	return &Registry{users: map[string]*user{}}
}

// Make registers (or replaces) ip as name with the default permissions.
func (r *Registry) Make(ip, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[ip] = newUser(name)
}

// Seed registers ip and grants extra permissions on top of the defaults.
func (r *Registry) Seed(ip, name string, grant ...Perm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := newUser(name)
	for _, p := range grant {
		u.perms[p] = true
	}
	r.users[ip] = u
}

func (r *Registry) Lookup(ip string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[ip]
	if !ok {
		return Entry{}, false
	}
	return Entry{IP: ip, Name: u.name, Perms: u.list()}, true
}

// Perms returns what ip holds; unknown identities hold the defaults.
func (r *Registry) Perms(ip string) []Perm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[ip]; ok {
		return u.list()
	}
	return append([]Perm(nil), DefaultPerms...)
}

func (r *Registry) Has(ip string, p Perm) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[ip]; ok {
		return u.perms[p]
	}
	return lo.Contains(DefaultPerms, p)
}

// MayPlace reports whether cars held by ip may stay in the world.
// Only a registered identity can lose the right.
func (r *Registry) MayPlace(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[ip]
	return !ok || u.perms[Place]
}

// Match lists the registered identities matching pattern, sorted.
func (r *Registry) Match(pattern string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ips := lo.Filter(lo.Keys(r.users), func(ip string, _ int) bool { return Matches(ip, pattern) })
	sort.Strings(ips)
	return ips
}

func (r *Registry) Grant(ips []string, p Perm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ip := range ips {
		if u, ok := r.users[ip]; ok {
			u.perms[p] = true
		}
	}
}

func (r *Registry) Deny(ips []string, p Perm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ip := range ips {
		if u, ok := r.users[ip]; ok {
			delete(u.perms, p)
		}
	}
}

func (r *Registry) Remove(ips []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ip := range ips {
		delete(r.users, ip)
	}
}

// Entries lists every registered identity sorted by address.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.users))
	for ip, u := range r.users {
		out = append(out, Entry{IP: ip, Name: u.name, Perms: u.list()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Matches reports whether ip matches a comma-separated pattern of CIDR blocks, addresses or "*".
func Matches(ip, pattern string) bool {
	addr, addrErr := netip.ParseAddr(ip)
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || part == ip {
			return true
		}
		if addrErr != nil {
			continue
		}
		if pfx, err := netip.ParsePrefix(part); err == nil {
			if pfx.Contains(addr.Unmap()) || pfx.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(part); err == nil && other.Unmap() == addr.Unmap() {
			return true
		}
	}
	return false
}
