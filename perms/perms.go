// Package perms evaluates write access to the mudlib source tree. Levels
// are strictly ordered; below Administrator, protected prefixes always
// deny, builders write only inside their assigned domains, and senior
// builders additionally inside the shared library. Every write decision
// is audited, allow or deny.
package perms

import (
	"os"
	"strings"
	"sync"

	"github.com/duskmud/driver/storage"
	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

type Level int

const (
	Player Level = iota
	Builder
	SeniorBuilder
	Administrator
)

func (l Level) String() string {
	switch l {
	case Player:
		return "player"
	case Builder:
		return "builder"
	case SeniorBuilder:
		return "senior builder"
	case Administrator:
		return "administrator"
	}
	return "unknown"
}

const (
	actionWrite   = "write"
	actionRead    = "read"
	actionExecute = "execute"
)

// Options configures the fixed policy: prefixes only Administrators may
// write under, and the shared library prefix senior builders may write
// under.
type Options struct {
	ProtectedPrefixes []string
	SharedLibPrefix   string
}

type Guard struct {
	mu      sync.RWMutex
	levels  map[string]Level
	domains map[string][]string
	opts    Options
	audit   *storage.AuditLog
}

func NewGuard(opts Options, audit *storage.AuditLog) *Guard {
	return &Guard{
		levels:  map[string]Level{},
		domains: map[string][]string{},
		opts:    opts,
		audit:   audit,
	}
}

func (g *Guard) SetLevel(name string, level Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[strings.ToLower(name)] = level
}

func (g *Guard) LevelOf(name string) Level {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.levels[strings.ToLower(name)]
}

func (g *Guard) AddDomain(name string, prefix string) {
	key := strings.ToLower(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.domains[key] {
		if existing == prefix {
			return
		}
	}
	g.domains[key] = append(g.domains[key], prefix)
}

func (g *Guard) RemoveDomain(name string, prefix string) bool {
	key := strings.ToLower(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	existing := g.domains[key]
	for i, dom := range existing {
		if dom == prefix {
			g.domains[key] = append(existing[:i], existing[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Guard) Domains(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	existing := g.domains[strings.ToLower(name)]
	result := make([]string, len(existing))
	copy(result, existing)
	return result
}

// Decision is the outcome of one access evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func (g *Guard) record(actor, action, target string, d Decision) Decision {
	if g.audit != nil {
		g.audit.Append(storage.AuditEntry{
			Actor:   strings.ToLower(actor),
			Action:  action,
			Target:  target,
			Success: d.Allowed,
			Details: d.Reason,
		})
	}
	return d
}

// CanWrite evaluates whether actor may write path. Exactly one audit
// entry is produced per call.
func (g *Guard) CanWrite(actor string, path string) Decision {
	g.mu.RLock()
	level := g.levels[strings.ToLower(actor)]
	domains := g.domains[strings.ToLower(actor)]
	g.mu.RUnlock()

	if level >= Administrator {
		return g.record(actor, actionWrite, path, Decision{Allowed: true, Reason: "administrator"})
	}
	for _, prefix := range g.opts.ProtectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return g.record(actor, actionWrite, path, Decision{Reason: "protected path"})
		}
	}
	switch level {
	case SeniorBuilder:
		if g.opts.SharedLibPrefix != "" && strings.HasPrefix(path, g.opts.SharedLibPrefix) {
			return g.record(actor, actionWrite, path, Decision{Allowed: true, Reason: "shared library"})
		}
		fallthrough
	case Builder:
		for _, prefix := range domains {
			if strings.HasPrefix(path, prefix) {
				return g.record(actor, actionWrite, path, Decision{Allowed: true, Reason: "domain " + prefix})
			}
		}
		return g.record(actor, actionWrite, path, Decision{Reason: "outside assigned domains"})
	}
	return g.record(actor, actionWrite, path, Decision{Reason: "players can't write"})
}

// CanRead is a policy seam: permissive today, but all read checks must go
// through it so tightening it later is one change.
func (g *Guard) CanRead(actor string, path string) Decision {
	return Decision{Allowed: true}
}

// CanExecute is a policy seam like CanRead.
func (g *Guard) CanExecute(actor string, path string) Decision {
	return Decision{Allowed: true}
}

// Snapshot returns the persistable form of the guard's mutable state.
func (g *Guard) Snapshot() *structs.PermissionsFile {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f := &structs.PermissionsFile{
		Levels:  map[string]int{},
		Domains: map[string][]string{},
	}
	for name, level := range g.levels {
		f.Levels[name] = int(level)
	}
	for name, domains := range g.domains {
		list := make([]string, len(domains))
		copy(list, domains)
		f.Domains[name] = list
	}
	return f
}

// Restore replaces the guard's mutable state from a permissions file.
func (g *Guard) Restore(f *structs.PermissionsFile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels = map[string]Level{}
	for name, level := range f.Levels {
		g.levels[strings.ToLower(name)] = Level(level)
	}
	g.domains = map[string][]string{}
	for name, domains := range f.Domains {
		list := make([]string, len(domains))
		copy(list, domains)
		g.domains[strings.ToLower(name)] = list
	}
}

// Save persists the guard through the store.
func (g *Guard) Save(store *storage.Store) error {
	return store.SavePermissions(g.Snapshot())
}

// Load restores the guard from the store. A missing permissions file is
// not an error: the guard starts empty.
func (g *Guard) Load(store *storage.Store) error {
	f, err := store.LoadPermissions()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	g.Restore(f)
	return nil
}
