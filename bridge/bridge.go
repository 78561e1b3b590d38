// Package bridge is the capability surface handed to game scripts. It
// threads the per-run execution context through context.Context, routes
// hierarchy operations through the registry's single move operation,
// sandboxes file access under the mudlib root, and exposes the
// pluggable slots the network layer installs its callbacks into.
package bridge

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/duskmud/driver/perms"
	"github.com/duskmud/driver/registry"
	"github.com/duskmud/driver/structs"
	"github.com/gertd/go-pluralize"
	"github.com/pkg/errors"
)

// Context identifies who is running right now: the object whose script
// is executing and, when the run was triggered by a player, that
// player's name. It travels with the run's context.Context, so
// overlapping runs on different goroutines each see their own.
type Context struct {
	ObjectID string
	Player   string
}

type contextKey struct{}

// WithContext returns a context carrying c for one script run.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the execution context carried by ctx, or the
// zero Context outside a run.
func FromContext(ctx context.Context) Context {
	if c, ok := ctx.Value(contextKey{}).(Context); ok {
		return c
	}
	return Context{}
}

type Options struct {
	MudlibDir string
}

type Bridge struct {
	opts     Options
	registry *registry.Registry
	guard    *perms.Guard
	board    *Switchboard
	plural   *pluralize.Client
}

func New(opts Options, reg *registry.Registry, guard *perms.Guard) *Bridge {
	return &Bridge{
		opts:     opts,
		registry: reg,
		guard:    guard,
		board:    NewSwitchboard(),
		plural:   pluralize.NewClient(),
	}
}

func (b *Bridge) Switchboard() *Switchboard {
	return b.board
}

// Move relocates obj into dest, or into the void when dest is nil.
func (b *Bridge) Move(obj *structs.Object, dest *structs.Object) error {
	return b.registry.Move(obj, dest)
}

// Environment returns the object containing obj, or nil.
func (b *Bridge) Environment(obj *structs.Object) *structs.Object {
	return b.registry.Environment(obj)
}

// AllInventory returns obj's full transitive content.
func (b *Bridge) AllInventory(obj *structs.Object) []*structs.Object {
	return b.registry.AllInventory(obj)
}

// Find returns the live object with the given id.
func (b *Bridge) Find(id string) (*structs.Object, bool) {
	return b.registry.Get(id)
}

// Capitalize uppercases the first rune of s.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SplitCommand splits a command line into words honoring quoting.
func SplitCommand(line string) ([]string, error) {
	parts, err := shellwords.SplitPosix(strings.TrimSpace(line))
	if err != nil {
		return nil, errors.Wrapf(err, "splitting %q", line)
	}
	return parts, nil
}

// Trim strips leading and trailing whitespace.
func Trim(s string) string {
	return strings.TrimSpace(s)
}

func Lower(s string) string {
	return strings.ToLower(s)
}

func Upper(s string) string {
	return strings.ToUpper(s)
}

// Join glues words with a separator, the inverse of SplitCommand for
// unquoted input.
func Join(words []string, sep string) string {
	return strings.Join(words, sep)
}

// Plural returns the plural form of word.
func (b *Bridge) Plural(word string) string {
	return b.plural.Plural(word)
}

// Singular returns the singular form of word.
func (b *Bridge) Singular(word string) string {
	return b.plural.Singular(word)
}

// Now returns the current time in epoch milliseconds, the unit scripts
// use for dates.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Random returns a uniform integer in [0, n); n <= 0 yields 0.
func Random(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.Intn(n)
}
