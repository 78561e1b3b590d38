// Package game assembles the driver: store, sandbox pool, registry,
// scheduler, bridge, shadows, and permissions guard are constructed
// once here and handed to each other by reference. Nothing in the
// driver reaches for a global.
package game

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/duskmud/driver"
	"github.com/duskmud/driver/bridge"
	"github.com/duskmud/driver/js"
	"github.com/duskmud/driver/perms"
	"github.com/duskmud/driver/registry"
	"github.com/duskmud/driver/scheduler"
	"github.com/duskmud/driver/shadow"
	"github.com/duskmud/driver/storage"
	"github.com/duskmud/driver/storage/queue"
	"github.com/duskmud/driver/structs"
)

const (
	calloutQueueFile = "callouts"
	auditLogFile     = "audit.log"
)

type Game struct {
	cfg *structs.Config

	Store     *storage.Store
	Pool      *js.Pool
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Bridge    *bridge.Bridge
	Shadows   *shadow.Engine
	Guard     *perms.Guard
	Audit     *storage.AuditLog

	// runLocks serializes script execution per object id, so the
	// heartbeat ticker and the call-out drain never run the same
	// object at once. Separate from the registry's hierarchy locks;
	// a running script must still be able to move its own object.
	runLocks *driver.SyncMap[string, bool]

	queue *queue.Queue
}

// protectedPrefixes are the mudlib trees only administrators may touch.
var protectedPrefixes = []string{"/std/", "/secure/", "/daemon/"}

const sharedLibPrefix = "/lib/"

func New(cfg *structs.Config) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	audit := storage.NewAuditLog(filepath.Join(cfg.DataDir, auditLogFile), storage.DefaultAuditCap)
	q, err := queue.Open(filepath.Join(cfg.DataDir, calloutQueueFile))
	if err != nil {
		return nil, err
	}

	g := &Game{
		cfg:   cfg,
		Store: store,
		Pool: js.NewPool(js.Options{
			MaxIsolates:    cfg.MaxIsolates,
			MemoryLimitMB:  cfg.IsolateMemoryMB,
			DefaultTimeout: cfg.ScriptTimeout(),
		}),
		Registry:  registry.New(registry.Options{MudlibDir: cfg.MudlibDir}),
		Scheduler: scheduler.New(scheduler.Options{HeartbeatInterval: cfg.HeartbeatInterval()}, q),
		Shadows:   shadow.New(),
		Audit:     audit,
		runLocks:  driver.NewSyncMap[string, bool](),
		queue:     q,
	}
	g.Guard = perms.NewGuard(perms.Options{
		ProtectedPrefixes: protectedPrefixes,
		SharedLibPrefix:   sharedLibPrefix,
	}, audit)
	g.Bridge = bridge.New(bridge.Options{MudlibDir: cfg.MudlibDir}, g.Registry, g.Guard)

	g.Registry.SetRun(g.Run)
	g.Registry.SetCompile(g.compileCheck)
	g.Registry.SetOnDestroy(g.objectDestroyed)
	g.Scheduler.SetRun(g.runByID)

	if err := g.Guard.Load(store); err != nil {
		return nil, err
	}
	return g, nil
}

// Start restores scheduler state and launches its loops.
func (g *Game) Start(ctx context.Context) error {
	if err := g.Scheduler.Reindex(); err != nil {
		return err
	}
	return g.Scheduler.Start(ctx)
}

// Stop winds the driver down in dependency order. The pool goes last so
// in-flight scheduler runs can finish.
func (g *Game) Stop() error {
	g.Scheduler.Stop()
	if err := g.queue.Close(); err != nil {
		log.Printf("closing call-out queue: %v", err)
	}
	g.Pool.Dispose()
	return g.Audit.Close()
}

// lockedKey carries the object ids whose run lock is already held up
// the call chain, so a script re-entering its own object, a destroy
// callback fired from destroyObject say, doesn't deadlock on itself.
type lockedKey struct{}

func lockedObjects(ctx context.Context) map[string]bool {
	held, _ := ctx.Value(lockedKey{}).(map[string]bool)
	return held
}

func withLockedObject(ctx context.Context, held map[string]bool, id string) context.Context {
	next := make(map[string]bool, len(held)+1)
	for heldID := range held {
		next[heldID] = true
	}
	next[id] = true
	return context.WithValue(ctx, lockedKey{}, next)
}

// Run executes one callback on an object in a pooled sandbox, with the
// run's bridge context carried in ctx for its duration. Runs on the
// same object are serialized; the object's script state and registered
// callback names are updated from the run.
func (g *Game) Run(ctx context.Context, obj *structs.Object, call *structs.Call) error {
	source, err := g.Registry.SourceFor(obj)
	if err != nil {
		return err
	}
	ctx = bridge.WithContext(ctx, bridge.Context{ObjectID: obj.Id, Player: bridge.FromContext(ctx).Player})

	if held := lockedObjects(ctx); !held[obj.Id] {
		ctx = withLockedObject(ctx, held, obj.Id)
		g.runLocks.Lock(obj.Id)
		defer g.runLocks.Unlock(obj.Id)
	}

	t := &js.Target{
		Source:    source,
		Origin:    obj.Path,
		State:     obj.State,
		Callbacks: g.objectCallbacks(ctx, obj),
		Console:   g.Bridge.Switchboard().ConsoleWriter(obj.Id),
	}
	res, err := g.Pool.Run(ctx, t, call, g.cfg.ScriptTimeout())
	if err != nil {
		return err
	}
	obj.State = res.State
	obj.Callbacks = res.Callbacks
	return nil
}

// RunAs runs a callback with a player bound as the acting party, used
// for command execution and login hooks. Nested runs triggered by the
// script inherit the player through ctx.
func (g *Game) RunAs(ctx context.Context, player string, obj *structs.Object, call *structs.Call) error {
	ctx = bridge.WithContext(ctx, bridge.Context{ObjectID: obj.Id, Player: player})
	return g.Run(ctx, obj, call)
}

func (g *Game) runByID(ctx context.Context, objectID string, call *structs.Call) error {
	obj, found := g.Registry.Get(objectID)
	if !found {
		// The object died between scheduling and firing. Not an
		// error.
		return nil
	}
	// An empty callback list means the object's source hasn't run in
	// this process yet; run it so the script can register.
	if call.Name != "" && len(obj.Callbacks) > 0 && !obj.HasCallback(call.Name) {
		return nil
	}
	return g.Run(ctx, obj, call)
}

// compileCheck runs source without invoking any callback, which is
// enough for v8 to surface syntax and top-level reference errors.
func (g *Game) compileCheck(ctx context.Context, source string, origin string) error {
	t := &js.Target{Source: source, Origin: origin}
	_, err := g.Pool.Run(ctx, t, nil, g.cfg.ScriptTimeout())
	return err
}

func (g *Game) objectDestroyed(obj *structs.Object) {
	g.Scheduler.Forget(obj.Id)
	g.Shadows.DetachAll(obj)
}

// ExecuteCommand routes a player command line through the installed
// network slot, recording its duration for slow-command diagnostics.
func (g *Game) ExecuteCommand(player string, line string) (string, error) {
	level := g.Guard.LevelOf(player)
	start := time.Now()
	out, err := g.Bridge.Switchboard().ExecuteCommand(player, int(level), line)
	g.Scheduler.Stats().Record(scheduler.OpCommand, player, line, time.Since(start))
	return out, err
}

// LoadObject makes sure the blueprint at path is loaded and clones it.
func (g *Game) LoadObject(ctx context.Context, path string) (*structs.Object, error) {
	if _, err := g.Registry.LoadBlueprint(ctx, path); err != nil {
		return nil, err
	}
	return g.Registry.Clone(ctx, path)
}
