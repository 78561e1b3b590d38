// Package registry tracks every live game object: blueprints keyed by
// mudlib path and instances keyed by object id. It owns the single move
// operation that keeps environment and inventory consistent, and the
// hot reload path that recompiles blueprints while leaving live clones
// on their old code until migration is requested.
package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/duskmud/driver"
	"github.com/duskmud/driver/js/imports"
	"github.com/duskmud/driver/structs"
	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/pkg/errors"
)

const (
	createCallbackName   = "create"
	destroyCallbackName  = "destroy"
	migratedCallbackName = "migrated"

	sourceCacheTTL  = time.Minute
	sourceCacheKeys = 1024
)

// Blueprint is one compiled version of a mudlib source path. Reloading
// bumps Version; clones remember the version they were created under.
type Blueprint struct {
	Path    string
	Version uint64
	Source  string
}

// RunFunc executes a callback on an object inside a sandbox. Installed
// by the game layer once the pool exists.
type RunFunc func(ctx context.Context, obj *structs.Object, call *structs.Call) error

// CompileFunc checks that source compiles. Installed by the game layer;
// when nil, reloads skip the compile check.
type CompileFunc func(ctx context.Context, source string, origin string) error

type Options struct {
	MudlibDir string
}

type Registry struct {
	opts       Options
	blueprints *driver.SyncMap[string, *Blueprint]
	objects    *driver.SyncMap[string, *structs.Object]
	// sources keeps every version ever handed to a clone, keyed
	// path@version, so hot reload never changes code under a live
	// object.
	sources *driver.SyncMap[string, string]
	cache   cache.Cache[string, *imports.Result]

	run       RunFunc
	compile   CompileFunc
	onDestroy func(obj *structs.Object)
}

func New(opts Options) *Registry {
	return &Registry{
		opts:       opts,
		blueprints: driver.NewSyncMap[string, *Blueprint](),
		objects:    driver.NewSyncMap[string, *structs.Object](),
		sources:    driver.NewSyncMap[string, string](),
		cache:      cache.NewCache[string, *imports.Result]().WithTTL(sourceCacheTTL).WithMaxKeys(sourceCacheKeys),
	}
}

// SetRun installs the sandbox execution hook.
func (r *Registry) SetRun(run RunFunc) {
	r.run = run
}

// SetCompile installs the reload compile check.
func (r *Registry) SetCompile(compile CompileFunc) {
	r.compile = compile
}

// SetOnDestroy installs the host hook fired when an object is evicted,
// after its script destroy callback and before removal from the map.
func (r *Registry) SetOnDestroy(hook func(obj *structs.Object)) {
	r.onDestroy = hook
}

func versionKey(sourcePath string, version uint64) string {
	return fmt.Sprintf("%s@%d", sourcePath, version)
}

// loadFile reads one mudlib source file. Paths are mudlib-absolute.
func (r *Registry) loadFile(_ context.Context, sourcePath string) ([]byte, error) {
	cleaned := path.Clean("/" + sourcePath)
	full := filepath.Join(r.opts.MudlibDir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	return b, nil
}

func (r *Registry) resolveSource(ctx context.Context, sourcePath string) (*imports.Result, error) {
	if cached, found := r.cache.Get(sourcePath); found {
		return cached, nil
	}
	result, err := imports.Resolve(ctx, sourcePath, r.loadFile)
	if err != nil {
		return nil, err
	}
	r.cache.Set(sourcePath, result, 0)
	return result, nil
}

// invalidateSource drops sourcePath from the resolve cache along with
// every cached root whose dependency tree includes it.
func (r *Registry) invalidateSource(sourcePath string) {
	for _, key := range r.cache.Keys() {
		if key == sourcePath {
			r.cache.Invalidate(key)
			continue
		}
		if cached, found := r.cache.Peek(key); found && slices.Contains(cached.Deps, sourcePath) {
			r.cache.Invalidate(key)
		}
	}
}

// LoadBlueprint returns the blueprint for sourcePath, compiling it on
// first use. It never reloads; use Reload for that.
func (r *Registry) LoadBlueprint(ctx context.Context, sourcePath string) (*Blueprint, error) {
	var bp *Blueprint
	var err error
	r.blueprints.WithLock(sourcePath, func() {
		var found bool
		if bp, found = r.blueprints.GetHas(sourcePath); found {
			return
		}
		var resolved *imports.Result
		if resolved, err = r.resolveSource(ctx, sourcePath); err != nil {
			return
		}
		bp = &Blueprint{Path: sourcePath, Version: 1, Source: resolved.Source}
		r.sources.Set(versionKey(sourcePath, bp.Version), bp.Source)
		r.blueprints.Set(sourcePath, bp)
	})
	if err != nil {
		return nil, err
	}
	return bp, nil
}

// Blueprint returns the current blueprint for sourcePath, if loaded.
func (r *Registry) Blueprint(sourcePath string) (*Blueprint, bool) {
	return r.blueprints.GetHas(sourcePath)
}

// SourceFor returns the compiled source an object runs, which is the
// blueprint version it was created or migrated under.
func (r *Registry) SourceFor(obj *structs.Object) (string, error) {
	if src, found := r.sources.GetHas(versionKey(obj.Path, obj.Version)); found {
		return src, nil
	}
	return "", errors.Errorf("no source for %s version %d", obj.Path, obj.Version)
}

// ReloadReport describes what one reload did.
type ReloadReport struct {
	Path       string
	Err        error
	ClonesKept int
	Migrated   int
}

// Reload recompiles sourcePath into a new blueprint version. With
// migrate false, live clones stay on their old version and are counted
// in ClonesKept until Migrate or MigrateAll moves them; with migrate
// true they are migrated right away and counted in Migrated.
func (r *Registry) Reload(ctx context.Context, sourcePath string, migrate bool) ReloadReport {
	report := ReloadReport{Path: sourcePath}
	r.invalidateSource(sourcePath)
	r.blueprints.WithLock(sourcePath, func() {
		resolved, err := r.resolveSource(ctx, sourcePath)
		if err != nil {
			report.Err = err
			return
		}
		if r.compile != nil {
			if err := r.compile(ctx, resolved.Source, sourcePath); err != nil {
				report.Err = err
				return
			}
		}
		bp, found := r.blueprints.GetHas(sourcePath)
		if !found {
			bp = &Blueprint{Path: sourcePath}
		}
		bp = &Blueprint{Path: sourcePath, Version: bp.Version + 1, Source: resolved.Source}
		r.sources.Set(versionKey(sourcePath, bp.Version), bp.Source)
		r.blueprints.Set(sourcePath, bp)
		for obj := range r.objects.Values() {
			if obj.Path == sourcePath && obj.Version < bp.Version {
				report.ClonesKept++
			}
		}
	})
	if migrate && report.Err == nil {
		migrated, _ := r.MigrateAll(ctx, sourcePath)
		report.Migrated = migrated
		report.ClonesKept -= migrated
	}
	return report
}

// BatchReport aggregates a pattern reload.
type BatchReport struct {
	Reports []ReloadReport
	Loaded  int
	Failed  int
}

// ReloadAll reloads every loaded blueprint whose path matches pattern.
// One bad file never aborts the rest.
func (r *Registry) ReloadAll(ctx context.Context, pattern string, migrate bool) (*BatchReport, error) {
	var paths []string
	for p := range r.blueprints.Keys() {
		matched, err := path.Match(pattern, p)
		if err != nil {
			return nil, driver.WithStack(err)
		}
		if matched {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	batch := &BatchReport{}
	for _, p := range paths {
		report := r.Reload(ctx, p, migrate)
		if report.Err != nil {
			batch.Failed++
			log.Printf("reload %s failed: %v", p, report.Err)
		} else {
			batch.Loaded++
		}
		batch.Reports = append(batch.Reports, report)
	}
	return batch, nil
}

// Clone instantiates a fresh object from an already loaded blueprint
// and fires its create callback.
func (r *Registry) Clone(ctx context.Context, sourcePath string) (*structs.Object, error) {
	bp, found := r.blueprints.GetHas(sourcePath)
	if !found {
		return nil, errors.Errorf("no blueprint loaded for %s", sourcePath)
	}
	obj, err := structs.MakeObject()
	if err != nil {
		return nil, err
	}
	obj.Path = sourcePath
	obj.Clone = true
	obj.Blueprint = sourcePath
	obj.Version = bp.Version
	r.objects.Set(obj.Id, obj)
	if r.run != nil {
		if err := r.run(ctx, obj, &structs.Call{Name: createCallbackName}); err != nil {
			r.objects.Del(obj.Id)
			return nil, err
		}
	}
	return obj, nil
}

// Register inserts an already built object, used when restoring a world
// snapshot. The create callback is not fired.
func (r *Registry) Register(obj *structs.Object) error {
	if obj.Id == "" {
		return errors.New("object without id")
	}
	if _, found := r.objects.GetHas(obj.Id); found {
		return errors.Errorf("object %s already registered", obj.Id)
	}
	r.objects.Set(obj.Id, obj)
	return nil
}

// Get returns the live object with the given id.
func (r *Registry) Get(id string) (*structs.Object, bool) {
	return r.objects.GetHas(id)
}

// Each calls f for every live object.
func (r *Registry) Each(f func(obj *structs.Object)) {
	for obj := range r.objects.Values() {
		f(obj)
	}
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	return r.objects.Len()
}

// Ref builds the serializable reference for a live object id.
func (r *Registry) Ref(id string) *structs.ObjectRef {
	obj, found := r.objects.GetHas(id)
	if !found {
		return &structs.ObjectRef{Id: id}
	}
	return &structs.ObjectRef{Path: obj.Path, Clone: obj.Clone, Id: obj.Id}
}

// withObjectLocks locks the given ids in sorted order so two concurrent
// moves touching the same objects can't deadlock.
func (r *Registry) withObjectLocks(ids []string, f func()) {
	sorted := slices.Clone(ids)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	for _, id := range sorted {
		r.objects.Lock(id)
	}
	defer func() {
		for _, id := range sorted {
			r.objects.Unlock(id)
		}
	}()
	f()
}

// Move is the only operation that changes the containment hierarchy.
// It removes obj from its current environment's inventory and, when
// dest is non-nil, appends it to dest's. Either both sides update or
// neither does.
func (r *Registry) Move(obj *structs.Object, dest *structs.Object) error {
	if dest != nil {
		if dest.Id == obj.Id {
			return errors.Errorf("can't move %s into itself", obj.Id)
		}
		// Walk up from dest; finding obj means the move would
		// close a containment loop.
		for env := dest; env != nil && env.Location != ""; {
			next, found := r.objects.GetHas(env.Location)
			if !found {
				break
			}
			if next.Id == obj.Id {
				return errors.Errorf("can't move %s into its own content", obj.Id)
			}
			env = next
		}
	}
	ids := []string{obj.Id}
	if obj.Location != "" {
		ids = append(ids, obj.Location)
	}
	if dest != nil {
		ids = append(ids, dest.Id)
	}
	r.withObjectLocks(ids, func() {
		if obj.Location != "" {
			if old, found := r.objects.GetHas(obj.Location); found {
				old.RemoveContent(obj.Id)
			}
		}
		if dest == nil {
			obj.Location = ""
		} else {
			obj.Location = dest.Id
			dest.AddContent(obj.Id)
		}
	})
	return nil
}

// Environment returns the object containing obj, or nil.
func (r *Registry) Environment(obj *structs.Object) *structs.Object {
	if obj.Location == "" {
		return nil
	}
	env, found := r.objects.GetHas(obj.Location)
	if !found {
		return nil
	}
	return env
}

// AllInventory returns the full transitive content of obj, depth first.
func (r *Registry) AllInventory(obj *structs.Object) []*structs.Object {
	var result []*structs.Object
	var descend func(o *structs.Object)
	descend = func(o *structs.Object) {
		for _, id := range o.Content {
			item, found := r.objects.GetHas(id)
			if !found {
				continue
			}
			result = append(result, item)
			descend(item)
		}
	}
	descend(obj)
	return result
}

// Destroy unlinks obj from the hierarchy, fires its destroy callback
// and the host destroy hook, and evicts it. Destroying an id that is
// already gone is a no-op.
func (r *Registry) Destroy(ctx context.Context, id string) error {
	obj, found := r.objects.GetHas(id)
	if !found {
		return nil
	}
	if r.run != nil && obj.HasCallback(destroyCallbackName) {
		if err := r.run(ctx, obj, &structs.Call{Name: destroyCallbackName}); err != nil {
			log.Printf("destroy callback on %s: %v", id, err)
		}
	}
	// Content is orphaned to the void, not destroyed with its
	// container.
	for _, contentId := range slices.Clone(obj.Content) {
		if item, ok := r.objects.GetHas(contentId); ok {
			if err := r.Move(item, nil); err != nil {
				log.Printf("unlinking content %s of %s: %v", contentId, id, err)
			}
		}
	}
	if err := r.Move(obj, nil); err != nil {
		return err
	}
	if r.onDestroy != nil {
		r.onDestroy(obj)
	}
	r.objects.Del(id)
	return nil
}
