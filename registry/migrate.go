package registry

import (
	"context"
	"log"

	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

// Migrate moves obj to the current blueprint version: a fresh instance
// of the new code is constructed, its create callback runs, and every
// old property whose kind matches the fresh instance's is copied over,
// then the migrated callback fires on the new instance if registered.
// A field whose kind changed between versions keeps the new version's
// value. Identity, location, and content carry over unchanged. Objects
// already on the current version are left alone.
func (r *Registry) Migrate(ctx context.Context, obj *structs.Object) (bool, error) {
	bp, found := r.blueprints.GetHas(obj.Path)
	if !found {
		return false, errors.Errorf("no blueprint loaded for %s", obj.Path)
	}
	if obj.Version == bp.Version {
		return false, nil
	}

	fresh, err := structs.MakeObject()
	if err != nil {
		return false, err
	}
	fresh.Id = obj.Id
	fresh.Path = obj.Path
	fresh.Clone = obj.Clone
	fresh.Blueprint = obj.Blueprint
	fresh.Version = bp.Version
	fresh.Location = obj.Location
	fresh.Content = append(fresh.Content, obj.Content...)
	fresh.Heartbeat = obj.Heartbeat

	if r.run != nil {
		if err := r.run(ctx, fresh, &structs.Call{Name: createCallbackName}); err != nil {
			return false, errors.Wrapf(err, "migrating %s to version %d", obj.Id, bp.Version)
		}
	}
	for name, old := range obj.Props {
		if current, declared := fresh.Props[name]; declared {
			if current.Kind != old.Kind {
				continue
			}
		}
		fresh.Props[name] = old
	}

	r.objects.WithLock(obj.Id, func() {
		r.objects.Set(obj.Id, fresh)
	})
	if r.run != nil && fresh.HasCallback(migratedCallbackName) {
		if err := r.run(ctx, fresh, &structs.Call{Name: migratedCallbackName}); err != nil {
			log.Printf("migrated callback on %s: %v", fresh.Id, err)
		}
	}
	return true, nil
}

// MigrateAll migrates every clone of sourcePath to the current version.
// Per-object failures are logged and counted; they never stop the rest.
func (r *Registry) MigrateAll(ctx context.Context, sourcePath string) (migrated, failed int) {
	var clones []*structs.Object
	for obj := range r.objects.Values() {
		if obj.Path == sourcePath {
			clones = append(clones, obj)
		}
	}
	for _, obj := range clones {
		moved, err := r.Migrate(ctx, obj)
		if err != nil {
			failed++
			log.Printf("migrate %s: %v", obj.Id, err)
			continue
		}
		if moved {
			migrated++
		}
	}
	return migrated, failed
}
