package game

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/duskmud/driver/storage"
	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

const (
	saveCallbackName    = "save"
	restoreCallbackName = "restore"
)

// SaveWorld snapshots every live object into the versioned world file.
func (g *Game) SaveWorld() error {
	state := &structs.WorldState{
		Version: structs.WorldStateVersion,
		SavedAt: time.Now(),
	}
	g.Registry.Each(func(obj *structs.Object) {
		serialized, err := storage.Serialize(obj, g.Registry.Ref)
		if err != nil {
			log.Printf("serializing %s: %v", obj.Id, err)
			return
		}
		state.Objects = append(state.Objects, serialized)
	})
	sort.Slice(state.Objects, func(i, j int) bool {
		return state.Objects[i].Id < state.Objects[j].Id
	})
	return g.Store.SaveWorld(state)
}

// LoadWorld restores a world snapshot: all objects are registered
// first, then the hierarchy rebuilt, then heartbeats re-registered.
// Blueprints are loaded on demand; an object whose source is gone is
// skipped with a log line, it never aborts the rest.
func (g *Game) LoadWorld(ctx context.Context) error {
	state, err := g.Store.LoadWorld()
	if err != nil {
		return err
	}
	restored := map[string]*structs.Object{}
	for _, serialized := range state.Objects {
		bp, err := g.Registry.LoadBlueprint(ctx, serialized.Path)
		if err != nil {
			log.Printf("restoring %s: blueprint %s: %v", serialized.Id, serialized.Path, err)
			continue
		}
		obj, err := structs.MakeObject()
		if err != nil {
			return err
		}
		obj.Id = serialized.Id
		obj.Path = serialized.Path
		obj.Clone = serialized.Clone
		if serialized.Clone {
			obj.Blueprint = serialized.Path
		}
		obj.Version = bp.Version
		if err := storage.Deserialize(serialized, obj); err != nil {
			log.Printf("restoring %s: %v", serialized.Id, err)
			continue
		}
		if err := g.Registry.Register(obj); err != nil {
			return err
		}
		restored[obj.Id] = obj
	}
	for _, serialized := range state.Objects {
		obj, found := restored[serialized.Id]
		if !found || serialized.Environment == nil {
			continue
		}
		env, found := restored[serialized.Environment.Id]
		if !found {
			log.Printf("restoring %s: environment %s missing", obj.Id, serialized.Environment.Id)
			continue
		}
		if err := g.Registry.Move(obj, env); err != nil {
			log.Printf("restoring %s: %v", obj.Id, err)
		}
	}
	for _, obj := range restored {
		if obj.Heartbeat {
			g.Scheduler.SetHeartbeat(obj, true)
		}
	}
	return nil
}

// SavePlayer persists the object bound to a player name. The object's
// save callback runs first so the script can stage free-form fields
// into a "save" prop that lands in the file's extra section.
func (g *Game) SavePlayer(ctx context.Context, name string, obj *structs.Object) error {
	if obj.HasCallback(saveCallbackName) {
		if err := g.RunAs(ctx, name, obj, &structs.Call{Name: saveCallbackName}); err != nil {
			log.Printf("save callback on %s: %v", obj.Id, err)
		}
	}
	serialized, err := storage.Serialize(obj, g.Registry.Ref)
	if err != nil {
		return err
	}
	data := &structs.PlayerSaveData{
		Name:     name,
		Location: obj.Location,
		SavedAt:  time.Now(),
		State:    serialized,
	}
	if saved, found := obj.Props[saveCallbackName]; found {
		data.Extra = map[string]structs.Value{saveCallbackName: saved}
	}
	return g.Store.SavePlayer(data)
}

// LoadPlayer restores a player's object from disk, clones its blueprint
// and overlays the saved state, then fires the restore callback.
func (g *Game) LoadPlayer(ctx context.Context, name string) (*structs.Object, error) {
	data, err := g.Store.LoadPlayer(name)
	if err != nil {
		return nil, err
	}
	if data.State == nil {
		return nil, errors.Errorf("player file for %q has no state", name)
	}
	obj, err := g.LoadObject(ctx, data.State.Path)
	if err != nil {
		return nil, err
	}
	if err := storage.Deserialize(data.State, obj); err != nil {
		return nil, err
	}
	for key, value := range data.Extra {
		obj.Props[key] = value
	}
	if obj.Heartbeat {
		g.Scheduler.SetHeartbeat(obj, true)
	}
	if obj.HasCallback(restoreCallbackName) {
		if err := g.RunAs(ctx, name, obj, &structs.Call{Name: restoreCallbackName}); err != nil {
			log.Printf("restore callback on %s: %v", obj.Id, err)
		}
	}
	return obj, nil
}
