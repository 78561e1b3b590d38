package storage

import (
	"time"

	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

// Serialize dumps an object into a JSON-safe state tree. Properties are
// already tagged Values (their Encode handles date/map/set wrappers and
// circular markers); contained objects and the environment become
// references rather than nested dumps, which bounds the tree and breaks
// containment cycles. The reference resolver receives the IDs and decides
// what the references point at; pass nil to emit bare ID references.
func Serialize(obj *structs.Object, resolve func(id string) *structs.ObjectRef) (*structs.SerializedState, error) {
	state := &structs.SerializedState{
		Path:        obj.Path,
		Id:          obj.Id,
		Clone:       obj.Clone,
		ScriptState: obj.State,
		Heartbeat:   obj.Heartbeat,
		Timestamp:   time.Now().UTC(),
	}
	state.Props = make(map[string]structs.Value, len(obj.Props))
	for k, v := range obj.Props {
		state.Props[k] = v
	}
	refFor := func(id string) *structs.ObjectRef {
		if resolve != nil {
			if ref := resolve(id); ref != nil {
				return ref
			}
		}
		return &structs.ObjectRef{Id: id}
	}
	for _, id := range obj.Content {
		state.Inventory = append(state.Inventory, *refFor(id))
	}
	if obj.Location != "" {
		state.Environment = refFor(obj.Location)
	}
	return state, nil
}

// Deserialize restores the property map and script state from a state
// tree into an existing object. Identity fields (ID, path, clone flag) are
// not touched, and references are left for the registry to resolve: the
// serializer has no say over the live object graph.
func Deserialize(state *structs.SerializedState, into *structs.Object) error {
	if state == nil {
		return errors.New("deserialize: nil state")
	}
	into.Props = make(map[string]structs.Value, len(state.Props))
	for k, v := range state.Props {
		into.Props[k] = v
	}
	into.State = state.ScriptState
	into.Heartbeat = state.Heartbeat
	return nil
}
