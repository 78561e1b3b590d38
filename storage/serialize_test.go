package storage

import (
	"testing"

	"github.com/duskmud/driver/structs"
	"github.com/google/go-cmp/cmp"
)

func TestSerializeReferences(t *testing.T) {
	known := map[string]*structs.ObjectRef{
		"sword1": {Path: "/std/weapon.js", Clone: true, Id: "sword1"},
		"square": {Path: "/areas/town/square.js", Id: "square"},
	}
	obj := &structs.Object{
		Id:        "p1",
		Path:      "/std/player.js",
		Clone:     true,
		Location:  "square",
		Content:   []string{"sword1", "ghost"},
		Heartbeat: true,
		State:     `{"hp":10}`,
		Props: map[string]structs.Value{
			"name": structs.S("bob"),
		},
	}
	state, err := Serialize(obj, func(id string) *structs.ObjectRef {
		return known[id]
	})
	if err != nil {
		t.Fatal(err)
	}
	wantInventory := []structs.ObjectRef{
		{Path: "/std/weapon.js", Clone: true, Id: "sword1"},
		{Id: "ghost"},
	}
	if diff := cmp.Diff(wantInventory, state.Inventory); diff != "" {
		t.Errorf("inventory mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(known["square"], state.Environment); diff != "" {
		t.Errorf("environment mismatch (-want +got):\n%s", diff)
	}
	if state.Id != "p1" || state.Path != "/std/player.js" || !state.Clone {
		t.Errorf("identity not carried: %+v", state)
	}
	if state.ScriptState != `{"hp":10}` || !state.Heartbeat {
		t.Errorf("script state not carried: %+v", state)
	}
	if state.Timestamp.IsZero() {
		t.Errorf("timestamp not stamped")
	}

	// The dump owns its property map.
	state.Props["name"] = structs.S("eve")
	if obj.Props["name"].Str != "bob" {
		t.Errorf("serialize aliased the live property map")
	}
}

func TestSerializeNilResolver(t *testing.T) {
	obj := &structs.Object{Id: "a", Path: "/a.js", Location: "b", Content: []string{"c"}}
	state, err := Serialize(obj, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := (&structs.ObjectRef{Id: "b"}); !cmp.Equal(want, state.Environment) {
		t.Errorf("got %+v, want %+v", state.Environment, want)
	}
	if len(state.Inventory) != 1 || state.Inventory[0].Id != "c" {
		t.Errorf("got %+v, want bare ref to c", state.Inventory)
	}
}

func TestDeserializeKeepsIdentity(t *testing.T) {
	into := &structs.Object{
		Id:    "p1",
		Path:  "/std/player.js",
		Clone: true,
		Props: map[string]structs.Value{
			"stale": structs.N(1),
		},
	}
	state := &structs.SerializedState{
		Path:        "/elsewhere.js",
		Id:          "other",
		Props:       map[string]structs.Value{"hp": structs.N(42)},
		ScriptState: `{"x":1}`,
		Heartbeat:   true,
		Environment: &structs.ObjectRef{Id: "square"},
	}
	if err := Deserialize(state, into); err != nil {
		t.Fatal(err)
	}
	if into.Id != "p1" || into.Path != "/std/player.js" || !into.Clone {
		t.Errorf("identity was overwritten: %+v", into)
	}
	if into.Location != "" {
		t.Errorf("deserialize resolved a reference itself: %q", into.Location)
	}
	want := map[string]structs.Value{"hp": structs.N(42)}
	if diff := cmp.Diff(want, into.Props); diff != "" {
		t.Errorf("props mismatch (-want +got):\n%s", diff)
	}
	if into.State != `{"x":1}` || !into.Heartbeat {
		t.Errorf("script state not restored: %+v", into)
	}
}

func TestDeserializeNilState(t *testing.T) {
	if err := Deserialize(nil, &structs.Object{}); err == nil {
		t.Errorf("got nil, wanted an error")
	}
}
