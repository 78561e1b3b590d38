package shadow

import (
	"testing"

	"github.com/duskmud/driver/structs"
)

func testObject(t *testing.T) *structs.Object {
	t.Helper()
	obj, err := structs.MakeObject()
	if err != nil {
		t.Fatal(err)
	}
	obj.Path = "/std/sword.js"
	obj.Props["damage"] = structs.N(5)
	obj.Props["name"] = structs.S("sword")
	return obj
}

func TestPriorityResolution(t *testing.T) {
	e := New()
	obj := testObject(t)

	low := &Shadow{Id: "low", Type: "enchant", Priority: 5, Props: map[string]structs.Value{
		"damage": structs.N(7),
	}}
	high := &Shadow{Id: "high", Type: "curse", Priority: 10, Props: map[string]structs.Value{
		"damage": structs.N(1),
	}}
	if err := e.Attach(obj, low); err != nil {
		t.Fatal(err)
	}
	if err := e.Attach(obj, high); err != nil {
		t.Fatal(err)
	}

	if got := e.Resolve(obj, "damage"); !got.Equal(structs.N(1)) {
		t.Errorf("got %+v, want high shadow's 1", got)
	}
	// Disabling the winner exposes the next layer without detaching.
	if !e.SetActive(obj, "high", false) {
		t.Fatal("SetActive didn't find the shadow")
	}
	if got := e.Resolve(obj, "damage"); !got.Equal(structs.N(7)) {
		t.Errorf("got %+v, want low shadow's 7", got)
	}
	e.SetActive(obj, "high", true)
	if got := e.Resolve(obj, "damage"); !got.Equal(structs.N(1)) {
		t.Errorf("got %+v, want high shadow's 1 again", got)
	}
	// Detaching both falls through to the real object.
	e.Detach(obj, "high")
	e.Detach(obj, "low")
	if got := e.Resolve(obj, "damage"); !got.Equal(structs.N(5)) {
		t.Errorf("got %+v, want real 5", got)
	}
}

func TestEqualPriorityMostRecentWins(t *testing.T) {
	e := New()
	obj := testObject(t)

	first := &Shadow{Id: "first", Priority: 5, Props: map[string]structs.Value{"damage": structs.N(8)}}
	second := &Shadow{Id: "second", Priority: 5, Props: map[string]structs.Value{"damage": structs.N(9)}}
	if err := e.Attach(obj, first); err != nil {
		t.Fatal(err)
	}
	if err := e.Attach(obj, second); err != nil {
		t.Fatal(err)
	}
	if got := e.Resolve(obj, "damage"); !got.Equal(structs.N(9)) {
		t.Errorf("got %+v, want most recently attached 9", got)
	}
}

func TestUnshadowableMembers(t *testing.T) {
	e := New()
	obj := testObject(t)

	sneaky := &Shadow{Id: "sneaky", Priority: 100, Props: map[string]structs.Value{
		"id":   structs.S("fake"),
		"path": structs.S("/fake.js"),
	}}
	if err := e.Attach(obj, sneaky); err != nil {
		t.Fatal(err)
	}
	if got := e.Resolve(obj, "id"); !got.Equal(structs.S(obj.Id)) {
		t.Errorf("got %+v, want real id", got)
	}
	if got := e.Resolve(obj, "path"); !got.Equal(structs.S("/std/sword.js")) {
		t.Errorf("got %+v, want real path", got)
	}
}

func TestDoubleAttachRejected(t *testing.T) {
	e := New()
	obj := testObject(t)
	sh := &Shadow{Id: "sh", Priority: 1}
	if err := e.Attach(obj, sh); err != nil {
		t.Fatal(err)
	}
	if err := e.Attach(obj, sh); err == nil {
		t.Fatal("expected second attach to be rejected")
	}
	if got := len(e.Shadows(obj)); got != 1 {
		t.Errorf("got %d layers, want 1", got)
	}
}

func TestAttachDetachHooks(t *testing.T) {
	e := New()
	obj := testObject(t)

	// The pair of hooks must exactly reverse each other's side
	// effect on the target.
	sh := &Shadow{
		Id:       "buff",
		Priority: 1,
		OnAttach: func(target *structs.Object) {
			target.Props["buffed"] = structs.B(true)
		},
		OnDetach: func(target *structs.Object) {
			delete(target.Props, "buffed")
		},
	}
	if err := e.Attach(obj, sh); err != nil {
		t.Fatal(err)
	}
	if _, found := obj.Props["buffed"]; !found {
		t.Fatal("attach hook didn't run")
	}
	if !e.Detach(obj, "buff") {
		t.Fatal("detach reported false")
	}
	if _, found := obj.Props["buffed"]; found {
		t.Fatal("detach hook didn't run")
	}
	if e.Detach(obj, "buff") {
		t.Error("detaching twice reported true")
	}
}

func TestSetActiveFiresNoHooks(t *testing.T) {
	e := New()
	obj := testObject(t)
	attachCount, detachCount := 0, 0
	sh := &Shadow{
		Id:       "toggle",
		Priority: 1,
		OnAttach: func(*structs.Object) { attachCount++ },
		OnDetach: func(*structs.Object) { detachCount++ },
	}
	if err := e.Attach(obj, sh); err != nil {
		t.Fatal(err)
	}
	e.SetActive(obj, "toggle", false)
	e.SetActive(obj, "toggle", true)
	if attachCount != 1 || detachCount != 0 {
		t.Errorf("got attach=%d detach=%d, want 1/0", attachCount, detachCount)
	}
}

func TestDetachAll(t *testing.T) {
	e := New()
	obj := testObject(t)
	detached := 0
	for _, id := range []string{"a", "b"} {
		sh := &Shadow{Id: id, Priority: 1, OnDetach: func(*structs.Object) { detached++ }}
		if err := e.Attach(obj, sh); err != nil {
			t.Fatal(err)
		}
	}
	e.DetachAll(obj)
	if detached != 2 {
		t.Errorf("got %d detach hooks, want 2", detached)
	}
	if got := len(e.Shadows(obj)); got != 0 {
		t.Errorf("got %d layers, want 0", got)
	}
}
