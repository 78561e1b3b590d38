// Package shadow layers temporary overlays on top of registry objects.
// A shadow never mutates the object it covers; reads go through an
// explicit override chain instead, consulted highest priority first.
package shadow

import (
	"slices"

	"github.com/duskmud/driver"
	"github.com/duskmud/driver/structs"
	"github.com/pkg/errors"
)

// unshadowable names resolve to the real object no matter what is
// attached. They cover identity, hierarchy, and lifecycle members.
var unshadowable = map[string]bool{
	"id":          true,
	"path":        true,
	"isClone":     true,
	"blueprint":   true,
	"environment": true,
	"inventory":   true,
	"move":        true,
	"create":      true,
	"destroy":     true,
	"getProp":     true,
	"setProp":     true,
}

// Unshadowable reports whether member always bypasses shadows.
func Unshadowable(member string) bool {
	return unshadowable[member]
}

// Hook runs against the shadowed object when a shadow is attached or
// detached. A detach hook must fully reverse whatever its attach hook
// did.
type Hook func(target *structs.Object)

type Shadow struct {
	Id       string
	Type     string
	Priority int
	Props    map[string]structs.Value
	OnAttach Hook
	OnDetach Hook

	active bool
}

func (s *Shadow) Active() bool {
	return s.active
}

// entry pairs a shadow with its attach sequence number so that equal
// priorities resolve most-recently-attached first.
type entry struct {
	shadow *Shadow
	seq    uint64
}

// Stack is the override chain for one object.
type Stack struct {
	target  *structs.Object
	entries []entry
}

// Engine owns one stack per shadowed object id.
type Engine struct {
	stacks *driver.SyncMap[string, *Stack]
	seq    uint64
}

func New() *Engine {
	return &Engine{
		stacks: driver.NewSyncMap[string, *Stack](),
	}
}

// Attach pushes sh onto target's stack and fires its attach hook.
// Attaching a shadow id already present on the same target is rejected,
// it never produces a second layer.
func (e *Engine) Attach(target *structs.Object, sh *Shadow) error {
	if sh.Id == "" {
		return errors.New("shadow without id")
	}
	var result error
	e.stacks.WithLock(target.Id, func() {
		stack, found := e.stacks.GetHas(target.Id)
		if !found {
			stack = &Stack{target: target}
			e.stacks.Set(target.Id, stack)
		}
		for _, ent := range stack.entries {
			if ent.shadow.Id == sh.Id {
				result = errors.Errorf("shadow %q already attached to %q", sh.Id, target.Id)
				return
			}
		}
		sh.active = true
		stack.entries = append(stack.entries, entry{shadow: sh, seq: driver.Increment(&e.seq)})
		slices.SortStableFunc(stack.entries, func(a, b entry) int {
			if a.shadow.Priority != b.shadow.Priority {
				return b.shadow.Priority - a.shadow.Priority
			}
			if a.seq > b.seq {
				return -1
			}
			return 1
		})
	})
	if result != nil {
		return result
	}
	if sh.OnAttach != nil {
		sh.OnAttach(target)
	}
	return nil
}

// Detach removes the shadow with the given id from target's stack and
// fires its detach hook. Detaching a shadow that isn't attached reports
// false.
func (e *Engine) Detach(target *structs.Object, shadowId string) bool {
	var detached *Shadow
	e.stacks.WithLock(target.Id, func() {
		stack, found := e.stacks.GetHas(target.Id)
		if !found {
			return
		}
		for i, ent := range stack.entries {
			if ent.shadow.Id == shadowId {
				detached = ent.shadow
				stack.entries = append(stack.entries[:i], stack.entries[i+1:]...)
				break
			}
		}
		if len(stack.entries) == 0 {
			e.stacks.Del(target.Id)
		}
	})
	if detached == nil {
		return false
	}
	if detached.OnDetach != nil {
		detached.OnDetach(target)
	}
	return true
}

// SetActive toggles a shadow in or out of resolution without firing
// attach or detach hooks. Reports whether the shadow was found.
func (e *Engine) SetActive(target *structs.Object, shadowId string, active bool) bool {
	found := false
	e.stacks.WithLock(target.Id, func() {
		stack, has := e.stacks.GetHas(target.Id)
		if !has {
			return
		}
		for _, ent := range stack.entries {
			if ent.shadow.Id == shadowId {
				ent.shadow.active = active
				found = true
				return
			}
		}
	})
	return found
}

// DetachAll removes every shadow from target, firing each detach hook
// in stack order.
func (e *Engine) DetachAll(target *structs.Object) {
	var detached []*Shadow
	e.stacks.WithLock(target.Id, func() {
		stack, found := e.stacks.GetHas(target.Id)
		if !found {
			return
		}
		for _, ent := range stack.entries {
			detached = append(detached, ent.shadow)
		}
		e.stacks.Del(target.Id)
	})
	for _, sh := range detached {
		if sh.OnDetach != nil {
			sh.OnDetach(target)
		}
	}
}

// Shadows returns target's attached shadows in resolution order.
func (e *Engine) Shadows(target *structs.Object) []*Shadow {
	var result []*Shadow
	e.stacks.WithLock(target.Id, func() {
		stack, found := e.stacks.GetHas(target.Id)
		if !found {
			return
		}
		for _, ent := range stack.entries {
			result = append(result, ent.shadow)
		}
	})
	return result
}

// Resolve reads member through target's override chain. Unshadowable
// members and members no active shadow defines come from the real
// object's property map.
func (e *Engine) Resolve(target *structs.Object, member string) structs.Value {
	if unshadowable[member] {
		return realMember(target, member)
	}
	var result structs.Value
	resolved := false
	e.stacks.WithLock(target.Id, func() {
		stack, found := e.stacks.GetHas(target.Id)
		if !found {
			return
		}
		for _, ent := range stack.entries {
			if !ent.shadow.active {
				continue
			}
			if v, defined := ent.shadow.Props[member]; defined {
				result = v
				resolved = true
				return
			}
		}
	})
	if resolved {
		return result
	}
	return realMember(target, member)
}

func realMember(target *structs.Object, member string) structs.Value {
	switch member {
	case "id":
		return structs.S(target.Id)
	case "path":
		return structs.S(target.Path)
	case "isClone":
		return structs.B(target.Clone)
	case "blueprint":
		return structs.S(target.Blueprint)
	case "environment":
		return structs.S(target.Location)
	case "inventory":
		items := make([]structs.Value, 0, len(target.Content))
		for _, id := range target.Content {
			items = append(items, structs.S(id))
		}
		return structs.L(items...)
	}
	if v, found := target.Props[member]; found {
		return v
	}
	return structs.Nil()
}
