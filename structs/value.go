package structs

import (
	"reflect"
	"time"

	driver "github.com/duskmud/driver"
	"github.com/pkg/errors"

	goccy "github.com/goccy/go-json"
)

// Kind discriminates Value. The set of kinds is exactly what the driver
// persists; there is no escape hatch for arbitrary Go values.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindList
	KindMap
	KindSet
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindRef:
		return "object_ref"
	}
	return "unknown"
}

// ObjectRef is a lightweight stand-in for a nested object: enough to find
// the object again, never its state.
type ObjectRef struct {
	Path  string `json:"path"`
	Clone bool   `json:"is_clone"`
	Id    string `json:"id,omitempty"`
}

// Value is a tagged union over the property kinds the driver knows how to
// persist. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Date time.Time
	List []Value // KindList and KindSet
	Map  map[string]Value
	Ref  ObjectRef
}

func Nil() Value                { return Value{Kind: KindNil} }
func B(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func N(f float64) Value         { return Value{Kind: KindNumber, Num: f} }
func S(s string) Value          { return Value{Kind: KindString, Str: s} }
func D(t time.Time) Value       { return Value{Kind: KindDate, Date: t} }
func L(vs ...Value) Value       { return Value{Kind: KindList, List: vs} }
func SetOf(vs ...Value) Value   { return Value{Kind: KindSet, List: vs} }
func M(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}
func Ref(r ObjectRef) Value { return Value{Kind: KindRef, Ref: r} }

const (
	typeKey      = "__type"
	typeDate     = "date"
	typeMap      = "map"
	typeSet      = "set"
	typeRef      = "object_ref"
	typeCircular = "circular"
)

// Encode turns v into a JSON-safe tree of plain Go values. Dates, maps and
// sets become tagged wrapper objects, object references become markers, and
// any container already visited in this call becomes a circular marker
// instead of being descended into again.
func (v Value) Encode() any {
	return encodeValue(v, map[uintptr]bool{})
}

func containerAddr(v Value) uintptr {
	switch v.Kind {
	case KindList, KindSet:
		if len(v.List) == 0 {
			return 0
		}
		return reflect.ValueOf(v.List).Pointer()
	case KindMap:
		if v.Map == nil {
			return 0
		}
		return reflect.ValueOf(v.Map).Pointer()
	}
	return 0
}

func encodeValue(v Value, visited map[uintptr]bool) any {
	if addr := containerAddr(v); addr != 0 {
		if visited[addr] {
			return map[string]any{typeKey: typeCircular}
		}
		visited[addr] = true
		defer delete(visited, addr)
	}
	switch v.Kind {
	case KindNil:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindDate:
		return map[string]any{typeKey: typeDate, "ms": v.Date.UnixMilli()}
	case KindList:
		list := make([]any, len(v.List))
		for i, el := range v.List {
			list[i] = encodeValue(el, visited)
		}
		return list
	case KindSet:
		list := make([]any, len(v.List))
		for i, el := range v.List {
			list[i] = encodeValue(el, visited)
		}
		return map[string]any{typeKey: typeSet, "values": list}
	case KindMap:
		entries := make(map[string]any, len(v.Map))
		for k, el := range v.Map {
			entries[k] = encodeValue(el, visited)
		}
		return map[string]any{typeKey: typeMap, "entries": entries}
	case KindRef:
		return map[string]any{
			typeKey:    typeRef,
			"path":     v.Ref.Path,
			"is_clone": v.Ref.Clone,
			"id":       v.Ref.Id,
		}
	}
	return nil
}

// Decode is the inverse of Encode. Untagged JSON objects are accepted as
// maps so that script-produced state can be adopted directly. Circular
// markers decode to nil: the cycle was broken at encode time.
func Decode(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return B(t), nil
	case float64:
		return N(t), nil
	case string:
		return S(t), nil
	case []any:
		list := make([]Value, len(t))
		for i, el := range t {
			var err error
			if list[i], err = Decode(el); err != nil {
				return Nil(), err
			}
		}
		return Value{Kind: KindList, List: list}, nil
	case map[string]any:
		return decodeObject(t)
	}
	return Nil(), errors.Errorf("can't decode %T into a Value", raw)
}

func decodeObject(obj map[string]any) (Value, error) {
	typ, _ := obj[typeKey].(string)
	switch typ {
	case typeDate:
		ms, ok := obj["ms"].(float64)
		if !ok {
			return Nil(), errors.Errorf("date wrapper without ms: %v", obj)
		}
		return D(time.UnixMilli(int64(ms)).UTC()), nil
	case typeSet:
		raw, _ := obj["values"].([]any)
		list := make([]Value, len(raw))
		for i, el := range raw {
			var err error
			if list[i], err = Decode(el); err != nil {
				return Nil(), err
			}
		}
		return Value{Kind: KindSet, List: list}, nil
	case typeRef:
		ref := ObjectRef{}
		ref.Path, _ = obj["path"].(string)
		ref.Clone, _ = obj["is_clone"].(bool)
		ref.Id, _ = obj["id"].(string)
		return Ref(ref), nil
	case typeCircular:
		return Nil(), nil
	case typeMap:
		raw, _ := obj["entries"].(map[string]any)
		return decodeEntries(raw)
	case "":
		return decodeEntries(obj)
	}
	return Nil(), errors.Errorf("unknown wrapper type %q", typ)
}

func decodeEntries(raw map[string]any) (Value, error) {
	m := make(map[string]Value, len(raw))
	for k, el := range raw {
		var err error
		if m[k], err = Decode(el); err != nil {
			return Nil(), err
		}
	}
	return M(m), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return goccy.Marshal(v.Encode())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := goccy.Unmarshal(b, &raw); err != nil {
		return driver.WithStack(err)
	}
	dec, err := Decode(raw)
	if err != nil {
		return driver.WithStack(err)
	}
	*v = dec
	return nil
}

// Equal compares values structurally. Dates compare by instant.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindDate:
		return v.Date.Equal(o.Date)
	case KindList, KindSet:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, el := range v.Map {
			other, found := o.Map[k]
			if !found || !el.Equal(other) {
				return false
			}
		}
		return true
	case KindRef:
		return v.Ref == o.Ref
	}
	return false
}
