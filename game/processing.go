package game

import (
	"context"
	"fmt"
	"time"

	"github.com/duskmud/driver/bridge"
	"github.com/duskmud/driver/js"
	"github.com/duskmud/driver/structs"
	"rogchap.com/v8go"

	goccy "github.com/goccy/go-json"
)

// jsValue parses raw JSON into a sandbox value.
func jsValue(rc *js.RunContext, raw string) *v8go.Value {
	val, err := v8go.JSONParse(rc.Context(), raw)
	if err != nil {
		return rc.Throw("producing result value: %v", err)
	}
	return val
}

// jsMarshal converts a Go value to a sandbox value via JSON.
func jsMarshal(rc *js.RunContext, value any) *v8go.Value {
	b, err := goccy.Marshal(value)
	if err != nil {
		return rc.Throw("marshalling %v: %v", value, err)
	}
	return jsValue(rc, string(b))
}

// argJSON renders one callback argument as JSON text. Strings come back
// quoted, exactly what goccy expects on the way into a structs.Value.
func argJSON(rc *js.RunContext, arg *v8go.Value) (string, error) {
	return v8go.JSONStringify(rc.Context(), arg)
}

// objectCallbacks is the capability surface one object sees during a
// run. Every function closes over the object being executed; scripts
// never see raw ids of the host side.
func (g *Game) objectCallbacks(ctx context.Context, obj *structs.Object) js.Callbacks {
	callbacks := js.Callbacks{}
	g.addHierarchyCallbacks(ctx, obj, callbacks)
	g.addPropCallbacks(obj, callbacks)
	g.addSchedulerCallbacks(ctx, obj, callbacks)
	g.addFileCallbacks(ctx, callbacks)
	g.addUtilityCallbacks(callbacks)
	g.addPlayerCallbacks(ctx, callbacks)
	return callbacks
}

func (g *Game) addHierarchyCallbacks(ctx context.Context, obj *structs.Object, callbacks js.Callbacks) {
	callbacks["move"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 {
			return rc.Throw("move takes [destinationId|null] arguments")
		}
		var dest *structs.Object
		if !args[0].IsNull() && !args[0].IsUndefined() {
			var found bool
			if dest, found = g.Registry.Get(args[0].String()); !found {
				return rc.Throw("no object %q", args[0].String())
			}
		}
		if err := g.Registry.Move(obj, dest); err != nil {
			return rc.Throw("moving: %v", err)
		}
		return nil
	}
	callbacks["environment"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		env := g.Registry.Environment(obj)
		if env == nil {
			return nil
		}
		return rc.String(env.Id)
	}
	callbacks["inventory"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		return jsMarshal(rc, obj.Content)
	}
	callbacks["allInventory"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		ids := []string{}
		for _, item := range g.Registry.AllInventory(obj) {
			ids = append(ids, item.Id)
		}
		return jsMarshal(rc, ids)
	}
	callbacks["cloneObject"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("cloneObject takes [path] arguments")
		}
		clone, err := g.LoadObject(ctx, args[0].String())
		if err != nil {
			return rc.Throw("cloning %q: %v", args[0].String(), err)
		}
		return rc.String(clone.Id)
	}
	callbacks["destroyObject"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("destroyObject takes [id] arguments")
		}
		if err := g.Registry.Destroy(ctx, args[0].String()); err != nil {
			return rc.Throw("destroying %q: %v", args[0].String(), err)
		}
		return nil
	}
	callbacks["objectId"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		return rc.String(obj.Id)
	}
	callbacks["objectPath"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		return rc.String(obj.Path)
	}
	callbacks["addAction"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
			return rc.Throw("addAction takes [verb, callback] arguments")
		}
		obj.Actions[args[0].String()] = args[1].String()
		return nil
	}
}

func (g *Game) addPropCallbacks(obj *structs.Object, callbacks js.Callbacks) {
	callbacks["getProp"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("getProp takes [name] arguments")
		}
		// Reads go through the shadow engine so overlays apply.
		value := g.Shadows.Resolve(obj, args[0].String())
		return jsMarshal(rc, &value)
	}
	callbacks["setProp"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsString() {
			return rc.Throw("setProp takes [name, value] arguments")
		}
		raw, err := argJSON(rc, args[1])
		if err != nil {
			return rc.Throw("reading value: %v", err)
		}
		value := structs.Value{}
		if err := goccy.Unmarshal([]byte(raw), &value); err != nil {
			return rc.Throw("decoding value: %v", err)
		}
		obj.Props[args[0].String()] = value
		return nil
	}
	callbacks["delProp"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("delProp takes [name] arguments")
		}
		delete(obj.Props, args[0].String())
		return nil
	}
}

func (g *Game) addSchedulerCallbacks(ctx context.Context, obj *structs.Object, callbacks js.Callbacks) {
	callbacks["setHeartbeat"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsBoolean() {
			return rc.Throw("setHeartbeat takes [bool] arguments")
		}
		g.Scheduler.SetHeartbeat(obj, args[0].Boolean())
		return nil
	}
	callbacks["callOut"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) < 2 || !args[0].IsString() || !args[1].IsNumber() {
			return rc.Throw("callOut takes [callback, delayMs, message?] arguments")
		}
		message := ""
		if len(args) > 2 {
			var err error
			if message, err = argJSON(rc, args[2]); err != nil {
				return rc.Throw("reading message: %v", err)
			}
		}
		delay := time.Duration(args[1].Number() * float64(time.Millisecond))
		handle, err := g.Scheduler.CallOut(ctx, obj.Id, args[0].String(), message, delay)
		if err != nil {
			return rc.Throw("scheduling call-out: %v", err)
		}
		return jsValue(rc, fmt.Sprint(handle))
	}
	callbacks["removeCallOut"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsNumber() {
			return rc.Throw("removeCallOut takes [handle] arguments")
		}
		return jsMarshal(rc, g.Scheduler.RemoveCallOut(uint64(args[0].Number())))
	}
}

func (g *Game) addFileCallbacks(ctx context.Context, callbacks js.Callbacks) {
	callbacks["readFile"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("readFile takes [path] arguments")
		}
		content, err := g.Bridge.ReadFile(args[0].String())
		if err != nil {
			return rc.Throw("reading %q: %v", args[0].String(), err)
		}
		return rc.String(string(content))
	}
	callbacks["writeFile"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
			return rc.Throw("writeFile takes [path, content] arguments")
		}
		if err := g.Bridge.WriteFile(ctx, args[0].String(), []byte(args[1].String())); err != nil {
			return rc.Throw("writing %q: %v", args[0].String(), err)
		}
		return nil
	}
	callbacks["fileExists"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("fileExists takes [path] arguments")
		}
		exists, err := g.Bridge.FileExists(args[0].String())
		if err != nil {
			return rc.Throw("checking %q: %v", args[0].String(), err)
		}
		return jsMarshal(rc, exists)
	}
	callbacks["readDir"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("readDir takes [path] arguments")
		}
		entries, err := g.Bridge.ReadDir(args[0].String())
		if err != nil {
			return rc.Throw("listing %q: %v", args[0].String(), err)
		}
		return jsMarshal(rc, entries)
	}
	callbacks["fileStat"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("fileStat takes [path] arguments")
		}
		stat, err := g.Bridge.FileStat(args[0].String())
		if err != nil {
			return rc.Throw("statting %q: %v", args[0].String(), err)
		}
		return jsMarshal(rc, stat)
	}
	callbacks["moveFile"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
			return rc.Throw("moveFile takes [from, to] arguments")
		}
		if err := g.Bridge.MoveFile(ctx, args[0].String(), args[1].String()); err != nil {
			return rc.Throw("moving %q: %v", args[0].String(), err)
		}
		return nil
	}
	callbacks["deleteFile"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("deleteFile takes [path] arguments")
		}
		if err := g.Bridge.DeleteFile(ctx, args[0].String()); err != nil {
			return rc.Throw("deleting %q: %v", args[0].String(), err)
		}
		return nil
	}
}

func (g *Game) addUtilityCallbacks(callbacks js.Callbacks) {
	callbacks["capitalize"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("capitalize takes [string] arguments")
		}
		return rc.String(bridge.Capitalize(args[0].String()))
	}
	callbacks["trim"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("trim takes [string] arguments")
		}
		return rc.String(bridge.Trim(args[0].String()))
	}
	callbacks["lower"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("lower takes [string] arguments")
		}
		return rc.String(bridge.Lower(args[0].String()))
	}
	callbacks["upper"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("upper takes [string] arguments")
		}
		return rc.String(bridge.Upper(args[0].String()))
	}
	callbacks["joinWords"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsArray() || !args[1].IsString() {
			return rc.Throw("joinWords takes [words, separator] arguments")
		}
		raw, err := argJSON(rc, args[0])
		if err != nil {
			return rc.Throw("reading words: %v", err)
		}
		words := []string{}
		if err := goccy.Unmarshal([]byte(raw), &words); err != nil {
			return rc.Throw("decoding words: %v", err)
		}
		return rc.String(bridge.Join(words, args[1].String()))
	}
	callbacks["splitCommand"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("splitCommand takes [string] arguments")
		}
		parts, err := bridge.SplitCommand(args[0].String())
		if err != nil {
			return rc.Throw("splitting: %v", err)
		}
		return jsMarshal(rc, parts)
	}
	callbacks["pluralize"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("pluralize takes [string] arguments")
		}
		return rc.String(g.Bridge.Plural(args[0].String()))
	}
	callbacks["singularize"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("singularize takes [string] arguments")
		}
		return rc.String(g.Bridge.Singular(args[0].String()))
	}
	callbacks["now"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		return jsValue(rc, fmt.Sprint(bridge.Now()))
	}
	callbacks["random"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsNumber() {
			return rc.Throw("random takes [n] arguments")
		}
		return jsValue(rc, fmt.Sprint(bridge.Random(int(args[0].Number()))))
	}
}

func (g *Game) addPlayerCallbacks(ctx context.Context, callbacks js.Callbacks) {
	callbacks["currentPlayer"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		current := bridge.FromContext(ctx)
		if current.Player == "" {
			return nil
		}
		return rc.String(current.Player)
	}
	callbacks["findPlayer"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("findPlayer takes [name] arguments")
		}
		connection, found := g.Bridge.Switchboard().FindPlayer(args[0].String())
		if !found {
			return nil
		}
		return rc.String(connection)
	}
	callbacks["sendTo"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
			return rc.Throw("sendTo takes [player, message] arguments")
		}
		return jsMarshal(rc, g.Bridge.Switchboard().SendTo(args[0].String(), args[1].String()))
	}
	callbacks["broadcast"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("broadcast takes [message] arguments")
		}
		g.Bridge.Switchboard().Broadcast(args[0].String())
		return nil
	}
}
