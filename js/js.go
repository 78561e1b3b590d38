// Package js runs object scripts inside pooled v8 isolates. A sandbox
// exposes nothing of the host process: scripts see exactly the callbacks
// the caller registers, a "state" global carried between runs as JSON,
// and the addCallback/removeCallback/log built-ins.
package js

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	driver "github.com/duskmud/driver"
	"github.com/duskmud/driver/structs"
	"rogchap.com/v8go"
)

const (
	stateName = "state"
)

// FaultKind categorizes script failures so callers can branch on kind
// instead of parsing messages.
type FaultKind int

const (
	FaultRuntime FaultKind = iota
	FaultSyntax
	FaultReference
	FaultType
	FaultTimeout
)

func (k FaultKind) String() string {
	switch k {
	case FaultSyntax:
		return "SyntaxError"
	case FaultReference:
		return "ReferenceError"
	case FaultType:
		return "TypeError"
	case FaultTimeout:
		return "TimeoutError"
	}
	return "RuntimeError"
}

// Fault is a script-level failure: the script misbehaved, the host did not.
// It is returned as a typed result, never propagated as a panic.
type Fault struct {
	Kind    FaultKind
	Message string
	Elapsed time.Duration
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%v: %s", f.Kind, f.Message)
}

// AsFault returns the *Fault inside err, if any.
func AsFault(err error) (*Fault, bool) {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			return f, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func classify(err error, elapsed time.Duration) error {
	if err == nil {
		return nil
	}
	if err == ErrTimeout {
		return &Fault{Kind: FaultTimeout, Message: "execution exceeded its time budget", Elapsed: elapsed}
	}
	if jserr, ok := err.(*v8go.JSError); ok {
		kind := FaultRuntime
		switch {
		case strings.HasPrefix(jserr.Message, "SyntaxError"):
			kind = FaultSyntax
		case strings.HasPrefix(jserr.Message, "ReferenceError"):
			kind = FaultReference
		case strings.HasPrefix(jserr.Message, "TypeError"):
			kind = FaultType
		}
		return &Fault{Kind: kind, Message: jserr.Message, Elapsed: elapsed}
	}
	return driver.WithStack(err)
}

type Callbacks map[string]func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value

// Target is one script execution unit: source, its origin for error
// reporting, the script state carried from the last run, and the host
// callbacks visible inside the sandbox.
type Target struct {
	Source    string
	Origin    string
	State     string
	Callbacks Callbacks
	Console   io.Writer
}

// Result is a successful execution: the invoked callback's return value
// (JSON), the updated state, the callback names the script registered, and
// the wall-clock execution time for diagnostics.
type Result struct {
	Value     string
	State     string
	Callbacks []string
	Elapsed   time.Duration
}

// RunContext is handed to host callbacks during a run.
type RunContext struct {
	vctx      *v8go.Context
	t         *Target
	callbacks map[string]*v8go.Function
}

func (rc *RunContext) Context() *v8go.Context {
	return rc.vctx
}

func (rc *RunContext) String(s string) *v8go.Value {
	if res, err := v8go.NewValue(rc.vctx.Isolate(), s); err == nil {
		return res
	}
	return nil
}

func (rc *RunContext) Throw(format string, args ...any) *v8go.Value {
	return rc.vctx.Isolate().ThrowException(rc.String(fmt.Sprintf(format, args...)))
}

func addJSCallback(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 2 && args[0].IsString() && args[1].IsFunction() {
		fun, err := args[1].AsFunction()
		if err != nil {
			return rc.Throw("trying to cast %v to *v8go.Function: %v", args[1], err)
		}
		rc.callbacks[args[0].String()] = fun
		return nil
	}
	return rc.Throw("addCallback takes [string, function] arguments")
}

func removeJSCallback(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 1 && args[0].IsString() {
		delete(rc.callbacks, args[0].String())
		return nil
	}
	return rc.Throw("removeCallback takes [string] arguments")
}

func logFunc(w io.Writer) func(*RunContext, *v8go.FunctionCallbackInfo) *v8go.Value {
	return func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		anyArgs := []any{}
		for _, arg := range info.Args() {
			stringArg := arg.String()
			if stringArg == "[object Object]" {
				if jsonArg, err := v8go.JSONStringify(rc.Context(), arg); err == nil {
					stringArg = jsonArg
				}
			}
			anyArgs = append(anyArgs, stringArg)
		}
		log.New(w, "", 0).Println(anyArgs...)
		return nil
	}
}

func (rc *RunContext) addCallback(
	name string,
	f func(*RunContext, *v8go.FunctionCallbackInfo) *v8go.Value,
) error {
	return driver.WithStack(
		rc.vctx.Global().Set(
			name,
			v8go.NewFunctionTemplate(
				rc.vctx.Isolate(),
				func(info *v8go.FunctionCallbackInfo) *v8go.Value {
					return f(rc, info)
				},
			).GetFunction(rc.vctx),
		),
	)
}

func (rc *RunContext) prepare(budget *time.Duration) error {
	for name, fun := range rc.t.Callbacks {
		if err := rc.addCallback(name, fun); err != nil {
			return driver.WithStack(err)
		}
	}
	if err := rc.addCallback("addCallback", addJSCallback); err != nil {
		return driver.WithStack(err)
	}
	if err := rc.addCallback("removeCallback", removeJSCallback); err != nil {
		return driver.WithStack(err)
	}
	if rc.t.Console != nil {
		if err := rc.addCallback("log", logFunc(rc.t.Console)); err != nil {
			return driver.WithStack(err)
		}
	}

	stateJSON := rc.t.State
	if stateJSON == "" {
		stateJSON = "{}"
	}
	start := time.Now()
	stateValue, err := v8go.JSONParse(rc.vctx, stateJSON)
	*budget -= time.Since(start)
	if err != nil {
		return driver.WithStack(err)
	}
	return driver.WithStack(rc.vctx.Global().Set(stateName, stateValue))
}

var (
	ErrTimeout = fmt.Errorf("script execution timeout")
)

type runResult struct {
	value *v8go.Value
	err   error
}

func (rc *RunContext) withTimeout(sb *Sandbox, f func() (*v8go.Value, error), budget *time.Duration) (*v8go.Value, error) {
	results := make(chan runResult, 1)
	go func() {
		t := time.Now()
		val, err := f()
		*budget -= time.Since(t)
		results <- runResult{value: val, err: err}
	}()

	select {
	case res := <-results:
		return res.value, res.err
	case <-time.After(*budget):
		sb.iso.TerminateExecution()
		sb.poison()
		// The goroutine finishes once termination lands; don't leak it.
		<-results
		return nil, ErrTimeout
	}
}

// Run executes t in a pooled sandbox: the whole source first, then, if
// call names a callback the script registered, that callback with the
// call's JSON message as argument. The timeout covers the whole run; <= 0
// means the pool default. Script failures come back as *Fault.
func (p *Pool) Run(ctx context.Context, t *Target, call *structs.Call, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	started := time.Now()

	// The wait for a sandbox counts against the budget. A host callback
	// that re-enters Run while the pool is at capacity then fails with
	// a deadline instead of wedging the outer run, whose own timeout
	// can't interrupt Go code.
	actx, cancel := context.WithTimeout(ctx, timeout)
	sb, err := p.Acquire(actx)
	cancel()
	if err != nil {
		return nil, driver.WithStack(err)
	}
	defer p.Release(sb)

	vctx := v8go.NewContext(sb.iso)
	defer vctx.Close()

	rc := &RunContext{
		vctx:      vctx,
		t:         t,
		callbacks: map[string]*v8go.Function{},
	}

	budget := timeout - time.Since(started)
	if err := rc.prepare(&budget); err != nil {
		return nil, classify(err, time.Since(started))
	}

	if _, err := rc.withTimeout(sb, func() (*v8go.Value, error) {
		return vctx.RunScript(t.Source, t.Origin)
	}, &budget); err != nil {
		return nil, classify(err, time.Since(started))
	}

	var val *v8go.Value
	if call != nil {
		if jsCB, found := rc.callbacks[call.Name]; found {
			var arg *v8go.Value
			if call.Message != "" {
				start := time.Now()
				if arg, err = v8go.JSONParse(vctx, call.Message); err != nil {
					return nil, driver.WithStack(err)
				}
				budget -= time.Since(start)
			}
			if val, err = rc.withTimeout(sb, func() (*v8go.Value, error) {
				if arg != nil {
					return jsCB.Call(vctx.Global(), arg)
				}
				return jsCB.Call(vctx.Global())
			}, &budget); err != nil {
				return nil, classify(err, time.Since(started))
			}
		}
	}

	res, err := rc.collect(val)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	res.Elapsed = time.Since(started)
	return res, nil
}

func (rc *RunContext) collect(value *v8go.Value) (*Result, error) {
	result := &Result{}
	if value != nil && !value.IsNull() && !value.IsUndefined() {
		var err error
		if result.Value, err = v8go.JSONStringify(rc.vctx, value); err != nil {
			return nil, driver.WithStack(err)
		}
	}
	stateValue, err := rc.vctx.Global().Get(stateName)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	if result.State, err = v8go.JSONStringify(rc.vctx, stateValue); err != nil {
		return nil, driver.WithStack(err)
	}
	for name := range rc.callbacks {
		result.Callbacks = append(result.Callbacks, name)
	}
	return result, nil
}
