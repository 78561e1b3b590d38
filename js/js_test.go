package js

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/duskmud/driver/structs"
	"rogchap.com/v8go"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(Options{MaxIsolates: 2, DefaultTimeout: time.Second})
	t.Cleanup(p.Dispose)
	return p
}

func TestBasics(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)
	result := ""
	target := &Target{
		Source: `
addCallback("test", (arg) => {
  setResult(state.b + 1 + arg.c);
  state.b += 1;
});
addCallback("test2", (arg) => {
  setResult(state.b + 10 + arg.c);
});
`,
		Origin: "TestBasics",
		State:  "{\"b\": 4}",
		Callbacks: Callbacks{
			"setResult": func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
				result = info.Args()[0].String()
				return nil
			},
		},
	}
	res, err := p.Run(ctx, target, &structs.Call{Name: "test", Message: "{\"c\": 15}"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if result != "20" {
		t.Errorf("got %q, want 20", result)
	}
	wantState := "{\"b\":5}"
	if res.State != wantState {
		t.Errorf("got %q, want %q", res.State, wantState)
	}
	for _, name := range []string{"test", "test2"} {
		if !slices.Contains(res.Callbacks, name) {
			t.Errorf("callback %q not registered, got %v", name, res.Callbacks)
		}
	}
}

func TestTimeoutAndRecovery(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)

	started := time.Now()
	_, err := p.Run(ctx, &Target{
		Source: "while (true) {}",
		Origin: "TestTimeout",
	}, nil, 100*time.Millisecond)
	elapsed := time.Since(started)
	if err == nil {
		t.Fatal("expected timeout")
	}
	fault, ok := AsFault(err)
	if !ok || fault.Kind != FaultTimeout {
		t.Fatalf("got %v, want timeout fault", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	// The pool must recover: a poisoned sandbox is replaced, not
	// leaked, and later runs succeed.
	res, err := p.Run(ctx, &Target{
		Source: "state.x = 1 + 1;",
		Origin: "TestRecovery",
	}, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != "{\"x\":2}" {
		t.Errorf("got %q, want {\"x\":2}", res.State)
	}
}

func TestFaultKinds(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)
	for _, tc := range []struct {
		source string
		want   FaultKind
	}{
		{"this is not javascript", FaultSyntax},
		{"undefinedVariable.property;", FaultReference},
		{"null.property;", FaultType},
		{"throw new Error('boom');", FaultRuntime},
	} {
		_, err := p.Run(ctx, &Target{Source: tc.source, Origin: "TestFaultKinds"}, nil, time.Second)
		if err == nil {
			t.Errorf("%q: expected error", tc.source)
			continue
		}
		fault, ok := AsFault(err)
		if !ok {
			t.Errorf("%q: got %v, want fault", tc.source, err)
			continue
		}
		if fault.Kind != tc.want {
			t.Errorf("%q: got %v, want %v", tc.source, fault.Kind, tc.want)
		}
	}
}

func TestNoLeakageBetweenRuns(t *testing.T) {
	ctx := context.Background()
	p := NewPool(Options{MaxIsolates: 1, DefaultTimeout: time.Second})
	defer p.Dispose()

	if _, err := p.Run(ctx, &Target{
		Source: "var leaked = 42; state.ok = true;",
		Origin: "TestLeakage1",
	}, nil, time.Second); err != nil {
		t.Fatal(err)
	}
	// Same single sandbox, fresh context: leaked must be gone.
	_, err := p.Run(ctx, &Target{
		Source: "state.x = leaked;",
		Origin: "TestLeakage2",
	}, nil, time.Second)
	if err == nil {
		t.Fatal("expected reference error")
	}
	fault, ok := AsFault(err)
	if !ok || fault.Kind != FaultReference {
		t.Fatalf("got %v, want reference fault", err)
	}
}

func TestConsoleLog(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)
	buf := &strings.Builder{}
	if _, err := p.Run(ctx, &Target{
		Source:  "log('hello', {a: 1});",
		Origin:  "TestConsoleLog",
		Console: buf,
	}, nil, time.Second); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if !strings.Contains(got, "hello") || !strings.Contains(got, "{\"a\":1}") {
		t.Errorf("got %q", got)
	}
}

func TestCallbackResultValue(t *testing.T) {
	ctx := context.Background()
	p := testPool(t)
	res, err := p.Run(ctx, &Target{
		Source: "addCallback('sum', (arg) => arg.a + arg.b);",
		Origin: "TestCallbackResultValue",
	}, &structs.Call{Name: "sum", Message: "{\"a\": 2, \"b\": 3}"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "5" {
		t.Errorf("got %q, want 5", res.Value)
	}
}

func TestNestedRunAtCapacityStillReturns(t *testing.T) {
	p := NewPool(Options{MaxIsolates: 1, DefaultTimeout: time.Second})
	defer p.Dispose()

	inner := &Target{Source: "1", Origin: "inner"}
	outer := &Target{
		Source: `addCallback("go", () => { spawn(); });`,
		Origin: "outer",
		Callbacks: Callbacks{
			"spawn": func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
				if _, err := p.Run(context.Background(), inner, nil, 100*time.Millisecond); err != nil {
					return rc.Throw("spawning: %v", err)
				}
				return nil
			},
		},
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), outer, &structs.Call{Name: "go"}, 200*time.Millisecond)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("nested run on the run's own sandbox reported no error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("outer run never returned")
	}

	// The sandbox must be back in rotation.
	if _, err := p.Run(context.Background(), &Target{Source: "1", Origin: "after"}, nil, time.Second); err != nil {
		t.Fatal(err)
	}
}
