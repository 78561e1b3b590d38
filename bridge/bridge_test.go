package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/duskmud/driver/perms"
	"github.com/duskmud/driver/registry"
	"github.com/duskmud/driver/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func testBridge(t *testing.T) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	guard := perms.NewGuard(perms.Options{ProtectedPrefixes: []string{"/std/"}}, storage.NewAuditLog("", 16))
	guard.SetLevel("ada", perms.Administrator)
	guard.SetLevel("bob", perms.Builder)
	guard.AddDomain("bob", "/areas/town/")
	reg := registry.New(registry.Options{MudlibDir: dir})
	b := New(Options{MudlibDir: dir}, reg, guard)
	return b, dir
}

func asPlayer(name string) context.Context {
	return WithContext(context.Background(), Context{Player: name})
}

func TestPathTraversalRejected(t *testing.T) {
	b, dir := testBridge(t)
	ctx := asPlayer("ada")

	// Plant a file outside the root to prove it stays unreachable.
	outside := filepath.Join(filepath.Dir(dir), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(outside)

	for _, path := range []string{
		"../secret.txt",
		"../../etc/passwd",
		"/areas/../../secret.txt",
		"..\\secret.txt",
		"C:/windows/system32",
	} {
		if _, err := b.ReadFile(path); !errors.Is(err, ErrPathEscape) {
			t.Errorf("ReadFile(%q) = %v, want ErrPathEscape", path, err)
		}
		if err := b.WriteFile(ctx, path, []byte("x")); !errors.Is(err, ErrPathEscape) {
			t.Errorf("WriteFile(%q) = %v, want ErrPathEscape", path, err)
		}
		if err := b.DeleteFile(ctx, path); !errors.Is(err, ErrPathEscape) {
			t.Errorf("DeleteFile(%q) = %v, want ErrPathEscape", path, err)
		}
	}
	// The file outside the root is untouched.
	if _, err := os.Stat(outside); err != nil {
		t.Fatal(err)
	}
}

func TestFileRoundtrip(t *testing.T) {
	b, _ := testBridge(t)
	ctx := asPlayer("ada")

	if err := b.WriteFile(ctx, "/areas/town/center.js", []byte("A;")); err != nil {
		t.Fatal(err)
	}
	content, err := b.ReadFile("/areas/town/center.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "A;" {
		t.Errorf("got %q", content)
	}

	exists, err := b.FileExists("/areas/town/center.js")
	if err != nil || !exists {
		t.Errorf("got %v, %v", exists, err)
	}
	exists, err = b.FileExists("/areas/town/missing.js")
	if err != nil || exists {
		t.Errorf("got %v, %v", exists, err)
	}

	stat, err := b.FileStat("/areas/town/center.js")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Name != "center.js" || stat.Size != 2 || stat.Dir {
		t.Errorf("got %+v", stat)
	}

	entries, err := b.ReadDir("/areas/town")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "center.js" {
		t.Errorf("got %+v", entries)
	}

	if err := b.MoveFile(ctx, "/areas/town/center.js", "/areas/town/square.js"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := b.FileExists("/areas/town/center.js"); exists {
		t.Error("source survived move")
	}
	if err := b.DeleteFile(ctx, "/areas/town/square.js"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := b.FileExists("/areas/town/square.js"); exists {
		t.Error("file survived delete")
	}
}

func TestWriteChecksPermissions(t *testing.T) {
	b, dir := testBridge(t)
	ctx := asPlayer("bob")

	if err := b.WriteFile(ctx, "/areas/town/center.js", []byte("A;")); err != nil {
		t.Fatal(err)
	}
	// Denied writes fail loudly and never touch disk.
	if err := b.WriteFile(ctx, "/std/room.js", []byte("B;")); err == nil {
		t.Fatal("protected write allowed for builder")
	}
	if _, err := os.Stat(filepath.Join(dir, "std", "room.js")); !os.IsNotExist(err) {
		t.Error("denied write reached disk")
	}
	if err := b.MoveFile(ctx, "/areas/town/center.js", "/std/room.js"); err == nil {
		t.Error("move into protected tree allowed")
	}
	if err := b.DeleteFile(ctx, "/areas/town/center.js"); err != nil {
		t.Fatal(err)
	}
}

func TestContextTravelsWithCtx(t *testing.T) {
	if got := FromContext(context.Background()); got != (Context{}) {
		t.Errorf("got %+v, want zero outside a run", got)
	}
	outer := WithContext(context.Background(), Context{ObjectID: "outer", Player: "ada"})
	inner := WithContext(outer, Context{ObjectID: "inner", Player: FromContext(outer).Player})
	if got := FromContext(inner); got.ObjectID != "inner" || got.Player != "ada" {
		t.Errorf("got %+v", got)
	}
	// The outer context is untouched by the nested run.
	if got := FromContext(outer); got.ObjectID != "outer" || got.Player != "ada" {
		t.Errorf("got %+v", got)
	}
}

func TestConcurrentActorsStayIndependent(t *testing.T) {
	b, _ := testBridge(t)
	adaCtx := asPlayer("ada")
	bobCtx := asPlayer("bob")

	var wg sync.WaitGroup
	failures := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := b.WriteFile(adaCtx, "/std/room.js", []byte("A;")); err != nil {
				failures <- errors.Wrap(err, "administrator write denied")
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := b.WriteFile(bobCtx, "/std/other.js", []byte("B;")); err == nil {
				failures <- errors.New("builder write to protected tree allowed")
				return
			}
		}
	}()
	wg.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}
}

func TestUtilities(t *testing.T) {
	b, _ := testBridge(t)
	if got := Capitalize("hello"); got != "Hello" {
		t.Errorf("got %q", got)
	}
	if got := Capitalize(""); got != "" {
		t.Errorf("got %q", got)
	}
	parts, err := SplitCommand(`give "rusty sword" to bob`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"give", "rusty sword", "to", "bob"}, parts); diff != "" {
		t.Error(diff)
	}
	if got := Trim("  look  "); got != "look" {
		t.Errorf("got %q", got)
	}
	if got := Lower("SHOUT"); got != "shout" {
		t.Errorf("got %q", got)
	}
	if got := Upper("whisper"); got != "WHISPER" {
		t.Errorf("got %q", got)
	}
	if got := Join(parts, " "); got != "give rusty sword to bob" {
		t.Errorf("got %q", got)
	}
	if got := b.Plural("sword"); got != "swords" {
		t.Errorf("got %q", got)
	}
	if got := b.Singular("wolves"); got != "wolf" {
		t.Errorf("got %q", got)
	}
	if got := Random(1); got != 0 {
		t.Errorf("got %d", got)
	}
	if got := Random(0); got != 0 {
		t.Errorf("got %d", got)
	}
}

func TestSwitchboardDefaults(t *testing.T) {
	s := NewSwitchboard()
	if _, found := s.FindPlayer("bob"); found {
		t.Error("uninstalled FindPlayer found someone")
	}
	if s.SendTo("bob", "hi") {
		t.Error("uninstalled SendTo reported delivery")
	}
	if err := s.BindPlayer("bob", "conn1"); err != nil {
		t.Error(err)
	}
	if out, err := s.ExecuteCommand("bob", 0, "look"); err != nil || out != "" {
		t.Errorf("got %q, %v", out, err)
	}
	s.Broadcast("hello")
	s.RegisterActive("bob")
	s.UnregisterActive("bob")
}

func TestSwitchboardInstalled(t *testing.T) {
	s := NewSwitchboard()
	var sent []string
	s.Install(Slots{
		FindPlayer: func(player string) (string, bool) { return "conn-" + player, true },
		SendTo: func(player, message string) bool {
			sent = append(sent, player+":"+message)
			return true
		},
	})
	if conn, found := s.FindPlayer("bob"); !found || conn != "conn-bob" {
		t.Errorf("got %q, %v", conn, found)
	}
	if !s.SendTo("bob", "hi") {
		t.Error("installed SendTo reported failure")
	}
	if diff := cmp.Diff([]string{"bob:hi"}, sent); diff != "" {
		t.Error(diff)
	}
}

func TestConsoleBufferAndFanout(t *testing.T) {
	s := NewSwitchboard()
	w := s.ConsoleWriter("obj1")
	if _, err := w.Write([]byte("early\n")); err != nil {
		t.Fatal(err)
	}
	// Output before any console attaches is buffered.
	buffered := s.ConsoleBuffer("obj1")
	if len(buffered) != 1 || string(buffered[0]) != "early\n" {
		t.Errorf("got %q", buffered)
	}

	sink := &strings.Builder{}
	s.AttachConsole("obj1", sink)
	if _, err := w.Write([]byte("later\n")); err != nil {
		t.Fatal(err)
	}
	if sink.String() != "later\n" {
		t.Errorf("got %q", sink.String())
	}
	s.DetachConsole("obj1", sink)
	if _, err := w.Write([]byte("after\n")); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sink.String(), "after") {
		t.Error("detached console still receiving")
	}
}
