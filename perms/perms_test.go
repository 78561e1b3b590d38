package perms

import (
	"testing"

	"github.com/duskmud/driver/storage"
	"github.com/google/go-cmp/cmp"
)

func testGuard() (*Guard, *storage.AuditLog) {
	audit := storage.NewAuditLog("", 16)
	guard := NewGuard(Options{
		ProtectedPrefixes: []string{"/std/", "/secure/"},
		SharedLibPrefix:   "/lib/",
	}, audit)
	return guard, audit
}

func TestCanWriteMatrix(t *testing.T) {
	guard, audit := testGuard()
	guard.SetLevel("pat", Player)
	guard.SetLevel("bob", Builder)
	guard.AddDomain("bob", "/areas/town/")
	guard.SetLevel("sam", SeniorBuilder)
	guard.AddDomain("sam", "/areas/forest/")
	guard.SetLevel("ada", Administrator)

	tests := []struct {
		actor string
		path  string
		want  bool
	}{
		{"pat", "/areas/town/center.js", false},
		{"pat", "/open/scratch.js", false},
		{"bob", "/areas/town/center.js", true},
		{"bob", "/areas/forest/glade.js", false},
		{"bob", "/std/room.js", false},
		{"bob", "/lib/strings.js", false},
		{"sam", "/areas/forest/glade.js", true},
		{"sam", "/lib/strings.js", true},
		{"sam", "/std/room.js", false},
		{"ada", "/std/room.js", true},
		{"ada", "/areas/town/center.js", true},
		{"nobody", "/areas/town/center.js", false},
	}
	for i, tt := range tests {
		got := guard.CanWrite(tt.actor, tt.path)
		if got.Allowed != tt.want {
			t.Errorf("CanWrite(%q, %q) = %v (%s), want %v", tt.actor, tt.path, got.Allowed, got.Reason, tt.want)
		}
		// Exactly one audit entry per decision, allow or deny.
		if audit.Len() != i+1 {
			t.Fatalf("after %d decisions audit has %d entries", i+1, audit.Len())
		}
	}

	latest := audit.Recent(1)[0]
	if latest.Actor != "nobody" || latest.Action != "write" || latest.Success {
		t.Errorf("unexpected audit entry %+v", latest)
	}
}

func TestCaseInsensitiveNames(t *testing.T) {
	guard, _ := testGuard()
	guard.SetLevel("Bob", Builder)
	guard.AddDomain("BOB", "/areas/town/")

	if got := guard.LevelOf("bOb"); got != Builder {
		t.Errorf("got %v, want builder", got)
	}
	if got := guard.CanWrite("bob", "/areas/town/center.js"); !got.Allowed {
		t.Errorf("denied: %s", got.Reason)
	}
	if diff := cmp.Diff([]string{"/areas/town/"}, guard.Domains("BoB")); diff != "" {
		t.Error(diff)
	}
}

func TestDomainAddRemove(t *testing.T) {
	guard, _ := testGuard()
	guard.AddDomain("bob", "/areas/town/")
	guard.AddDomain("bob", "/areas/town/")
	if len(guard.Domains("bob")) != 1 {
		t.Errorf("duplicate domain added: %v", guard.Domains("bob"))
	}
	if !guard.RemoveDomain("bob", "/areas/town/") {
		t.Error("remove reported false for assigned domain")
	}
	if guard.RemoveDomain("bob", "/areas/town/") {
		t.Error("remove reported true for unassigned domain")
	}
	if len(guard.Domains("bob")) != 0 {
		t.Errorf("got %v, want none", guard.Domains("bob"))
	}
}

func TestReadExecuteSeams(t *testing.T) {
	guard, audit := testGuard()
	if !guard.CanRead("pat", "/std/room.js").Allowed {
		t.Error("reads are permissive")
	}
	if !guard.CanExecute("pat", "/std/room.js").Allowed {
		t.Error("execution is permissive")
	}
	if audit.Len() != 0 {
		t.Errorf("permissive seams audited: %d entries", audit.Len())
	}
}

func TestSnapshotRestore(t *testing.T) {
	guard, _ := testGuard()
	guard.SetLevel("ada", Administrator)
	guard.SetLevel("bob", Builder)
	guard.AddDomain("bob", "/areas/town/")

	restored := NewGuard(Options{}, nil)
	restored.Restore(guard.Snapshot())
	if restored.LevelOf("ada") != Administrator || restored.LevelOf("bob") != Builder {
		t.Error("levels lost in restore")
	}
	if diff := cmp.Diff([]string{"/areas/town/"}, restored.Domains("bob")); diff != "" {
		t.Error(diff)
	}
}

func TestSaveLoad(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	guard, _ := testGuard()
	guard.SetLevel("ada", Administrator)
	if err := guard.Save(store); err != nil {
		t.Fatal(err)
	}

	loaded, _ := testGuard()
	if err := loaded.Load(store); err != nil {
		t.Fatal(err)
	}
	if loaded.LevelOf("ada") != Administrator {
		t.Error("level lost in save/load")
	}

	// A data dir without a permissions file loads as an empty guard.
	fresh, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	empty, _ := testGuard()
	if err := empty.Load(fresh); err != nil {
		t.Fatal(err)
	}
}
