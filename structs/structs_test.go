package structs

import (
	"testing"
)

func TestNextObjectID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		id, err := NextObjectID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestContentOps(t *testing.T) {
	obj, err := MakeObject()
	if err != nil {
		t.Fatal(err)
	}
	obj.AddContent("a")
	obj.AddContent("b")
	obj.AddContent("a")
	if len(obj.Content) != 2 {
		t.Errorf("got %v, want [a b]", obj.Content)
	}
	if !obj.Contains("a") || !obj.Contains("b") || obj.Contains("c") {
		t.Errorf("unexpected membership in %v", obj.Content)
	}
	obj.RemoveContent("a")
	if obj.Contains("a") || len(obj.Content) != 1 {
		t.Errorf("got %v, want [b]", obj.Content)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			IsolateMemoryMB: 128,
			ScriptTimeoutMS: 200,
			HeartbeatMS:     2000,
			MaxIsolates:     8,
			DataDir:         "/tmp/data",
			MudlibDir:       "/tmp/mudlib",
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name    string
		corrupt func(*Config)
	}{
		{"memory below minimum", func(c *Config) { c.IsolateMemoryMB = 4 }},
		{"zero timeout", func(c *Config) { c.ScriptTimeoutMS = 0 }},
		{"negative heartbeat", func(c *Config) { c.HeartbeatMS = -1 }},
		{"zero isolates", func(c *Config) { c.MaxIsolates = 0 }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"missing mudlib dir", func(c *Config) { c.MudlibDir = "" }},
	} {
		cfg := valid()
		tc.corrupt(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
