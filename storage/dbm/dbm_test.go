package dbm

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestHashMissingKey(t *testing.T) {
	h, err := OpenHash(filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if _, err := h.Get("missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
	if err := h.Set("a", []byte("b"), false); err != nil {
		t.Fatal(err)
	}
	if err := h.Set("a", []byte("c"), false); err == nil {
		t.Errorf("got nil, wanted an overwrite error")
	}
	if got, err := h.Get("a"); err != nil || string(got) != "b" {
		t.Errorf("got %q, %v, want b, nil", got, err)
	}
	if err := h.Del("a"); err != nil {
		t.Fatal(err)
	}
	if err := h.Del("a"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

func TestTreeFirst(t *testing.T) {
	tree, err := OpenTree(filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()
	if _, _, err := tree.First(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
	for _, vInt := range rand.Perm(100) {
		v := uint32(vInt)
		key := make([]byte, binary.Size(v))
		binary.BigEndian.PutUint32(key, v)
		if err := tree.Set(string(key), key, false); err != nil {
			t.Fatal(err)
		}
	}
	for want := 0; want < 100; want++ {
		v := uint32(want)
		wantKey := make([]byte, binary.Size(v))
		binary.BigEndian.PutUint32(wantKey, v)
		gotKey, _, err := tree.First()
		if err != nil {
			t.Fatal(err)
		}
		if gotKey != string(wantKey) {
			t.Errorf("got %+v, want %+v", []byte(gotKey), wantKey)
		}
		if err := tree.Del(gotKey); err != nil {
			t.Fatal(err)
		}
	}
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTypeTreeEach(t *testing.T) {
	tree, err := OpenTypeTree[record](filepath.Join(t.TempDir(), "test"))
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()
	for i, name := range []string{"a", "b", "c"} {
		if err := tree.SetT(name, &record{Name: name, Count: i}, false); err != nil {
			t.Fatal(err)
		}
	}
	key, first, err := tree.FirstT()
	if err != nil {
		t.Fatal(err)
	}
	if key != "a" || first.Name != "a" {
		t.Errorf("got %q, %+v, want a", key, first)
	}
	got := []record{}
	if err := tree.EachT(func(key string, value *record) (bool, error) {
		got = append(got, *value)
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []record{{"a", 0}, {"b", 1}, {"c", 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
