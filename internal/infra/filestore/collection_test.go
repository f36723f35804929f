package filestore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCollectionPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "codes.json")

	c := NewCollection[string, int](CollectionConfig{FilePath: path})
	if err := c.Put("alpha", 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.MutateWithRollback(func(items map[string]int) error {
		items["beta"] = 2
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reloaded := NewCollection[string, int](CollectionConfig{FilePath: path})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", reloaded.Len())
	}
	if v, ok := reloaded.Get("beta"); !ok || v != 2 {
		t.Fatalf("expected beta=2, got %v %v", v, ok)
	}
}

func TestMutateWithRollbackRestoresOnError(t *testing.T) {
	c := NewCollection[string, int](CollectionConfig{})
	_ = c.Put("alpha", 1)

	sentinel := errors.New("reject")
	err := c.MutateWithRollback(func(items map[string]int) error {
		items["alpha"] = 99
		delete(items, "alpha")
		items["gamma"] = 3
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if v, ok := c.Get("alpha"); !ok || v != 1 {
		t.Fatalf("expected alpha restored, got %v %v", v, ok)
	}
	if _, ok := c.Get("gamma"); ok {
		t.Fatalf("expected gamma to be rolled back")
	}
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	c := NewCollection[string, int](CollectionConfig{FilePath: filepath.Join(t.TempDir(), "missing.json")})
	if err := c.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty collection")
	}
}

func TestCollectionPicksUpWritesFromAnotherInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.json")

	server := NewCollection[string, int](CollectionConfig{FilePath: path})
	if err := server.Put("alpha", 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	cli := NewCollection[string, int](CollectionConfig{FilePath: path})
	if err := cli.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cli.Put("issued-by-cli", 22); err != nil {
		t.Fatalf("put: %v", err)
	}

	if v, ok := server.Get("issued-by-cli"); !ok || v != 22 {
		t.Fatalf("expected server to see the external write, got %v %v", v, ok)
	}
	if err := server.Put("beta", 2); err != nil {
		t.Fatalf("put: %v", err)
	}

	final := NewCollection[string, int](CollectionConfig{FilePath: path})
	if err := final.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if final.Len() != 3 {
		t.Fatalf("expected 3 items after interleaved writes, got %d", final.Len())
	}
}
