package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite_CreatesFileAndParentDirs(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "deep", "bindings.json")

	if err := AtomicWrite(target, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected content: %s", data)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestAtomicWrite_LeavesOnlyTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "codes.json")

	for i := 0; i < 3; i++ {
		if err := AtomicWrite(target, []byte("data"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "codes.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only codes.json, got %v", names)
	}
}

func TestReadFileOrEmpty_MissingReturnsNilNil(t *testing.T) {
	data, err := ReadFileOrEmpty(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data, got: %s", data)
	}
}

func TestMarshalJSONIndent_TrailingNewline(t *testing.T) {
	data, err := MarshalJSONIndent(map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatal("expected trailing newline")
	}
}
