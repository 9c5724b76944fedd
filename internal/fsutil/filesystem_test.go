package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func exercise(t *testing.T, fsys FileSystem, dir string) {
	t.Helper()
	name := filepath.Join(dir, "cal_table.json")

	if fsys.Exists(name) {
		t.Fatal("file should not exist yet")
	}
	if _, err := fsys.ReadFile(name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile missing = %v, want ErrNotExist", err)
	}
	if _, err := fsys.Size(name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Size missing = %v, want ErrNotExist", err)
	}

	if err := fsys.WriteFile(name, []byte(`{"0":{"x":1,"y":2}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.WriteFile(name, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	got, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != `{}` {
		t.Errorf("ReadFile = %q, want {}", got)
	}
	if n, err := fsys.Size(name); err != nil || n != 2 {
		t.Errorf("Size = %d, %v; want 2", n, err)
	}
	if !fsys.Exists(name) {
		t.Error("Exists = false after write")
	}
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	exercise(t, OSFileSystem{}, dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
	if _, err := (OSFileSystem{}).Size(dir); err == nil {
		t.Error("Size of a directory should fail")
	}
}

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()
	exercise(t, m, "/cal")

	data, _ := m.ReadFile("/cal/cal_table.json")
	data[0] = 'X'
	again, _ := m.ReadFile("/cal/./cal_table.json")
	if string(again) != `{}` {
		t.Error("ReadFile must return a copy")
	}
	if got := m.Files(); len(got) != 1 || got[0] != "/cal/cal_table.json" {
		t.Errorf("Files = %v", got)
	}
}
