package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestDirExcludesVersionControl(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.hpp":              "#pragma once",
		"src/util.hpp":          "utilities",
		".git/config":           "should not ship",
		".github/workflows/a":   "should not ship",
		"nested/.git/objects/x": "should not ship",
	})

	blob, err := Dir(root)
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("archive is not a zip: %v", err)
	}

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)

	want := []string{"main.hpp", filepath.ToSlash(filepath.Join("src", "util.hpp"))}
	sort.Strings(want)
	if len(names) != len(want) {
		t.Fatalf("archive entries %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("archive entries %v, want %v", names, want)
		}
	}

	f, err := reader.Open("main.hpp")
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(content) != "#pragma once" {
		t.Errorf("entry content %q, want %q", content, "#pragma once")
	}
}

func TestPathOnPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.hpp")
	if err := os.WriteFile(path, []byte("raw bytes"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	blob, err := Path(path)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if string(blob) != "raw bytes" {
		t.Errorf("plain file content %q, want %q", blob, "raw bytes")
	}
}

func TestPathOnMissingPath(t *testing.T) {
	if _, err := Path(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}
