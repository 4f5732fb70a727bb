package blobstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocal_WriteAndExists(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	hash := "0cc175b9c0f1b6a831c399e269772661"
	if _, ok := s.Exists(hash); ok {
		t.Fatalf("should not exist yet")
	}

	rel := PathFor(hash, "jpg")
	if rel != filepath.Join("0c", hash+".jpg") {
		t.Fatalf("unexpected rel path %s", rel)
	}
	full, err := s.Write(rel, []byte("a"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(full)
	if err != nil || string(b) != "a" {
		t.Fatalf("read back: %v %q", err, b)
	}

	got, ok := s.Exists(hash)
	if !ok || got != full {
		t.Fatalf("Exists=%v %s, want %s", ok, got, full)
	}
}

func TestLocal_WriteStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, _ := NewLocal(root)
	full, err := s.Write("../../escape.txt", []byte("x"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(full) != root {
		t.Fatalf("path escaped root: %s", full)
	}
}

func TestLocal_ExistsRejectsPatterns(t *testing.T) {
	s, _ := NewLocal(t.TempDir())
	if _, ok := s.Exists("*"); ok {
		t.Fatalf("glob pattern must not match")
	}
}
