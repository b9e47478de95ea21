package store

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/chazu/bfjit/pkg/image"
	"github.com/chazu/bfjit/pkg/lexer"
	"github.com/chazu/bfjit/pkg/optimizer"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "images.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func imageFor(src string) *image.Image {
	return image.New(image.HashSource([]byte(src)), optimizer.Optimize(lexer.TokenizeAll([]byte(src))), true)
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	img := imageFor("++++++++[>++++++++<-]>.")

	if err := s.Put(img); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(img.SourceHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !slices.Equal(got.Program, img.Program) {
		t.Errorf("Program = %v, want %v", got.Program, img.Program)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Get(image.HashSource([]byte("nope"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTemp(t)
	img := imageFor("+.")
	if err := s.Put(img); err != nil {
		t.Fatal(err)
	}
	img.Optimized = false
	if err := s.Put(img); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	got, _ := s.Get(img.SourceHash)
	if got == nil || got.Optimized {
		t.Errorf("replacement not stored: %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t)
	img := imageFor("+.")
	if err := s.Put(img); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(img.SourceHash); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(img.SourceHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v after Delete", err)
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	s := openTemp(t)
	h := image.HashSource([]byte("+"))
	if _, err := s.db.Exec("INSERT INTO images (hash, version, data) VALUES (?, 1, ?)", h.String(), []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(h); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("corrupt entry kept, Count = %d", n)
	}
}

func TestReopenKeepsImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	img := imageFor(">+.")
	if err := s.Put(img); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get(img.SourceHash); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
