package store

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "userdata.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	val, ok, err := s.Get("nombre")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok || val != "" {
		t.Errorf("Get() = (%q, %v), want missing", val, ok)
	}
}

func TestSetGetUpsert(t *testing.T) {
	s := testStore(t)

	if err := s.Set("nombre", "Ana"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set("nombre", "Luisa"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	val, ok, err := s.Get("nombre")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || val != "Luisa" {
		t.Errorf("Get() = (%q, %v), want (Luisa, true)", val, ok)
	}
}

func TestDeleteAndList(t *testing.T) {
	s := testStore(t)

	for k, v := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if err := s.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete("b"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("Delete(missing) error: %v", err)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 2 || all["a"] != "1" || all["c"] != "3" {
		t.Errorf("List() = %v", all)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userdata.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("ciudad", "Madrid"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	val, ok, err := s2.Get("ciudad")
	if err != nil || !ok || val != "Madrid" {
		t.Errorf("Get after reopen = (%q, %v, %v)", val, ok, err)
	}
	if s2.Recovered() != "" {
		t.Errorf("Recovered() = %q on clean open", s2.Recovered())
	}
}

func TestOpen_CorruptFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "userdata.db")
	garbage := bytes.Repeat([]byte("this is not a sqlite database\n"), 64)
	if err := os.WriteFile(path, garbage, 0600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() on corrupt file error: %v", err)
	}
	defer s.Close()

	moved := s.Recovered()
	if moved == "" {
		t.Fatal("Recovered() = \"\", want quarantine path")
	}
	if !strings.HasPrefix(filepath.Base(moved), "userdata.db.corrupt-") {
		t.Errorf("quarantine name = %q", moved)
	}
	if data, err := os.ReadFile(moved); err != nil || !bytes.Equal(data, garbage) {
		t.Errorf("quarantined file not preserved (err=%v)", err)
	}

	if err := s.Set("nombre", "Ana"); err != nil {
		t.Fatalf("Set() on recovered store: %v", err)
	}
	all, err := s.List()
	if err != nil || len(all) != 1 {
		t.Errorf("List() = %v, %v; want only the new key", all, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := testStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := s.Set("contador", "x"); err != nil {
					t.Errorf("Set() error: %v", err)
					return
				}
				if _, _, err := s.Get("contador"); err != nil {
					t.Errorf("Get() error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
