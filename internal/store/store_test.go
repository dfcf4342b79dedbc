package store

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type testOrder struct {
	ID     int64    `json:"id"`
	Link   string   `json:"link"`
	Charge int64    `json:"charge"`
	Tags   []string `json:"tags"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "ledger.json"), "test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)

	orders := []testOrder{
		{ID: 1, Link: "https://example.com/a", Charge: 3150, Tags: []string{"x", "y"}},
		{ID: 2, Link: "https://example.com/b", Charge: 6300},
	}

	if err := s.Set("orders", orders); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got []testOrder
	found, err := s.Get("orders", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("orders not found after Set")
	}
	if !reflect.DeepEqual(orders, got) {
		t.Fatalf("round trip mismatch: %+v != %+v", orders, got)
	}
}

func TestRoundTrip_Obfuscated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	s, err := New(path, "test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	users := map[string]any{"email": "user@example.com", "balance": float64(100000)}
	if err := s.Set("users", users, Obfuscated()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got map[string]any
	found, err := s.Get("users", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatalf("users not found after Set")
	}
	if !reflect.DeepEqual(users, got) {
		t.Fatalf("round trip mismatch: %+v != %+v", users, got)
	}

	// Обфусцированное значение не должно лежать в файле открытым текстом.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	if bytes.Contains(raw, []byte("user@example.com")) {
		t.Fatalf("obfuscated value stored in plain text")
	}
}

func TestGet_MissingKey(t *testing.T) {
	s := newTestStore(t)

	var dst []testOrder
	found, err := s.Get("nothing", &dst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("missing key reported as found")
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("session", "token-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Remove("session"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	var dst string
	found, err := s.Get("session", &dst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("removed key still present")
	}
}

func TestNew_CorruptedFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	if err := os.WriteFile(path, []byte("{{{ not json"), 0o600); err != nil {
		t.Fatalf("write corrupted file: %v", err)
	}

	s, err := New(path, "test-secret")
	if err != nil {
		t.Fatalf("New must tolerate corrupted file, got %v", err)
	}

	var dst string
	found, err := s.Get("anything", &dst)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("corrupted store must degrade to empty")
	}
}

func TestReopen_KeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	s, err := New(path, "test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Set("stats", map[string]int{"orders": 7}, Obfuscated()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := New(path, "test-secret")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	var stats map[string]int
	found, err := reopened.Get("stats", &stats)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || stats["orders"] != 7 {
		t.Fatalf("reopened store lost data: found=%v stats=%v", found, stats)
	}
}
