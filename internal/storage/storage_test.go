package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStore creates a temporary store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)

	key := []byte("test-key")
	value := []byte("test-value")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestHas(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Has([]byte("missing"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if ok {
		t.Error("Has returned true for missing key")
	}

	if err := s.Set([]byte("present"), []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err = s.Has([]byte("present"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !ok {
		t.Error("Has returned false for present key")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	key := []byte("to-delete")

	if err := s.Set(key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestCompareAndSwapNew(t *testing.T) {
	s := newTestStore(t)

	key := []byte("cas-key")

	ok, err := s.CompareAndSwap(key, nil, []byte("first"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !ok {
		t.Fatal("CompareAndSwap with nil old should succeed on missing key")
	}

	// Second nil-old swap must fail: the key now exists.
	ok, err = s.CompareAndSwap(key, nil, []byte("second"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if ok {
		t.Error("CompareAndSwap with nil old succeeded on existing key")
	}

	got, _ := s.Get(key)
	if !bytes.Equal(got, []byte("first")) {
		t.Errorf("value = %q, want %q", got, "first")
	}
}

func TestCompareAndSwapMismatch(t *testing.T) {
	s := newTestStore(t)

	key := []byte("cas-key")

	if err := s.Set(key, []byte("current")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err := s.CompareAndSwap(key, []byte("stale"), []byte("next"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if ok {
		t.Error("CompareAndSwap succeeded with stale old value")
	}

	ok, err = s.CompareAndSwap(key, []byte("current"), []byte("next"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !ok {
		t.Error("CompareAndSwap failed with matching old value")
	}

	got, _ := s.Get(key)
	if !bytes.Equal(got, []byte("next")) {
		t.Errorf("value = %q, want %q", got, "next")
	}
}

func TestCompareAndSwapExtras(t *testing.T) {
	s := newTestStore(t)

	key := []byte("cas-key")
	extra := KeyValue{Key: []byte("extra-key"), Value: []byte("extra-value")}

	// A failed swap writes nothing, extras included.
	if err := s.Set(key, []byte("current")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err := s.CompareAndSwap(key, []byte("stale"), []byte("next"), extra)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if ok {
		t.Fatal("CompareAndSwap succeeded with stale old value")
	}

	got, _ := s.Get(extra.Key)
	if got != nil {
		t.Errorf("extra written on failed swap: %q", got)
	}

	// A successful swap commits the extras in the same batch.
	ok, err = s.CompareAndSwap(key, []byte("current"), []byte("next"), extra)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !ok {
		t.Fatal("CompareAndSwap failed with matching old value")
	}

	got, _ = s.Get(extra.Key)
	if !bytes.Equal(got, extra.Value) {
		t.Errorf("extra = %q, want %q", got, extra.Value)
	}
}

func TestSetBatch(t *testing.T) {
	s := newTestStore(t)

	pairs := []KeyValue{
		{Key: []byte("batch-1"), Value: []byte("value-1")},
		{Key: []byte("batch-2"), Value: []byte("value-2")},
		{Key: []byte("batch-3"), Value: []byte("value-3")},
	}

	if err := s.SetBatch(pairs); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	for _, kv := range pairs {
		got, err := s.Get(kv.Key)
		if err != nil {
			t.Fatalf("Get failed for %q: %v", kv.Key, err)
		}

		if !bytes.Equal(got, kv.Value) {
			t.Errorf("Get(%q) = %q, want %q", kv.Key, got, kv.Value)
		}
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("sub:%03d", i)
		if err := s.Set([]byte(key), []byte{byte(i)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := s.Set([]byte("other:1"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var keys []string

	err := s.IteratePrefix([]byte("sub:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(keys) != 5 {
		t.Fatalf("got %d keys, want 5: %v", len(keys), keys)
	}

	for i, k := range keys {
		want := fmt.Sprintf("sub:%03d", i)
		if k != want {
			t.Errorf("keys[%d] = %q, want %q", i, k, want)
		}
	}
}
