package ledger

import (
	"errors"
	"testing"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()

	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

func testCiphertexts(payload, category string) (envelope.Ciphertext, envelope.Ciphertext) {
	return envelope.New(envelope.KindPayload, []byte(payload)),
		envelope.New(envelope.KindLabel, []byte(category))
}

func TestSubmissionIdsStrictlyIncreasing(t *testing.T) {
	store, err := NewSubmissionStore(openTestStore(t))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	payload, category := testCiphertexts("1", "Medical")

	var last uint64
	for i := 0; i < 5; i++ {
		id, err := store.Create("alice", payload, category)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}

	if store.Count() != 5 {
		t.Fatalf("count = %d, want 5", store.Count())
	}
}

func TestSubmissionCreateRejectsWrongKinds(t *testing.T) {
	store, err := NewSubmissionStore(openTestStore(t))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	payload, category := testCiphertexts("1", "Medical")

	if _, err := store.Create("alice", category, category); err == nil {
		t.Fatal("payload with label kind accepted")
	}

	if _, err := store.Create("alice", payload, payload); err == nil {
		t.Fatal("category with payload kind accepted")
	}
}

func TestSubmissionGetNotFound(t *testing.T) {
	store, err := NewSubmissionStore(openTestStore(t))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	if _, err := store.Get(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}

	if store.Exists(99) {
		t.Fatal("exists reported an unknown id")
	}
}

func TestSubmissionRevealWriteOnce(t *testing.T) {
	store, err := NewSubmissionStore(openTestStore(t))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	payload, category := testCiphertexts("42", "Medical")

	id, err := store.Create("alice", payload, category)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, err := store.ApplyReveal(id, "42", "Medical")
	if err != nil {
		t.Fatalf("apply reveal: %v", err)
	}
	if !sub.Revealed || sub.RevealedPayload != "42" || sub.RevealedCategory != "Medical" {
		t.Fatalf("revealed submission = %+v", sub)
	}

	if _, err := store.ApplyReveal(id, "other", "Other"); !errors.Is(err, ErrAlreadyRevealed) {
		t.Fatalf("second reveal: got %v, want ErrAlreadyRevealed", err)
	}

	// The first reveal's values are untouched by the rejected second one.
	sub, err = store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.RevealedPayload != "42" || sub.RevealedCategory != "Medical" {
		t.Fatalf("rejected reveal mutated fields: %+v", sub)
	}

	if _, err := store.ApplyReveal(99, "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reveal of missing id: got %v, want ErrNotFound", err)
	}
}

func TestSubmissionStoreReload(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	store, err := NewSubmissionStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	payload, category := testCiphertexts("42", "Medical")

	id1, err := store.Create("alice", payload, category)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.ApplyReveal(id1, "42", "Medical"); err != nil {
		t.Fatalf("apply reveal: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	db, err = storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer db.Close()

	store, err = NewSubmissionStore(db)
	if err != nil {
		t.Fatalf("recreate store: %v", err)
	}

	sub, err := store.Get(id1)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if !sub.Revealed || sub.RevealedCategory != "Medical" {
		t.Fatalf("reload lost reveal: %+v", sub)
	}
	if sub.Payload.Kind() != envelope.KindPayload {
		t.Fatalf("reload lost ciphertext kind: %q", sub.Payload.Kind())
	}

	id2, err := store.Create("bob", payload, category)
	if err != nil {
		t.Fatalf("create after reload: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("id after reload = %d, want %d", id2, id1+1)
	}
}
