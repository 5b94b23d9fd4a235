package ledger

import (
	"bytes"
	"errors"
	"testing"

	"CipherLedger/internal/storage"
)

// knownSubmissions builds an existence predicate from a fixed id set.
func knownSubmissions(ids ...uint64) func(uint64) bool {
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return func(id uint64) bool {
		_, ok := set[id]
		return ok
	}
}

func TestAttestationSequencing(t *testing.T) {
	log, err := NewAttestationLog(openTestStore(t), knownSubmissions(1, 2))
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	first, err := log.Append(1, "auditor-a", []byte("receipt-a"))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Seq != 0 {
		t.Fatalf("first seq = %d, want 0", first.Seq)
	}

	second, err := log.Append(1, "auditor-b", []byte("receipt-b"))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Seq != 1 {
		t.Fatalf("second seq = %d, want 1", second.Seq)
	}

	// Sequences are per submission.
	other, err := log.Append(2, "auditor-a", []byte("receipt-c"))
	if err != nil {
		t.Fatalf("append other: %v", err)
	}
	if other.Seq != 0 {
		t.Fatalf("other submission seq = %d, want 0", other.Seq)
	}

	recs := log.List(1)
	if len(recs) != 2 {
		t.Fatalf("list = %d records, want 2", len(recs))
	}
	if recs[0].Participant != "auditor-a" || recs[1].Participant != "auditor-b" {
		t.Fatalf("list order = %q, %q", recs[0].Participant, recs[1].Participant)
	}

	if log.Count() != 3 {
		t.Fatalf("count = %d, want 3", log.Count())
	}
}

func TestAttestationUnknownSubmission(t *testing.T) {
	log, err := NewAttestationLog(openTestStore(t), knownSubmissions(1))
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	if _, err := log.Append(99, "auditor", []byte("receipt")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append for unknown id: got %v, want ErrNotFound", err)
	}

	if recs := log.List(99); len(recs) != 0 {
		t.Fatalf("list for unknown id = %d records, want 0", len(recs))
	}
}

func TestAttestationProofCopied(t *testing.T) {
	log, err := NewAttestationLog(openTestStore(t), knownSubmissions(1))
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	proof := []byte("receipt")

	if _, err := log.Append(1, "auditor", proof); err != nil {
		t.Fatalf("append: %v", err)
	}

	proof[0] = 'X'

	recs := log.List(1)
	if !bytes.Equal(recs[0].Proof, []byte("receipt")) {
		t.Fatalf("stored proof mutated: %q", recs[0].Proof)
	}
}

func TestAttestationReload(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	exists := knownSubmissions(1)

	log, err := NewAttestationLog(db, exists)
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	for _, p := range []string{"auditor-a", "auditor-b", "auditor-c"} {
		if _, err := log.Append(1, p, []byte(p)); err != nil {
			t.Fatalf("append %q: %v", p, err)
		}
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	db, err = storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer db.Close()

	log, err = NewAttestationLog(db, exists)
	if err != nil {
		t.Fatalf("recreate log: %v", err)
	}

	recs := log.List(1)
	if len(recs) != 3 {
		t.Fatalf("list after reload = %d records, want 3", len(recs))
	}

	for i, want := range []string{"auditor-a", "auditor-b", "auditor-c"} {
		if recs[i].Participant != want || recs[i].Seq != uint64(i) {
			t.Fatalf("record %d = %+v, want participant %q seq %d", i, recs[i], want, i)
		}
	}

	// Appends continue from the restored sequence.
	rec, err := log.Append(1, "auditor-d", []byte("d"))
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if rec.Seq != 3 {
		t.Fatalf("seq after reload = %d, want 3", rec.Seq)
	}
}
