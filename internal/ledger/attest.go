package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"CipherLedger/internal/storage"
)

// AttestationRecord is one confidential participation proof for a submission.
// The proof blob is opaque to the ledger; this layer guarantees ordering and
// immutability only, never semantic validity.
type AttestationRecord struct {
	SubmissionID uint64    `json:"submissionId"`
	Seq          uint64    `json:"seq"`
	Participant  string    `json:"participant"`
	Proof        []byte    `json:"proof"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// AttestationLog is the append-only per-submission attestation store. It
// relates to submissions by id only; existence checks go through the
// injected predicate so the log never owns submission state.
type AttestationLog struct {
	db     *storage.Store
	exists func(submissionID uint64) bool

	mu   sync.Mutex
	recs map[uint64][]AttestationRecord
}

// NewAttestationLog creates a log backed by db. The exists predicate is
// consulted on append to reject attestations for unknown submissions.
func NewAttestationLog(db *storage.Store, exists func(uint64) bool) (*AttestationLog, error) {
	l := &AttestationLog{
		db:     db,
		exists: exists,
		recs:   make(map[uint64][]AttestationRecord),
	}

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("load attestations: %w", err)
	}

	return l, nil
}

// Append records a new attestation with the next sequence index for the
// submission. Fails with ErrNotFound when the submission id is unknown.
func (l *AttestationLog) Append(submissionID uint64, participant string, proof []byte) (AttestationRecord, error) {
	if !l.exists(submissionID) {
		return AttestationRecord{}, fmt.Errorf("submission %d: %w", submissionID, ErrNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	proofCopy := make([]byte, len(proof))
	copy(proofCopy, proof)

	rec := AttestationRecord{
		SubmissionID: submissionID,
		Seq:          uint64(len(l.recs[submissionID])),
		Participant:  participant,
		Proof:        proofCopy,
		RecordedAt:   time.Now().UTC(),
	}

	if err := l.persist(rec); err != nil {
		return AttestationRecord{}, fmt.Errorf("persist attestation %d/%d: %w", submissionID, rec.Seq, err)
	}

	l.recs[submissionID] = append(l.recs[submissionID], rec)

	return rec, nil
}

// List returns the attestations for a submission in append order.
// Unknown submissions yield an empty list.
func (l *AttestationLog) List(submissionID uint64) []AttestationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.recs[submissionID]
	out := make([]AttestationRecord, len(recs))
	copy(out, recs)

	return out
}

// Count returns the total number of attestation records.
func (l *AttestationLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, recs := range l.recs {
		total += len(recs)
	}

	return total
}

// persist writes one attestation record. Records are immutable once written.
func (l *AttestationLog) persist(rec AttestationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return l.db.Set(attestationKey(rec.SubmissionID, rec.Seq), data)
}

// load restores attestation records from storage. Keys sort by
// (submission id, seq), so append order is preserved.
func (l *AttestationLog) load() error {
	return l.db.IteratePrefix(prefixAttestation, func(key, value []byte) error {
		var rec AttestationRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode attestation at %q: %w", key, err)
		}

		l.recs[rec.SubmissionID] = append(l.recs[rec.SubmissionID], rec)

		return nil
	})
}

// attestationKey builds the storage key for an attestation record.
func attestationKey(submissionID, seq uint64) []byte {
	key := make([]byte, 0, len(prefixAttestation)+16)
	key = append(key, prefixAttestation...)
	key = append(key, idBytes(submissionID)...)
	return append(key, idBytes(seq)...)
}
