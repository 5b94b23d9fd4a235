package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/storage"
)

// Storage key prefixes. Submission ids are encoded big-endian so prefix
// iteration yields creation order.
var (
	prefixSubmission  = []byte("s:")
	prefixBucket      = []byte("b:")
	prefixAttestation = []byte("a:")
	keyNextID         = []byte("m:next-id")
	keyAggMode        = []byte("m:agg-mode")
)

// Submission is an encrypted record held by the ledger. The plaintext fields
// are empty exactly until the reveal is applied; a reveal is write-once and
// never reverts.
type Submission struct {
	ID               uint64              `json:"id"`
	Owner            string              `json:"owner"`
	Payload          envelope.Ciphertext `json:"payload"`
	Category         envelope.Ciphertext `json:"category"`
	CreatedAt        time.Time           `json:"createdAt"`
	Revealed         bool                `json:"revealed"`
	RevealedPayload  string              `json:"revealedPayload,omitempty"`
	RevealedCategory string              `json:"revealedCategory,omitempty"`
}

// SubmissionStore owns the canonical submission records. Ids are allocated
// from a durable counter and never reused; records are never deleted.
type SubmissionStore struct {
	db *storage.Store

	mu     sync.RWMutex
	subs   map[uint64]*Submission
	nextID uint64
}

// NewSubmissionStore creates a store and loads existing records from db.
func NewSubmissionStore(db *storage.Store) (*SubmissionStore, error) {
	s := &SubmissionStore{
		db:   db,
		subs: make(map[uint64]*Submission),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	return s, nil
}

// Create stores a new submission and returns its id. Ids are strictly
// increasing across the life of the ledger.
func (s *SubmissionStore) Create(owner string, payload, category envelope.Ciphertext) (uint64, error) {
	if payload.Kind() != envelope.KindPayload {
		return 0, fmt.Errorf("payload has kind %q, want %q", payload.Kind(), envelope.KindPayload)
	}

	if category.Kind() != envelope.KindLabel {
		return 0, fmt.Errorf("category has kind %q, want %q", category.Kind(), envelope.KindLabel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID + 1

	sub := &Submission{
		ID:        id,
		Owner:     owner,
		Payload:   payload,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return 0, fmt.Errorf("encode submission %d: %w", id, err)
	}

	// The counter and the record land in one batch: a failed write burns
	// neither, so the in-memory counter never drifts from the durable one.
	rec := storage.KeyValue{Key: submissionKey(id), Value: data}
	if err := s.persistNextID(s.nextID, id, rec); err != nil {
		return 0, err
	}

	s.nextID = id
	s.subs[id] = sub

	return id, nil
}

// Get returns a copy of the submission, or ErrNotFound.
func (s *SubmissionStore) Get(id uint64) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return Submission{}, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}

	return *sub, nil
}

// Exists reports whether the submission id is known.
func (s *SubmissionStore) Exists(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.subs[id]
	return ok
}

// Count returns the number of stored submissions.
func (s *SubmissionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.subs)
}

// ApplyReveal records the decrypted payload and category of a submission.
// The check-and-set is a single step under the store lock: a second reveal
// for the same id always fails with ErrAlreadyRevealed and leaves the
// plaintext fields untouched. Returns the updated submission.
func (s *SubmissionStore) ApplyReveal(id uint64, payload, category string) (Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return Submission{}, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}

	if sub.Revealed {
		return Submission{}, fmt.Errorf("submission %d: %w", id, ErrAlreadyRevealed)
	}

	updated := *sub
	updated.Revealed = true
	updated.RevealedPayload = payload
	updated.RevealedCategory = category

	if err := s.persist(&updated); err != nil {
		return Submission{}, fmt.Errorf("persist reveal %d: %w", id, err)
	}

	*sub = updated

	return updated, nil
}

// Each returns a snapshot of all submissions in id order.
func (s *SubmissionStore) Each() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Submission, 0, len(s.subs))
	for id := uint64(1); id <= s.nextID; id++ {
		if sub, ok := s.subs[id]; ok {
			out = append(out, *sub)
		}
	}

	return out
}

// persist writes a submission record.
func (s *SubmissionStore) persist(sub *Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	return s.db.Set(submissionKey(sub.ID), data)
}

// persistNextID advances the durable id counter with compare-and-set,
// committing any extra records in the same batch. The counter is a
// single-writer field; a CAS failure means another writer is sharing the
// database and the store refuses to allocate.
func (s *SubmissionStore) persistNextID(current, next uint64, extra ...storage.KeyValue) error {
	var old []byte
	if current != 0 {
		old = idBytes(current)
	}

	ok, err := s.db.CompareAndSwap(keyNextID, old, idBytes(next), extra...)
	if err != nil {
		return fmt.Errorf("advance id counter: %w", err)
	}

	if !ok {
		return fmt.Errorf("id counter moved underneath store (concurrent writer?)")
	}

	return nil
}

// load restores submissions and the id counter from storage.
func (s *SubmissionStore) load() error {
	raw, err := s.db.Get(keyNextID)
	if err != nil {
		return err
	}

	if len(raw) == 8 {
		s.nextID = binary.BigEndian.Uint64(raw)
	}

	return s.db.IteratePrefix(prefixSubmission, func(key, value []byte) error {
		var sub Submission
		if err := json.Unmarshal(value, &sub); err != nil {
			return fmt.Errorf("decode submission at %q: %w", key, err)
		}

		s.subs[sub.ID] = &sub

		return nil
	})
}

// submissionKey builds the storage key for a submission id.
func submissionKey(id uint64) []byte {
	key := make([]byte, 0, len(prefixSubmission)+8)
	key = append(key, prefixSubmission...)
	return append(key, idBytes(id)...)
}

// idBytes encodes an id as 8 big-endian bytes.
func idBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}
