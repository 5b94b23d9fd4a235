package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/oracle"
	"CipherLedger/internal/storage"
)

// Mode selects what a bucket accumulates.
type Mode string

const (
	// ModeCount folds an encrypted one per submission.
	ModeCount Mode = "count"

	// ModeSum folds the submission's encrypted payload.
	ModeSum Mode = "sum"
)

// RevealedCount is the last decrypted value of a bucket. Revealing does not
// consume the encrypted count; it keeps accumulating and can be revealed
// again later.
type RevealedCount struct {
	Value      uint64    `json:"value"`
	RevealedAt time.Time `json:"revealedAt"`
}

// bucket is one category's encrypted aggregate. Mutations take the bucket's
// own mutex, so folds into distinct categories run concurrently.
type bucket struct {
	mu           sync.Mutex
	count        envelope.Ciphertext
	folded       map[uint64]struct{}
	lastRevealed *RevealedCount
}

// BucketRecord is the persistence form of a bucket.
type BucketRecord struct {
	Category     string              `json:"category"`
	Count        envelope.Ciphertext `json:"count"`
	Folded       []uint64            `json:"folded"`
	LastRevealed *RevealedCount      `json:"lastRevealed,omitempty"`
}

// Aggregator maintains homomorphically encrypted per-category aggregates.
// Buckets are created lazily on the first fold of a category and never
// removed; the category label only becomes known once a submission reveals.
type Aggregator struct {
	engine oracle.Engine
	mode   Mode
	db     *storage.Store

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewAggregator creates an aggregator and loads existing buckets from db.
func NewAggregator(db *storage.Store, engine oracle.Engine, mode Mode) (*Aggregator, error) {
	if mode != ModeCount && mode != ModeSum {
		return nil, fmt.Errorf("unknown aggregation mode %q", mode)
	}

	a := &Aggregator{
		engine:  engine,
		mode:    mode,
		db:      db,
		buckets: make(map[string]*bucket),
	}

	if err := a.ensureMode(); err != nil {
		return nil, err
	}

	if err := a.load(); err != nil {
		return nil, fmt.Errorf("load buckets: %w", err)
	}

	return a, nil
}

// ensureMode pins the aggregation mode in the store on first open. Buckets
// built in one mode are meaningless in the other, so a mismatch on reload
// refuses to open rather than mixing contributions.
func (a *Aggregator) ensureMode() error {
	raw, err := a.db.Get(keyAggMode)
	if err != nil {
		return fmt.Errorf("read aggregation mode: %w", err)
	}

	if raw == nil {
		return a.db.Set(keyAggMode, []byte(a.mode))
	}

	if stored := Mode(raw); stored != a.mode {
		return fmt.Errorf("store holds %q buckets, refusing to open in %q mode", stored, a.mode)
	}

	return nil
}

// Mode returns the configured aggregation mode.
func (a *Aggregator) Mode() Mode {
	return a.mode
}

// Fold merges a revealed submission into its category bucket. The folded-set
// check and the homomorphic add are one critical section per bucket, so a
// replayed fold always fails with ErrAlreadyFolded and leaves the count
// unchanged. This is defense in depth behind the correlator's exactly-once
// resolve.
func (a *Aggregator) Fold(submissionID uint64, category string, payload envelope.Ciphertext) error {
	b, err := a.getOrCreate(category)
	if err != nil {
		return err
	}

	contribution, err := a.contribution(payload)
	if err != nil {
		return fmt.Errorf("build contribution for %d: %w", submissionID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.folded[submissionID]; dup {
		return fmt.Errorf("submission %d in bucket %q: %w", submissionID, category, ErrAlreadyFolded)
	}

	sum, err := a.engine.Add(b.count, contribution)
	if err != nil {
		return fmt.Errorf("homomorphic add into %q: %w", category, err)
	}

	b.count = sum
	b.folded[submissionID] = struct{}{}

	if err := a.persist(category, b); err != nil {
		return fmt.Errorf("persist bucket %q: %w", category, err)
	}

	return nil
}

// CountCiphertext returns a copy of the bucket's encrypted running count.
// Fails with ErrNotFound when no submission has revealed into category yet.
func (a *Aggregator) CountCiphertext(category string) (envelope.Ciphertext, error) {
	b, err := a.get(category)
	if err != nil {
		return envelope.Ciphertext{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count, nil
}

// SetRevealed records the decrypted value of a bucket's count. The encrypted
// count itself is left untouched.
func (a *Aggregator) SetRevealed(category string, value uint64) error {
	b, err := a.get(category)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastRevealed = &RevealedCount{Value: value, RevealedAt: time.Now().UTC()}

	if err := a.persist(category, b); err != nil {
		return fmt.Errorf("persist bucket %q: %w", category, err)
	}

	return nil
}

// Revealed returns the bucket's last revealed count, or nil when the bucket
// exists but has never been revealed. Fails with ErrNotFound for an unknown
// category.
func (a *Aggregator) Revealed(category string) (*RevealedCount, error) {
	b, err := a.get(category)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastRevealed == nil {
		return nil, nil
	}

	rc := *b.lastRevealed
	return &rc, nil
}

// FoldedCount returns how many distinct submissions were folded into category.
func (a *Aggregator) FoldedCount(category string) (int, error) {
	b, err := a.get(category)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.folded), nil
}

// Categories returns the known category labels in sorted order.
func (a *Aggregator) Categories() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.buckets))
	for c := range a.buckets {
		out = append(out, c)
	}

	sort.Strings(out)

	return out
}

// Snapshot returns the persistence records of all buckets, for export.
func (a *Aggregator) Snapshot() []BucketRecord {
	categories := a.Categories()
	out := make([]BucketRecord, 0, len(categories))

	for _, c := range categories {
		b, err := a.get(c)
		if err != nil {
			continue
		}

		b.mu.Lock()
		out = append(out, record(c, b))
		b.mu.Unlock()
	}

	return out
}

// contribution builds the ciphertext added per fold: an encrypted one in
// count mode, the submission's payload in sum mode.
func (a *Aggregator) contribution(payload envelope.Ciphertext) (envelope.Ciphertext, error) {
	if a.mode == ModeSum {
		return payload.Retag(envelope.KindCount), nil
	}

	return a.engine.Encrypt(envelope.KindCount, oracle.Uint64Bytes(1))
}

// get returns the bucket for category, or ErrNotFound.
func (a *Aggregator) get(category string) (*bucket, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.buckets[category]
	if !ok {
		return nil, fmt.Errorf("bucket %q: %w", category, ErrNotFound)
	}

	return b, nil
}

// getOrCreate returns the bucket for category, creating it with an encrypted
// zero on first use. The encrypted zero is produced before taking the write
// lock; a racing creator wins and the spare ciphertext is discarded.
func (a *Aggregator) getOrCreate(category string) (*bucket, error) {
	a.mu.RLock()
	b, ok := a.buckets[category]
	a.mu.RUnlock()

	if ok {
		return b, nil
	}

	zero, err := a.engine.EncryptZero()
	if err != nil {
		return nil, fmt.Errorf("encrypt zero for %q: %w", category, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.buckets[category]; ok {
		return b, nil
	}

	b = &bucket{
		count:  zero,
		folded: make(map[uint64]struct{}),
	}
	a.buckets[category] = b

	return b, nil
}

// persist writes a bucket record. Callers hold the bucket mutex.
func (a *Aggregator) persist(category string, b *bucket) error {
	data, err := json.Marshal(record(category, b))
	if err != nil {
		return err
	}

	return a.db.Set(bucketKey(category), data)
}

// record builds the persistence form of a bucket. Callers hold the bucket
// mutex.
func record(category string, b *bucket) BucketRecord {
	folded := make([]uint64, 0, len(b.folded))
	for id := range b.folded {
		folded = append(folded, id)
	}

	sort.Slice(folded, func(i, j int) bool { return folded[i] < folded[j] })

	var revealed *RevealedCount
	if b.lastRevealed != nil {
		rc := *b.lastRevealed
		revealed = &rc
	}

	return BucketRecord{
		Category:     category,
		Count:        b.count,
		Folded:       folded,
		LastRevealed: revealed,
	}
}

// load restores buckets from storage.
func (a *Aggregator) load() error {
	return a.db.IteratePrefix(prefixBucket, func(key, value []byte) error {
		var rec BucketRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode bucket at %q: %w", key, err)
		}

		b := &bucket{
			count:        rec.Count,
			folded:       make(map[uint64]struct{}, len(rec.Folded)),
			lastRevealed: rec.LastRevealed,
		}

		for _, id := range rec.Folded {
			b.folded[id] = struct{}{}
		}

		a.buckets[rec.Category] = b

		return nil
	})
}

// bucketKey builds the storage key for a category.
func bucketKey(category string) []byte {
	key := make([]byte, 0, len(prefixBucket)+len(category))
	key = append(key, prefixBucket...)
	return append(key, category...)
}
