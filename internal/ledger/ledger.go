// Package ledger implements the confidential ledger core: encrypted
// submissions, exactly-once correlation of asynchronous decryption callbacks,
// homomorphic per-category aggregation, and the append-only attestation log.
// Plaintext enters this package only through proof-authenticated decryption
// callbacks.
package ledger

import (
	"errors"
	"fmt"
	"strconv"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
	"CipherLedger/internal/storage"
)

// Config holds ledger construction options.
type Config struct {
	// Mode selects count or sum aggregation.
	Mode Mode
}

// Ledger is the facade over the submission store, request correlator,
// aggregation engine, and attestation log. It implements oracle.Handler and
// must be registered as the engine's callback target.
type Ledger struct {
	engine     oracle.Engine
	store      *SubmissionStore
	correlator *Correlator
	agg        *Aggregator
	att        *AttestationLog
}

// Status summarizes ledger state for monitoring.
type Status struct {
	Submissions     int      `json:"submissions"`
	Categories      []string `json:"categories"`
	PendingRequests int      `json:"pendingRequests"`
	Attestations    int      `json:"attestations"`
	Mode            Mode     `json:"mode"`
}

// New creates a ledger over db and engine, loading persisted state.
func New(db *storage.Store, engine oracle.Engine, cfg Config) (*Ledger, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeCount
	}

	store, err := NewSubmissionStore(db)
	if err != nil {
		return nil, err
	}

	agg, err := NewAggregator(db, engine, cfg.Mode)
	if err != nil {
		return nil, err
	}

	att, err := NewAttestationLog(db, store.Exists)
	if err != nil {
		return nil, err
	}

	return &Ledger{
		engine:     engine,
		store:      store,
		correlator: NewCorrelator(),
		agg:        agg,
		att:        att,
	}, nil
}

// Submit stores a new encrypted submission and returns its id.
func (l *Ledger) Submit(owner string, payload, category envelope.Ciphertext) (uint64, error) {
	id, err := l.store.Create(owner, payload, category)
	if err != nil {
		return 0, err
	}

	logger.Info("submission created", "id", id, "owner", owner)

	return id, nil
}

// GetSubmission returns the submission with the given id.
func (l *Ledger) GetSubmission(id uint64) (Submission, error) {
	return l.store.Get(id)
}

// RequestSubmissionReveal starts the asynchronous decryption of a
// submission's payload and category. Only the owner may request a reveal;
// pass an empty caller to skip the ownership check (trusted internal use).
// At most one reveal request per submission may be outstanding.
func (l *Ledger) RequestSubmissionReveal(caller string, id uint64) (oracle.Token, error) {
	sub, err := l.store.Get(id)
	if err != nil {
		return oracle.Token{}, err
	}

	if caller != "" && caller != sub.Owner {
		return oracle.Token{}, fmt.Errorf("submission %d: %w", id, ErrUnauthorized)
	}

	if sub.Revealed {
		return oracle.Token{}, fmt.Errorf("submission %d: %w", id, ErrAlreadyRevealed)
	}

	target := Target{Kind: KindSubmissionReveal, Key: formatID(id)}

	token, err := l.correlator.Issue(target, func() (oracle.Token, error) {
		return l.engine.RequestDecryption([]envelope.Ciphertext{sub.Payload, sub.Category})
	})
	if err != nil {
		return oracle.Token{}, err
	}

	logger.Info("submission reveal requested", "id", id, "token", token.String())

	return token, nil
}

// RequestBucketReveal starts the asynchronous decryption of a category
// bucket's running count. Fails with ErrNotFound when no bucket exists for
// the category yet.
func (l *Ledger) RequestBucketReveal(category string) (oracle.Token, error) {
	count, err := l.agg.CountCiphertext(category)
	if err != nil {
		return oracle.Token{}, err
	}

	target := Target{Kind: KindBucketReveal, Key: category}

	token, err := l.correlator.Issue(target, func() (oracle.Token, error) {
		return l.engine.RequestDecryption([]envelope.Ciphertext{count})
	})
	if err != nil {
		return oracle.Token{}, err
	}

	logger.Info("bucket reveal requested", "category", category, "token", token.String())

	return token, nil
}

// GetBucketCount returns the bucket's last revealed count, or nil when the
// bucket has never been revealed. Fails with ErrNotFound for an unknown
// category.
func (l *Ledger) GetBucketCount(category string) (*RevealedCount, error) {
	return l.agg.Revealed(category)
}

// RecordAttestation appends a confidential participation proof for a
// submission.
func (l *Ledger) RecordAttestation(submissionID uint64, participant string, proof []byte) (AttestationRecord, error) {
	rec, err := l.att.Append(submissionID, participant, proof)
	if err != nil {
		return AttestationRecord{}, err
	}

	logger.Info("attestation recorded",
		"submission", submissionID, "seq", rec.Seq, "participant", participant)

	return rec, nil
}

// ListAttestations returns the attestations for a submission in append order.
func (l *Ledger) ListAttestations(submissionID uint64) []AttestationRecord {
	return l.att.List(submissionID)
}

// ForceClearRequest removes a stale correlation slot so the target can be
// re-requested. Administrative escape hatch; there is no automatic timeout.
func (l *Ledger) ForceClearRequest(kind RequestKind, key string) bool {
	return l.correlator.ForceClear(Target{Kind: kind, Key: key})
}

// RequestPending reports whether a (kind, key) slot has an outstanding
// request.
func (l *Ledger) RequestPending(kind RequestKind, key string) bool {
	return l.correlator.Pending(Target{Kind: kind, Key: key})
}

// Status returns a snapshot of ledger state for monitoring.
func (l *Ledger) Status() Status {
	return Status{
		Submissions:     l.store.Count(),
		Categories:      l.agg.Categories(),
		PendingRequests: l.correlator.PendingCount(),
		Attestations:    l.att.Count(),
		Mode:            l.agg.Mode(),
	}
}

// HandleDecryption is the engine's callback entry point. It resolves the
// token (verifying the proof first, fail closed), then applies the result to
// the targeted entity. Errors terminate only this callback; they never touch
// unrelated entities.
func (l *Ledger) HandleDecryption(token oracle.Token, cleartexts [][]byte, proof []byte) {
	target, err := l.correlator.Resolve(token, func(Target) bool {
		return l.engine.VerifyProof(token, cleartexts, proof)
	})
	if err != nil {
		if errors.Is(err, ErrProofVerification) {
			// Security relevant: the token is NOT consumed, a valid
			// retry can still land.
			logger.Error("decryption proof rejected", "token", token.String())
		} else {
			logger.Warn("decryption callback not matched", "token", token.String(), "error", err)
		}
		return
	}

	switch target.Kind {
	case KindSubmissionReveal:
		l.applySubmissionReveal(target, cleartexts)
	case KindBucketReveal:
		l.applyBucketReveal(target, cleartexts)
	default:
		logger.Error("resolved request with unknown kind", "kind", string(target.Kind))
	}
}

// applySubmissionReveal stores the decrypted submission fields and folds the
// submission into its category bucket.
func (l *Ledger) applySubmissionReveal(target Target, cleartexts [][]byte) {
	id, err := parseID(target.Key)
	if err != nil {
		logger.Error("malformed submission target", "key", target.Key, "error", err)
		return
	}

	if len(cleartexts) != 2 {
		logger.Error("submission reveal with wrong cleartext count",
			"id", id, "got", len(cleartexts))
		return
	}

	payload := string(cleartexts[0])
	category := string(cleartexts[1])

	sub, err := l.store.ApplyReveal(id, payload, category)
	if err != nil {
		// AlreadyRevealed here means a replay slipped past the
		// correlator; surface it, do not fold.
		logger.Error("reveal application failed", "id", id, "error", err)
		return
	}

	logger.Info("submission revealed", "id", id, "category", category)

	if err := l.agg.Fold(sub.ID, category, sub.Payload); err != nil {
		if errors.Is(err, ErrAlreadyFolded) {
			// Defense in depth: the bucket refused a duplicate the
			// correlator and store both missed.
			logger.Warn("duplicate fold suppressed", "id", id, "category", category)
		} else {
			logger.Error("fold failed", "id", id, "category", category, "error", err)
		}
		return
	}

	logger.Info("submission folded", "id", id, "category", category)
}

// applyBucketReveal records the decrypted bucket count.
func (l *Ledger) applyBucketReveal(target Target, cleartexts [][]byte) {
	if len(cleartexts) != 1 {
		logger.Error("bucket reveal with wrong cleartext count",
			"category", target.Key, "got", len(cleartexts))
		return
	}

	value, err := oracle.BytesUint64(cleartexts[0])
	if err != nil {
		logger.Error("bucket reveal with non-numeric cleartext",
			"category", target.Key, "error", err)
		return
	}

	if err := l.agg.SetRevealed(target.Key, value); err != nil {
		logger.Error("record bucket reveal failed", "category", target.Key, "error", err)
		return
	}

	logger.Info("bucket revealed", "category", target.Key, "count", value)
}

// formatID renders a submission id as a correlation key.
func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// parseID parses a correlation key back into a submission id.
func parseID(key string) (uint64, error) {
	return strconv.ParseUint(key, 10, 64)
}
