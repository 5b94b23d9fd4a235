package ledger

import "errors"

// Sentinel errors for the ledger protocol. All are recoverable: a failed
// operation never corrupts entities other than the one it targeted. Callers
// match with errors.Is.
var (
	// ErrNotFound reports an unknown submission, category, or request token.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRevealed reports a reveal applied to an already revealed
	// submission. Repeat reveals are a protocol violation, not a no-op.
	ErrAlreadyRevealed = errors.New("submission already revealed")

	// ErrAlreadyPending reports a second decryption request for a
	// (kind, target) slot that already has one outstanding.
	ErrAlreadyPending = errors.New("decryption request already pending")

	// ErrAlreadyFolded reports a duplicate fold of a submission into its
	// bucket. The bucket count is left unchanged.
	ErrAlreadyFolded = errors.New("submission already folded into bucket")

	// ErrUnknownRequest reports a callback token that is not tracked:
	// never issued, already consumed, or forged. The three cases are
	// deliberately indistinguishable.
	ErrUnknownRequest = errors.New("unknown request token")

	// ErrProofVerification reports a decryption callback whose proof did
	// not check out. The request stays pending so a valid retry can land.
	ErrProofVerification = errors.New("decryption proof verification failed")

	// ErrUnauthorized reports a caller attempting an owner-restricted
	// operation on a submission it does not own.
	ErrUnauthorized = errors.New("caller does not own submission")
)
