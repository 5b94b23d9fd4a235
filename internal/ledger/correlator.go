package ledger

import (
	"fmt"
	"sync"

	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
)

// RequestKind distinguishes what a decryption request targets. The kind is
// part of the correlation key, so a submission id and a category label can
// never collide.
type RequestKind string

const (
	// KindSubmissionReveal decrypts a submission's payload and category.
	KindSubmissionReveal RequestKind = "submission-reveal"

	// KindBucketReveal decrypts a category bucket's running count.
	KindBucketReveal RequestKind = "bucket-count-reveal"
)

// Target is the logical entity a decryption request was issued for.
// Key holds the submission id in decimal for KindSubmissionReveal and the
// category label for KindBucketReveal.
type Target struct {
	Kind RequestKind `json:"kind"`
	Key  string      `json:"key"`
}

// Correlator maps opaque decryption tokens to their targets. Each (kind, key)
// slot holds at most one outstanding request; each token resolves exactly
// once. Correlation state is in-memory only: a restart clears all pending
// requests, which is safe because an unmatched callback is rejected as
// unknown and the slot can simply be re-requested.
type Correlator struct {
	mu     sync.Mutex
	bound  *sync.Cond
	slots  map[Target]slotState
	tokens map[oracle.Token]Target

	// reserving counts engine calls in flight between reserve and bind.
	// The engine delivers callbacks on its own goroutine, so a callback can
	// arrive before Issue has bound its token; an unknown token is only
	// final once no reservation is in flight.
	reserving int
}

// slotState tracks one outstanding slot. A slot is reserved while the engine
// call is in flight and bound once the engine has returned a token.
type slotState struct {
	bound bool
	token oracle.Token
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	c := &Correlator{
		slots:  make(map[Target]slotState),
		tokens: make(map[oracle.Token]Target),
	}
	c.bound = sync.NewCond(&c.mu)

	return c
}

// Issue reserves the slot for target, obtains a token from start (typically
// the engine's RequestDecryption), and binds token to target. Fails with
// ErrAlreadyPending when the slot is already reserved or bound. The engine
// call runs outside the correlator lock; on engine failure the reservation
// is released.
func (c *Correlator) Issue(target Target, start func() (oracle.Token, error)) (oracle.Token, error) {
	c.mu.Lock()

	if _, exists := c.slots[target]; exists {
		c.mu.Unlock()
		return oracle.Token{}, fmt.Errorf("%s %q: %w", target.Kind, target.Key, ErrAlreadyPending)
	}

	c.slots[target] = slotState{}
	c.reserving++
	c.mu.Unlock()

	token, err := start()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserving--
	defer c.bound.Broadcast()

	if err != nil {
		delete(c.slots, target)
		return oracle.Token{}, fmt.Errorf("start decryption for %s %q: %w", target.Kind, target.Key, err)
	}

	if _, ok := c.slots[target]; !ok {
		// Force-cleared while the engine call was in flight. The token is
		// abandoned; its callback will be rejected as unknown.
		return oracle.Token{}, fmt.Errorf("%s %q cleared while starting: %w", target.Kind, target.Key, ErrUnknownRequest)
	}

	c.slots[target] = slotState{bound: true, token: token}
	c.tokens[token] = target

	return token, nil
}

// Resolve consumes a token and returns its target. The verify callback is
// invoked with the target before anything is consumed: when it returns false
// the resolution fails with ErrProofVerification and the request stays
// pending, so a legitimate retry with a valid proof can still land. Unknown,
// already-consumed, and forged tokens all fail identically with
// ErrUnknownRequest.
func (c *Correlator) Resolve(token oracle.Token, verify func(Target) bool) (Target, error) {
	c.mu.Lock()
	target, ok := c.tokens[token]

	// A callback can outrun Issue's bind when the engine delivers on its
	// own goroutine. Wait for in-flight reservations to settle before
	// declaring the token unknown.
	for !ok && c.reserving > 0 {
		c.bound.Wait()
		target, ok = c.tokens[token]
	}
	c.mu.Unlock()

	if !ok {
		return Target{}, ErrUnknownRequest
	}

	// Verification runs outside the lock; it may be a signature check or a
	// network round trip.
	if !verify(target) {
		return Target{}, fmt.Errorf("%s %q: %w", target.Kind, target.Key, ErrProofVerification)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the lock: a concurrent resolve or force-clear may have
	// consumed the token while verification ran.
	if _, ok := c.tokens[token]; !ok {
		return Target{}, ErrUnknownRequest
	}

	delete(c.tokens, token)
	delete(c.slots, target)

	return target, nil
}

// Pending reports whether target has an outstanding request.
func (c *Correlator) Pending(target Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.slots[target]
	return ok
}

// PendingCount returns the number of outstanding slots.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.slots)
}

// ForceClear unconditionally removes the slot for target and invalidates its
// token. This is the administrative escape hatch for a request whose callback
// will never arrive; there is no automatic timeout. Returns false when no
// slot was outstanding.
func (c *Correlator) ForceClear(target Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.slots[target]
	if !ok {
		return false
	}

	if slot.bound {
		delete(c.tokens, slot.token)
	}

	delete(c.slots, target)

	logger.Warn("correlation slot force-cleared",
		"kind", string(target.Kind), "key", target.Key)

	return true
}
