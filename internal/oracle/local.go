package oracle

import (
	"fmt"
	"sync"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/logger"
)

// Local is an in-process encryption engine. It decrypts asynchronously: each
// request returns a token immediately and a goroutine later delivers the
// cleartexts, signed with the engine's proof key, to the registered handler.
//
// Local backs single-binary deployments and tests; cmd/oracled wraps it
// behind the QUIC transport for out-of-process use.
type Local struct {
	key      *KeyPair
	proofKey *ProofKey

	mu      sync.RWMutex
	handler Handler

	wg sync.WaitGroup
}

// NewLocal creates a local engine with a fresh key pair of the given bit size.
func NewLocal(bits int) (*Local, error) {
	key, err := GenerateKeyPair(bits)
	if err != nil {
		return nil, fmt.Errorf("generate paillier key: %w", err)
	}

	proofKey, err := GenerateProofKey()
	if err != nil {
		return nil, fmt.Errorf("generate proof key: %w", err)
	}

	return &Local{key: key, proofKey: proofKey}, nil
}

// SetHandler registers the callback target for decryption results.
func (l *Local) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Public returns the engine's Paillier public key.
func (l *Local) Public() *PublicKey {
	return l.key.Public()
}

// ProofPublicKey returns the verification key for decryption proofs.
func (l *Local) ProofPublicKey() []byte {
	return l.proofKey.PublicKeyBytes()
}

// EncryptZero returns a fresh encryption of zero.
func (l *Local) EncryptZero() (envelope.Ciphertext, error) {
	return l.key.Public().EncryptZero()
}

// Encrypt encrypts plaintext bytes under the kind tag.
func (l *Local) Encrypt(kind envelope.Kind, plaintext []byte) (envelope.Ciphertext, error) {
	return l.key.Public().Encrypt(kind, plaintext)
}

// Add homomorphically adds two ciphertexts.
func (l *Local) Add(a, b envelope.Ciphertext) (envelope.Ciphertext, error) {
	return l.key.Public().Add(a, b)
}

// RequestDecryption starts an asynchronous decryption of the given
// ciphertexts and returns the request token. The registered handler is
// invoked from a separate goroutine, so callbacks may arrive in any order
// relative to other outstanding requests.
func (l *Local) RequestDecryption(cts []envelope.Ciphertext) (Token, error) {
	if len(cts) == 0 {
		return Token{}, fmt.Errorf("no ciphertexts to decrypt")
	}

	// Validate up front so malformed ciphertexts fail the request, not the
	// callback.
	for i, ct := range cts {
		if _, err := l.key.Public().ciphertextInt(ct); err != nil {
			return Token{}, fmt.Errorf("ciphertext %d: %w", i, err)
		}
	}

	token, err := newToken(cts)
	if err != nil {
		return Token{}, err
	}

	l.wg.Add(1)

	go l.deliver(token, cts)

	return token, nil
}

// VerifyProof checks a decryption proof against the engine's proof key.
func (l *Local) VerifyProof(token Token, cleartexts [][]byte, proof []byte) bool {
	return VerifyProofSignature(proof, token, cleartexts, l.proofKey.PublicKeyBytes())
}

// WaitIdle blocks until all outstanding decryption callbacks have been
// delivered. Test and shutdown hook.
func (l *Local) WaitIdle() {
	l.wg.Wait()
}

// deliver decrypts the request and invokes the handler with a signed proof.
func (l *Local) deliver(token Token, cts []envelope.Ciphertext) {
	defer l.wg.Done()

	cleartexts := make([][]byte, len(cts))

	for i, ct := range cts {
		plain, err := l.key.Decrypt(ct)
		if err != nil {
			logger.Error("decryption failed, dropping request",
				"token", token.String(), "index", i, "error", err)
			return
		}

		cleartexts[i] = plain
	}

	proof := l.proofKey.Sign(token, cleartexts)

	l.mu.RLock()
	handler := l.handler
	l.mu.RUnlock()

	if handler == nil {
		logger.Warn("decryption completed with no handler registered", "token", token.String())
		return
	}

	handler.HandleDecryption(token, cleartexts, proof)
}
