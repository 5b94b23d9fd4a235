// Package oracle provides the encryption-engine collaborator consumed by the
// ledger core: homomorphic encryption, asynchronous decryption with opaque
// request tokens, and verifiable decryption proofs. The ledger never touches
// plaintext outside a proof-authenticated callback from this package.
package oracle

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"CipherLedger/internal/envelope"
)

// TokenSize is the size of a decryption request token in bytes.
const TokenSize = 32

// Token is the opaque identifier binding a decryption request to its
// eventual callback. Tokens are unpredictable; the correlation layer treats
// them as the sole matching key.
type Token [TokenSize]byte

// String returns the hex form of the token.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// ParseToken decodes a hex-encoded token.
func ParseToken(s string) (Token, error) {
	var t Token

	raw, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("decode token: %w", err)
	}

	if len(raw) != TokenSize {
		return t, fmt.Errorf("invalid token length: got %d, want %d", len(raw), TokenSize)
	}

	copy(t[:], raw)

	return t, nil
}

// Engine is the encryption-engine interface consumed by the ledger.
//
// RequestDecryption is asynchronous: it returns a fresh token immediately and
// the engine later invokes the registered Handler with the token, the
// cleartexts in request order, and a decryption proof. VerifyProof checks a
// callback's proof; callers must reject the callback when it returns false.
type Engine interface {
	EncryptZero() (envelope.Ciphertext, error)
	Encrypt(kind envelope.Kind, plaintext []byte) (envelope.Ciphertext, error)
	Add(a, b envelope.Ciphertext) (envelope.Ciphertext, error)
	RequestDecryption(cts []envelope.Ciphertext) (Token, error)
	VerifyProof(token Token, cleartexts [][]byte, proof []byte) bool
}

// Handler receives asynchronous decryption results.
type Handler interface {
	HandleDecryption(token Token, cleartexts [][]byte, proof []byte)
}

// newToken derives an unpredictable request token from a random nonce and the
// requested ciphertexts.
func newToken(cts []envelope.Ciphertext) (Token, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Token{}, fmt.Errorf("token nonce: %w", err)
	}

	h := blake3.New()
	h.Write(nonce[:])

	for _, ct := range cts {
		h.Write(ct.Bytes())
	}

	var t Token
	h.Sum(t[:0])

	return t, nil
}
