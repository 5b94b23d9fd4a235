package oracle

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// ProofPublicKeySize is the size of a proof public key in bytes.
	ProofPublicKeySize = 48

	// ProofSize is the size of a decryption proof in bytes.
	ProofSize = 96
)

// proofDST is the domain separation tag for decryption-proof signatures.
var proofDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// ProofKey holds the BLS key pair the oracle uses to sign decryption results.
type ProofKey struct {
	secret *blst.SecretKey // secret is the signing key
	public *blst.P1Affine  // public is the verification key
}

// GenerateProofKey creates a new proof signing key from random seed.
func GenerateProofKey() (*ProofKey, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate proof key seed: %w", err)
	}

	secret := blst.KeyGen(ikm[:])
	if secret == nil {
		return nil, fmt.Errorf("failed to generate proof key")
	}

	return &ProofKey{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// PublicKeyBytes returns the compressed verification key.
func (k *ProofKey) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// Sign produces a decryption proof binding the token to the cleartexts.
func (k *ProofKey) Sign(token Token, cleartexts [][]byte) []byte {
	digest := proofDigest(token, cleartexts)
	sig := new(blst.P2Affine).Sign(k.secret, digest[:], proofDST)
	return sig.Compress()
}

// VerifyProofSignature checks a decryption proof against the oracle's
// verification key.
func VerifyProofSignature(proof []byte, token Token, cleartexts [][]byte, publicKey []byte) bool {
	if len(proof) != ProofSize || len(publicKey) != ProofPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(proof)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	digest := proofDigest(token, cleartexts)

	return sig.Verify(true, pk, true, digest[:], proofDST)
}

// proofDigest hashes (token || cleartexts) with length framing so distinct
// cleartext splits never collide.
func proofDigest(token Token, cleartexts [][]byte) [32]byte {
	h := blake3.New()
	h.Write(token[:])

	var lenBuf [4]byte
	for _, ct := range cleartexts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))
		h.Write(lenBuf[:])
		h.Write(ct)
	}

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}
