package oracle

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"CipherLedger/internal/envelope"
)

const (
	// DefaultKeyBits is the default Paillier modulus size.
	DefaultKeyBits = 2048

	// minKeyBits guards against unusable toy moduli.
	minKeyBits = 256
)

var one = big.NewInt(1)

// PublicKey holds the Paillier public parameters. It supports encryption and
// the homomorphic addition of ciphertexts; decryption requires the full
// KeyPair. With g fixed to n+1, (n, n²) fully determines the scheme.
type PublicKey struct {
	n  *big.Int
	n2 *big.Int
}

// KeyPair holds the full Paillier key material.
type KeyPair struct {
	pub    *PublicKey
	lambda *big.Int // lcm(p-1, q-1)
	mu     *big.Int // (L(g^lambda mod n²))⁻¹ mod n
}

// GenerateKeyPair creates a Paillier key pair with an n of the given bit size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < minKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, minKeyBits)
	}

	p, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, fmt.Errorf("generate prime: %w", err)
	}

	q, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, fmt.Errorf("generate prime: %w", err)
	}

	if p.Cmp(q) == 0 {
		return nil, fmt.Errorf("degenerate key: p == q")
	}

	n := new(big.Int).Mul(p, q)
	n2 := new(big.Int).Mul(n, n)

	pMinus := new(big.Int).Sub(p, one)
	qMinus := new(big.Int).Sub(q, one)

	// lambda = lcm(p-1, q-1)
	gcd := new(big.Int).GCD(nil, nil, pMinus, qMinus)
	lambda := new(big.Int).Mul(pMinus, qMinus)
	lambda.Div(lambda, gcd)

	pub := &PublicKey{n: n, n2: n2}

	// mu = (L(g^lambda mod n²))⁻¹ mod n, with g = n+1
	g := new(big.Int).Add(n, one)
	u := new(big.Int).Exp(g, lambda, n2)
	mu := new(big.Int).ModInverse(lFunc(u, n), n)
	if mu == nil {
		return nil, fmt.Errorf("degenerate key: mu not invertible")
	}

	return &KeyPair{pub: pub, lambda: lambda, mu: mu}, nil
}

// Public returns the public half of the key pair.
func (k *KeyPair) Public() *PublicKey {
	return k.pub
}

// MaxPlaintextBytes returns the largest plaintext length encryptable under
// this key.
func (pk *PublicKey) MaxPlaintextBytes() int {
	return (pk.n.BitLen() - 1) / 8
}

// Encrypt encrypts plaintext bytes (interpreted big-endian) under the kind tag.
func (pk *PublicKey) Encrypt(kind envelope.Kind, plaintext []byte) (envelope.Ciphertext, error) {
	m := new(big.Int).SetBytes(plaintext)
	if m.Cmp(pk.n) >= 0 {
		return envelope.Ciphertext{}, fmt.Errorf("plaintext exceeds modulus: %d bytes", len(plaintext))
	}

	// c = (1 + n·m) · rⁿ mod n², using g = n+1
	c := new(big.Int).Mul(pk.n, m)
	c.Add(c, one)
	c.Mod(c, pk.n2)

	r, err := pk.randomUnit()
	if err != nil {
		return envelope.Ciphertext{}, err
	}

	rn := new(big.Int).Exp(r, pk.n, pk.n2)
	c.Mul(c, rn)
	c.Mod(c, pk.n2)

	return envelope.New(kind, c.Bytes()), nil
}

// EncryptZero returns a fresh encryption of zero tagged as a count.
func (pk *PublicKey) EncryptZero() (envelope.Ciphertext, error) {
	return pk.Encrypt(envelope.KindCount, nil)
}

// Add homomorphically adds two ciphertexts of the same kind.
// The ciphertext product is a ciphertext of the plaintext sum.
func (pk *PublicKey) Add(a, b envelope.Ciphertext) (envelope.Ciphertext, error) {
	if a.Kind() != b.Kind() {
		return envelope.Ciphertext{}, fmt.Errorf("kind mismatch: %q vs %q", a.Kind(), b.Kind())
	}

	ca, err := pk.ciphertextInt(a)
	if err != nil {
		return envelope.Ciphertext{}, err
	}

	cb, err := pk.ciphertextInt(b)
	if err != nil {
		return envelope.Ciphertext{}, err
	}

	sum := new(big.Int).Mul(ca, cb)
	sum.Mod(sum, pk.n2)

	return envelope.New(a.Kind(), sum.Bytes()), nil
}

// Decrypt recovers the plaintext bytes of a ciphertext.
func (k *KeyPair) Decrypt(ct envelope.Ciphertext) ([]byte, error) {
	c, err := k.pub.ciphertextInt(ct)
	if err != nil {
		return nil, err
	}

	// m = L(c^lambda mod n²) · mu mod n
	u := new(big.Int).Exp(c, k.lambda, k.pub.n2)
	m := lFunc(u, k.pub.n)
	m.Mul(m, k.mu)
	m.Mod(m, k.pub.n)

	return m.Bytes(), nil
}

// ciphertextInt parses and range-checks a ciphertext.
// Valid ciphertexts satisfy 0 < c < n² and gcd(c, n²) = 1.
func (pk *PublicKey) ciphertextInt(ct envelope.Ciphertext) (*big.Int, error) {
	if ct.IsZero() {
		return nil, fmt.Errorf("empty ciphertext")
	}

	c := new(big.Int).SetBytes(ct.Bytes())
	if c.Sign() <= 0 || c.Cmp(pk.n2) >= 0 {
		return nil, fmt.Errorf("ciphertext out of range")
	}

	gcd := new(big.Int).GCD(nil, nil, c, pk.n2)
	if gcd.Cmp(one) != 0 {
		return nil, fmt.Errorf("ciphertext not invertible mod n²")
	}

	return c, nil
}

// randomUnit samples r in [1, n) with gcd(r, n) = 1.
func (pk *PublicKey) randomUnit() (*big.Int, error) {
	for {
		r, err := rand.Int(rand.Reader, pk.n)
		if err != nil {
			return nil, fmt.Errorf("sample randomizer: %w", err)
		}

		if r.Sign() == 0 {
			continue
		}

		gcd := new(big.Int).GCD(nil, nil, r, pk.n)
		if gcd.Cmp(one) == 0 {
			return r, nil
		}
	}
}

// lFunc computes L(u) = (u - 1) / n.
func lFunc(u, n *big.Int) *big.Int {
	l := new(big.Int).Sub(u, one)
	return l.Div(l, n)
}

// publicKeyJSON is the wire form of a PublicKey.
type publicKeyJSON struct {
	N []byte `json:"n"`
}

// MarshalJSON implements json.Marshaler.
func (pk *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(publicKeyJSON{N: pk.n.Bytes()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var w publicKeyJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}

	n := new(big.Int).SetBytes(w.N)
	if n.Sign() <= 0 {
		return fmt.Errorf("invalid public key modulus")
	}

	pk.n = n
	pk.n2 = new(big.Int).Mul(n, n)

	return nil
}

// Uint64Bytes encodes a uint64 as the minimal big-endian plaintext.
func Uint64Bytes(v uint64) []byte {
	return new(big.Int).SetUint64(v).Bytes()
}

// BytesUint64 decodes a plaintext produced by Uint64Bytes.
func BytesUint64(b []byte) (uint64, error) {
	m := new(big.Int).SetBytes(b)
	if !m.IsUint64() {
		return 0, fmt.Errorf("plaintext does not fit uint64")
	}

	return m.Uint64(), nil
}
