package envelope

import (
	"encoding/json"
	"fmt"
)

// Kind tags what a ciphertext encrypts. The tag travels with the payload so
// the decryption oracle and the aggregation path can refuse mismatched
// operands without ever inspecting plaintext.
type Kind string

const (
	// KindPayload is an encrypted submission value.
	KindPayload Kind = "payload"

	// KindLabel is an encrypted category label.
	KindLabel Kind = "label"

	// KindCount is an encrypted running counter or sum.
	KindCount Kind = "count"
)

// Ciphertext is an opaque encrypted value. The payload bytes are never
// interpreted by the ledger core; the only operations that combine or open
// ciphertexts live in the encryption engine. Ciphertext deliberately exposes
// no arithmetic or comparison.
type Ciphertext struct {
	kind Kind
	data []byte
}

// New wraps raw encrypted bytes with a kind tag.
// The bytes are copied so the caller cannot mutate the envelope afterwards.
func New(kind Kind, data []byte) Ciphertext {
	buf := make([]byte, len(data))
	copy(buf, data)

	return Ciphertext{kind: kind, data: buf}
}

// Kind returns the kind tag.
func (c Ciphertext) Kind() Kind {
	return c.kind
}

// Bytes returns a copy of the encrypted payload.
func (c Ciphertext) Bytes() []byte {
	buf := make([]byte, len(c.data))
	copy(buf, c.data)
	return buf
}

// IsZero reports whether the envelope is empty (no payload stored).
func (c Ciphertext) IsZero() bool {
	return len(c.data) == 0
}

// envelopeJSON is the persistence form of a Ciphertext.
type envelopeJSON struct {
	Kind Kind   `json:"kind"`
	Data []byte `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (c Ciphertext) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{Kind: c.kind, Data: c.data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Ciphertext) UnmarshalJSON(data []byte) error {
	var e envelopeJSON
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}

	c.kind = e.Kind
	c.data = e.Data

	return nil
}

// Retag returns a copy of the ciphertext with a different kind tag.
// Used when a payload ciphertext becomes a bucket contribution.
func (c Ciphertext) Retag(kind Kind) Ciphertext {
	return Ciphertext{kind: kind, data: c.data}
}
