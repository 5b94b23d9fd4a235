// Package oraclenet runs the encryption engine out of process. The server
// wraps a local engine behind QUIC; the client implements the same engine
// interface over the wire, keeping encryption and homomorphic addition local
// to the fetched public key and forwarding only decryption requests.
package oraclenet

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"CipherLedger/internal/envelope"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "cipherledger-oracle/1"

	// maxMessageSize is the maximum allowed message size (16 MB).
	maxMessageSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// Request ops carried on bidirectional streams.
const (
	opHello   = "hello"
	opDecrypt = "decrypt"
)

// request is a client-to-server message on a bidirectional stream.
type request struct {
	Op          string                `json:"op"`
	Ciphertexts []envelope.Ciphertext `json:"ciphertexts,omitempty"`
}

// response answers a request. Error is set instead of the payload fields when
// the server rejected the request.
type response struct {
	Error       string          `json:"error,omitempty"`
	PaillierKey json.RawMessage `json:"paillierKey,omitempty"`
	ProofKey    []byte          `json:"proofKey,omitempty"`
	Token       string          `json:"token,omitempty"`
}

// callback is a server-to-client message on a unidirectional stream,
// delivering one decryption result.
type callback struct {
	Token      string   `json:"token"`
	Cleartexts [][]byte `json:"cleartexts"`
	Proof      []byte   `json:"proof"`
}

// writeMessage writes a length-prefixed message to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readMessage reads a length-prefixed message from the reader.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}
