package api

import (
	"fmt"

	"CipherLedger/internal/envelope"
)

const (
	// maxOwnerLength bounds the owner identifier.
	maxOwnerLength = 256

	// maxProofSize bounds an attestation proof blob.
	maxProofSize = 64 << 10 // 64 KB
)

// validateSubmit checks a submission request before it reaches the ledger.
func validateSubmit(req *submitRequest) error {
	if req.Owner == "" {
		return fmt.Errorf("owner is required")
	}

	if len(req.Owner) > maxOwnerLength {
		return fmt.Errorf("owner too long: %d > %d", len(req.Owner), maxOwnerLength)
	}

	if req.Payload.IsZero() {
		return fmt.Errorf("payload ciphertext is required")
	}

	if req.Payload.Kind() != envelope.KindPayload {
		return fmt.Errorf("payload has kind %q, want %q", req.Payload.Kind(), envelope.KindPayload)
	}

	if req.Category.IsZero() {
		return fmt.Errorf("category ciphertext is required")
	}

	if req.Category.Kind() != envelope.KindLabel {
		return fmt.Errorf("category has kind %q, want %q", req.Category.Kind(), envelope.KindLabel)
	}

	return nil
}

// validateAttestation checks an attestation request before it reaches the
// ledger. The proof blob stays opaque; only size and presence are checked.
func validateAttestation(req *attestationRequest) error {
	if req.Participant == "" {
		return fmt.Errorf("participant is required")
	}

	if len(req.Participant) > maxOwnerLength {
		return fmt.Errorf("participant too long: %d > %d", len(req.Participant), maxOwnerLength)
	}

	if len(req.Proof) == 0 {
		return fmt.Errorf("proof is required")
	}

	if len(req.Proof) > maxProofSize {
		return fmt.Errorf("proof too large: %d > %d", len(req.Proof), maxProofSize)
	}

	return nil
}
