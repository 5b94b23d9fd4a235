package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// exportMagic identifies a ledger export blob. The version byte bumps when
// the wire layout changes.
var exportMagic = []byte{'C', 'L', 'X', 1}

// Export is the full audit snapshot of a ledger: every submission, every
// bucket record, and every attestation.
type Export struct {
	ExportedAt   time.Time           `json:"exportedAt"`
	Mode         Mode                `json:"mode"`
	Submissions  []Submission        `json:"submissions"`
	Buckets      []BucketRecord      `json:"buckets"`
	Attestations []AttestationRecord `json:"attestations"`
}

// WriteExport serializes the ledger state into a compressed, checksummed
// audit blob. Layout: magic, blake3 checksum of the compressed body, 4-byte
// body length, zstd-compressed JSON body.
func (l *Ledger) WriteExport() ([]byte, error) {
	subs := l.store.Each()

	export := Export{
		ExportedAt:  time.Now().UTC(),
		Mode:        l.agg.Mode(),
		Submissions: subs,
		Buckets:     l.agg.Snapshot(),
	}

	for _, sub := range subs {
		export.Attestations = append(export.Attestations, l.att.List(sub.ID)...)
	}

	body, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}

	compressed, err := compress(body)
	if err != nil {
		return nil, fmt.Errorf("compress export: %w", err)
	}

	checksum := blake3.Sum256(compressed)

	out := make([]byte, 0, len(exportMagic)+len(checksum)+4+len(compressed))
	out = append(out, exportMagic...)
	out = append(out, checksum[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(compressed)))
	out = append(out, compressed...)

	return out, nil
}

// ReadExport parses and verifies an export blob produced by WriteExport.
func ReadExport(data []byte) (*Export, error) {
	headerLen := len(exportMagic) + 32 + 4
	if len(data) < headerLen {
		return nil, fmt.Errorf("export too short: %d bytes", len(data))
	}

	if !bytes.Equal(data[:len(exportMagic)], exportMagic) {
		return nil, fmt.Errorf("bad export magic")
	}

	checksum := data[len(exportMagic) : len(exportMagic)+32]
	bodyLen := binary.BigEndian.Uint32(data[len(exportMagic)+32 : headerLen])
	compressed := data[headerLen:]

	if uint32(len(compressed)) != bodyLen {
		return nil, fmt.Errorf("export body length mismatch: header says %d, have %d", bodyLen, len(compressed))
	}

	sum := blake3.Sum256(compressed)
	if !bytes.Equal(sum[:], checksum) {
		return nil, fmt.Errorf("export checksum mismatch")
	}

	body, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress export: %w", err)
	}

	var export Export
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("unmarshal export: %w", err)
	}

	return &export, nil
}

// compress zstd-compresses data.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
