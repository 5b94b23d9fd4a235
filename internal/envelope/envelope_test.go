package envelope

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewCopiesData(t *testing.T) {
	raw := []byte{1, 2, 3}
	ct := New(KindPayload, raw)

	raw[0] = 99

	if got := ct.Bytes(); got[0] != 1 {
		t.Errorf("envelope shares memory with caller: got %v", got)
	}
}

func TestBytesReturnsCopy(t *testing.T) {
	ct := New(KindLabel, []byte{4, 5, 6})

	b := ct.Bytes()
	b[0] = 99

	if got := ct.Bytes(); got[0] != 4 {
		t.Errorf("Bytes leaked internal buffer: got %v", got)
	}
}

func TestIsZero(t *testing.T) {
	var empty Ciphertext
	if !empty.IsZero() {
		t.Error("zero-value envelope should report IsZero")
	}

	if New(KindCount, []byte{1}).IsZero() {
		t.Error("non-empty envelope reported IsZero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ct := New(KindCount, []byte("opaque-bytes"))

	data, err := json.Marshal(ct)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back Ciphertext
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if back.Kind() != KindCount {
		t.Errorf("kind = %q, want %q", back.Kind(), KindCount)
	}

	if !bytes.Equal(back.Bytes(), ct.Bytes()) {
		t.Errorf("payload mismatch after round trip")
	}
}

func TestRetag(t *testing.T) {
	ct := New(KindPayload, []byte{7, 8})
	re := ct.Retag(KindCount)

	if re.Kind() != KindCount {
		t.Errorf("kind = %q, want %q", re.Kind(), KindCount)
	}

	if !bytes.Equal(re.Bytes(), ct.Bytes()) {
		t.Error("Retag changed payload bytes")
	}
}
