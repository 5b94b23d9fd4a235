package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/oracle"
)

// fakeNode is a canned HTTP node for client tests. It publishes real Paillier
// key material and records what the client submits.
type fakeNode struct {
	key        *oracle.KeyPair
	proofKey   []byte
	submitted  []envelope.Ciphertext
	categories []string
	server     *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()

	key, err := oracle.GenerateKeyPair(512)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	n := &fakeNode{
		key:      key,
		proofKey: []byte("proof-key-bytes"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /key", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"paillierKey": key.Public(),
			"proofKey":    n.proofKey,
		})
	})

	mux.HandleFunc("POST /submissions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Owner    string              `json:"owner"`
			Payload  envelope.Ciphertext `json:"payload"`
			Category envelope.Ciphertext `json:"category"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n.submitted = append(n.submitted, req.Payload, req.Category)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]uint64{"id": 1})
	})

	mux.HandleFunc("GET /buckets/{category}", func(w http.ResponseWriter, r *http.Request) {
		n.categories = append(n.categories, r.PathValue("category"))
		json.NewEncoder(w).Encode(map[string]any{"revealed": nil})
	})

	n.server = httptest.NewServer(mux)
	t.Cleanup(n.server.Close)

	return n
}

func (n *fakeNode) addr() string {
	return strings.TrimPrefix(n.server.URL, "http://")
}

func TestNewClientFetchesKeys(t *testing.T) {
	node := newFakeNode(t)

	c, err := NewClient(node.addr())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if c.PublicKey() == nil {
		t.Fatal("client has no public key")
	}
}

func TestNewClientRejectsIncompleteKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	if _, err := NewClient(strings.TrimPrefix(server.URL, "http://")); err == nil {
		t.Fatal("client accepted incomplete key material")
	}
}

func TestSubmitEncryptsLocally(t *testing.T) {
	node := newFakeNode(t)

	c, err := NewClient(node.addr())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	id, err := c.Submit("alice", "42", "Financial")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}

	if len(node.submitted) != 2 {
		t.Fatalf("node received %d ciphertexts, want 2", len(node.submitted))
	}

	payload := node.submitted[0]
	category := node.submitted[1]

	if payload.Kind() != envelope.KindPayload {
		t.Fatalf("payload kind = %q", payload.Kind())
	}
	if category.Kind() != envelope.KindLabel {
		t.Fatalf("category kind = %q", category.Kind())
	}

	// What crossed the wire is ciphertext, not the plaintext values.
	if string(payload.Bytes()) == "42" || string(category.Bytes()) == "Financial" {
		t.Fatal("plaintext crossed the wire")
	}

	// The node's key opens both.
	plain, err := node.key.Decrypt(payload)
	if err != nil {
		t.Fatalf("decrypt payload: %v", err)
	}
	if string(plain) != "42" {
		t.Fatalf("payload = %q, want 42", plain)
	}

	plain, err = node.key.Decrypt(category)
	if err != nil {
		t.Fatalf("decrypt category: %v", err)
	}
	if string(plain) != "Financial" {
		t.Fatalf("category = %q, want Financial", plain)
	}
}

func TestBucketCategoryEscapedInPath(t *testing.T) {
	node := newFakeNode(t)

	c, err := NewClient(node.addr())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	// Categories with path metacharacters must survive the round trip
	// instead of splitting or misrouting the request.
	for _, category := range []string{"Out/Patient", "Mental Health", "A&E?"} {
		if _, err := c.BucketCount(category); err != nil {
			t.Fatalf("bucket count for %q: %v", category, err)
		}
	}

	want := []string{"Out/Patient", "Mental Health", "A&E?"}
	if len(node.categories) != len(want) {
		t.Fatalf("node saw %d categories, want %d", len(node.categories), len(want))
	}
	for i := range want {
		if node.categories[i] != want[i] {
			t.Fatalf("node saw category %q, want %q", node.categories[i], want[i])
		}
	}
}
