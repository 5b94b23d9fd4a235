// Package client talks to a ledger node over HTTP. Submissions are encrypted
// locally against the node's published key material, so plaintext never
// leaves the caller except through the node's own reveal protocol.
package client

import (
	"fmt"
	"net/url"
	"time"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/ledger"
	"CipherLedger/internal/oracle"
)

// defaultPollInterval is the delay between polls while waiting for a reveal.
const defaultPollInterval = 50 * time.Millisecond

// Client connects to a ledger node via HTTP.
type Client struct {
	nodeAddr string            // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	pub      *oracle.PublicKey // pub is the node's Paillier public key
	proofKey []byte            // proofKey is the node's proof verification key
}

// NewClient creates a client connected to a node. It fetches the node's key
// material from the /key endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	var resp struct {
		PaillierKey *oracle.PublicKey `json:"paillierKey"`
		ProofKey    []byte            `json:"proofKey"`
	}

	if err := httpGet("http://"+nodeAddr+"/key", &resp); err != nil {
		return nil, fmt.Errorf("get key material:\n%w", err)
	}

	if resp.PaillierKey == nil || len(resp.ProofKey) == 0 {
		return nil, fmt.Errorf("node returned incomplete key material")
	}

	return &Client{
		nodeAddr: nodeAddr,
		pub:      resp.PaillierKey,
		proofKey: resp.ProofKey,
	}, nil
}

// PublicKey returns the node's Paillier public key.
func (c *Client) PublicKey() *oracle.PublicKey {
	return c.pub
}

// Submit encrypts payload and category locally and stores them on the node.
// Returns the new submission id.
func (c *Client) Submit(owner, payload, category string) (uint64, error) {
	payloadCt, err := c.pub.Encrypt(envelope.KindPayload, []byte(payload))
	if err != nil {
		return 0, fmt.Errorf("encrypt payload:\n%w", err)
	}

	categoryCt, err := c.pub.Encrypt(envelope.KindLabel, []byte(category))
	if err != nil {
		return 0, fmt.Errorf("encrypt category:\n%w", err)
	}

	body := map[string]any{
		"owner":    owner,
		"payload":  payloadCt,
		"category": categoryCt,
	}

	var resp struct {
		ID uint64 `json:"id"`
	}

	if err := httpPostJSON("http://"+c.nodeAddr+"/submissions", body, &resp); err != nil {
		return 0, fmt.Errorf("submit:\n%w", err)
	}

	return resp.ID, nil
}

// Submission fetches a submission by id.
func (c *Client) Submission(id uint64) (*ledger.Submission, error) {
	var sub ledger.Submission

	endpoint := fmt.Sprintf("http://%s/submissions/%d", c.nodeAddr, id)
	if err := httpGet(endpoint, &sub); err != nil {
		return nil, fmt.Errorf("get submission:\n%w", err)
	}

	return &sub, nil
}

// RequestReveal asks the node to start decrypting a submission. The caller
// must be the submission's owner. Returns the request token.
func (c *Client) RequestReveal(caller string, id uint64) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}

	endpoint := fmt.Sprintf("http://%s/submissions/%d/reveal", c.nodeAddr, id)
	if err := httpPostJSON(endpoint, map[string]string{"caller": caller}, &resp); err != nil {
		return "", fmt.Errorf("request reveal:\n%w", err)
	}

	return resp.Token, nil
}

// WaitRevealed polls until the submission is revealed or the timeout expires.
func (c *Client) WaitRevealed(id uint64, timeout time.Duration) (*ledger.Submission, error) {
	deadline := time.Now().Add(timeout)

	for {
		sub, err := c.Submission(id)
		if err != nil {
			return nil, err
		}

		if sub.Revealed {
			return sub, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("submission %d not revealed after %s", id, timeout)
		}

		time.Sleep(defaultPollInterval)
	}
}

// BucketCount returns a bucket's last revealed count, or nil when the bucket
// has never been revealed.
func (c *Client) BucketCount(category string) (*ledger.RevealedCount, error) {
	var resp struct {
		Revealed *ledger.RevealedCount `json:"revealed"`
	}

	endpoint := fmt.Sprintf("http://%s/buckets/%s", c.nodeAddr, url.PathEscape(category))
	if err := httpGet(endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get bucket:\n%w", err)
	}

	return resp.Revealed, nil
}

// RequestBucketReveal asks the node to decrypt a bucket's running count.
// Returns the request token.
func (c *Client) RequestBucketReveal(category string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}

	endpoint := fmt.Sprintf("http://%s/buckets/%s/reveal", c.nodeAddr, url.PathEscape(category))
	if err := httpPostJSON(endpoint, nil, &resp); err != nil {
		return "", fmt.Errorf("request bucket reveal:\n%w", err)
	}

	return resp.Token, nil
}

// WaitBucketCount polls until the bucket has a revealed count or the timeout
// expires.
func (c *Client) WaitBucketCount(category string, timeout time.Duration) (*ledger.RevealedCount, error) {
	deadline := time.Now().Add(timeout)

	for {
		rc, err := c.BucketCount(category)
		if err != nil {
			return nil, err
		}

		if rc != nil {
			return rc, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bucket %q not revealed after %s", category, timeout)
		}

		time.Sleep(defaultPollInterval)
	}
}

// Attest records a participation proof for a submission.
func (c *Client) Attest(id uint64, participant string, proof []byte) (*ledger.AttestationRecord, error) {
	body := map[string]any{
		"participant": participant,
		"proof":       proof,
	}

	var rec ledger.AttestationRecord

	endpoint := fmt.Sprintf("http://%s/submissions/%d/attestations", c.nodeAddr, id)
	if err := httpPostJSON(endpoint, body, &rec); err != nil {
		return nil, fmt.Errorf("attest:\n%w", err)
	}

	return &rec, nil
}

// Attestations lists a submission's attestations in append order.
func (c *Client) Attestations(id uint64) ([]ledger.AttestationRecord, error) {
	var resp struct {
		Attestations []ledger.AttestationRecord `json:"attestations"`
	}

	endpoint := fmt.Sprintf("http://%s/submissions/%d/attestations", c.nodeAddr, id)
	if err := httpGet(endpoint, &resp); err != nil {
		return nil, fmt.Errorf("list attestations:\n%w", err)
	}

	return resp.Attestations, nil
}

// ClearRequest force-clears a stale decryption request slot.
func (c *Client) ClearRequest(kind ledger.RequestKind, key string) error {
	endpoint := fmt.Sprintf("http://%s/requests/%s/%s",
		c.nodeAddr, url.PathEscape(string(kind)), url.PathEscape(key))
	if err := httpDelete(endpoint); err != nil {
		return fmt.Errorf("clear request:\n%w", err)
	}

	return nil
}

// Status fetches the node's ledger status.
func (c *Client) Status() (*ledger.Status, error) {
	var status ledger.Status

	if err := httpGet("http://"+c.nodeAddr+"/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &status, nil
}

// Export downloads and verifies the node's audit export.
func (c *Client) Export() (*ledger.Export, error) {
	blob, err := httpGetRaw("http://" + c.nodeAddr + "/export")
	if err != nil {
		return nil, fmt.Errorf("get export:\n%w", err)
	}

	export, err := ledger.ReadExport(blob)
	if err != nil {
		return nil, fmt.Errorf("verify export:\n%w", err)
	}

	return export, nil
}
