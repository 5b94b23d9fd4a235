package oraclenet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
)

// defaultRequestTimeout bounds one request/response exchange.
const defaultRequestTimeout = 30 * time.Second

// Client is the remote encryption engine. Encryption and homomorphic addition
// run locally against the server's Paillier public key; only decryption
// crosses the wire. Client implements oracle.Engine.
type Client struct {
	conn     *quic.Conn
	pub      *oracle.PublicKey
	proofKey []byte

	mu      sync.RWMutex
	handler oracle.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to an oracle server and fetches its key material.
func Dial(ctx context.Context, addr string) (*Client, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}

	cert, err := generateCertificate(priv)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // Trust is carried by decryption proofs, not the transport
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial oracle: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())

	c := &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}

	if err := c.fetchKeys(ctx); err != nil {
		cancel()
		conn.CloseWithError(1, "hello failed")
		return nil, err
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// SetHandler registers the callback target for decryption results.
func (c *Client) SetHandler(h oracle.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Public returns the server's Paillier public key.
func (c *Client) Public() *oracle.PublicKey {
	return c.pub
}

// ProofPublicKey returns the server's proof verification key.
func (c *Client) ProofPublicKey() []byte {
	return c.proofKey
}

// Close shuts the client down.
func (c *Client) Close() error {
	c.cancel()
	c.conn.CloseWithError(0, "closed")
	c.wg.Wait()

	return nil
}

// EncryptZero returns a fresh encryption of zero.
func (c *Client) EncryptZero() (envelope.Ciphertext, error) {
	return c.pub.EncryptZero()
}

// Encrypt encrypts plaintext bytes under the kind tag.
func (c *Client) Encrypt(kind envelope.Kind, plaintext []byte) (envelope.Ciphertext, error) {
	return c.pub.Encrypt(kind, plaintext)
}

// Add homomorphically adds two ciphertexts.
func (c *Client) Add(a, b envelope.Ciphertext) (envelope.Ciphertext, error) {
	return c.pub.Add(a, b)
}

// RequestDecryption forwards a decryption request to the server and returns
// its token. The result arrives later on a unidirectional stream and is
// passed to the registered handler.
func (c *Client) RequestDecryption(cts []envelope.Ciphertext) (oracle.Token, error) {
	resp, err := c.request(c.ctx, request{Op: opDecrypt, Ciphertexts: cts})
	if err != nil {
		return oracle.Token{}, err
	}

	token, err := oracle.ParseToken(resp.Token)
	if err != nil {
		return oracle.Token{}, fmt.Errorf("server returned bad token: %w", err)
	}

	return token, nil
}

// VerifyProof checks a decryption proof against the server's proof key.
func (c *Client) VerifyProof(token oracle.Token, cleartexts [][]byte, proof []byte) bool {
	return oracle.VerifyProofSignature(proof, token, cleartexts, c.proofKey)
}

// fetchKeys performs the hello exchange and stores the server's key material.
func (c *Client) fetchKeys(ctx context.Context) error {
	resp, err := c.request(ctx, request{Op: opHello})
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	pub := new(oracle.PublicKey)
	if err := json.Unmarshal(resp.PaillierKey, pub); err != nil {
		return fmt.Errorf("decode paillier key: %w", err)
	}

	if len(resp.ProofKey) == 0 {
		return fmt.Errorf("server sent no proof key")
	}

	c.pub = pub
	c.proofKey = resp.ProofKey

	return nil
}

// request runs one request/response exchange on a fresh bidirectional stream.
func (c *Client) request(ctx context.Context, req request) (*response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	raw, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("oracle: %s", resp.Error)
	}

	return &resp, nil
}

// receiveLoop accepts callback streams and dispatches decryption results.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		stream, err := c.conn.AcceptUniStream(c.ctx)
		if err != nil {
			return // Connection closed
		}

		go c.handleCallback(stream)
	}
}

// handleCallback reads one decryption result and hands it to the handler.
func (c *Client) handleCallback(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("callback read error", "error", err)
		return
	}

	var cb callback
	if err := json.Unmarshal(data, &cb); err != nil {
		logger.Warn("malformed callback", "error", err)
		return
	}

	token, err := oracle.ParseToken(cb.Token)
	if err != nil {
		logger.Warn("callback with bad token", "error", err)
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		logger.Warn("callback with no handler registered", "token", token.String())
		return
	}

	handler.HandleDecryption(token, cb.Cleartexts, cb.Proof)
}
