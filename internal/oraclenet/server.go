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

	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
)

// Server exposes a local encryption engine over QUIC. Decryption callbacks
// are routed back to the connection that issued the request, each on its own
// unidirectional stream.
type Server struct {
	engine     *oracle.Local
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	mu     sync.Mutex
	routes map[oracle.Token]*quic.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server around engine with a fresh ephemeral identity.
// The server registers itself as the engine's callback handler.
func NewServer(engine *oracle.Local) (*Server, error) {
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
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // Trust is carried by decryption proofs, not the transport
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		engine:     engine,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		routes:     make(map[oracle.Token]*quic.Conn),
		ctx:        ctx,
		cancel:     cancel,
	}

	engine.SetHandler(s)

	return s, nil
}

// Start begins listening on addr and accepting connections.
func (s *Server) Start(addr string) error {
	listener, err := quic.ListenAddr(addr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("oracle server listening", "addr", listener.Addr().String())

	return nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Close stops the server, drains outstanding decryptions, and closes all
// connections.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.engine.WaitIdle()
	s.wg.Wait()

	return nil
}

// HandleDecryption routes a decryption result to the connection that
// requested it. Results for unknown tokens are dropped; the requester is gone.
func (s *Server) HandleDecryption(token oracle.Token, cleartexts [][]byte, proof []byte) {
	s.mu.Lock()
	conn, ok := s.routes[token]
	delete(s.routes, token)
	s.mu.Unlock()

	if !ok {
		logger.Warn("decryption result with no route", "token", token.String())
		return
	}

	data, err := json.Marshal(callback{
		Token:      token.String(),
		Cleartexts: cleartexts,
		Proof:      proof,
	})
	if err != nil {
		logger.Error("marshal callback", "token", token.String(), "error", err)
		return
	}

	stream, err := conn.OpenUniStreamSync(s.ctx)
	if err != nil {
		logger.Warn("open callback stream", "token", token.String(), "error", err)
		return
	}

	if err := writeMessage(stream, data); err != nil {
		logger.Warn("write callback", "token", token.String(), "error", err)
		stream.Close()
		return
	}

	stream.Close()
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves request streams for one connection.
func (s *Server) handleConn(conn *quic.Conn) {
	defer s.wg.Done()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return // Connection closed
		}

		go s.handleStream(conn, stream)
	}
}

// handleStream serves one request/response exchange.
func (s *Server) handleStream(conn *quic.Conn, stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.respond(stream, response{Error: "malformed request"})
		return
	}

	switch req.Op {
	case opHello:
		s.respond(stream, s.hello())
	case opDecrypt:
		s.respond(stream, s.decrypt(conn, req))
	default:
		s.respond(stream, response{Error: fmt.Sprintf("unknown op %q", req.Op)})
	}
}

// hello builds the key-material response.
func (s *Server) hello() response {
	key, err := json.Marshal(s.engine.Public())
	if err != nil {
		return response{Error: "marshal public key"}
	}

	return response{PaillierKey: key, ProofKey: s.engine.ProofPublicKey()}
}

// decrypt starts an asynchronous decryption and records where its callback
// must go. The route is bound under the lock before the engine's delivery
// goroutine can look it up.
func (s *Server) decrypt(conn *quic.Conn, req request) response {
	if len(req.Ciphertexts) == 0 {
		return response{Error: "no ciphertexts"}
	}

	s.mu.Lock()
	token, err := s.engine.RequestDecryption(req.Ciphertexts)
	if err == nil {
		s.routes[token] = conn
	}
	s.mu.Unlock()

	if err != nil {
		return response{Error: err.Error()}
	}

	return response{Token: token.String()}
}

// respond writes a response, best effort.
func (s *Server) respond(stream *quic.Stream, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	writeMessage(stream, data)
}
