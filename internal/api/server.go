// Package api exposes the ledger over HTTP. All request and response bodies
// are JSON; ciphertexts travel in their envelope form and are never opened
// here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"CipherLedger/internal/envelope"
	"CipherLedger/internal/ledger"
	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB
)

// KeyProvider exposes the engine's public key material so clients can
// encrypt submissions locally. Both the in-process engine and the remote
// client satisfy it.
type KeyProvider interface {
	Public() *oracle.PublicKey
	ProofPublicKey() []byte
}

// Server is the HTTP API server.
type Server struct {
	addr   string         // addr is the HTTP listen address
	ledger *ledger.Ledger // ledger is the confidential ledger core
	keys   KeyProvider    // keys provides encryption key material for clients
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, ld *ledger.Ledger, keys KeyProvider) *Server {
	return &Server{
		addr:   addr,
		ledger: ld,
		keys:   keys,
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// routes builds the request mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /submissions", s.handleSubmit)
	mux.HandleFunc("GET /submissions/{id}", s.handleGetSubmission)
	mux.HandleFunc("POST /submissions/{id}/reveal", s.handleSubmissionReveal)
	mux.HandleFunc("POST /submissions/{id}/attestations", s.handleAddAttestation)
	mux.HandleFunc("GET /submissions/{id}/attestations", s.handleListAttestations)
	mux.HandleFunc("GET /buckets/{category}", s.handleGetBucket)
	mux.HandleFunc("POST /buckets/{category}/reveal", s.handleBucketReveal)
	mux.HandleFunc("DELETE /requests/{kind}/{key}", s.handleClearRequest)
	mux.HandleFunc("GET /key", s.handleKey)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// submitRequest is the body of POST /submissions.
type submitRequest struct {
	Owner    string              `json:"owner"`
	Payload  envelope.Ciphertext `json:"payload"`
	Category envelope.Ciphertext `json:"category"`
}

// revealRequest is the body of POST /submissions/{id}/reveal.
type revealRequest struct {
	Caller string `json:"caller"`
}

// attestationRequest is the body of POST /submissions/{id}/attestations.
type attestationRequest struct {
	Participant string `json:"participant"`
	Proof       []byte `json:"proof"`
}

// handleSubmit handles POST /submissions.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := validateSubmit(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.ledger.Submit(req.Owner, req.Payload, req.Category)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// handleGetSubmission handles GET /submissions/{id}.
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	sub, err := s.ledger.GetSubmission(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// handleSubmissionReveal handles POST /submissions/{id}/reveal.
func (s *Server) handleSubmissionReveal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req revealRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.ledger.RequestSubmissionReveal(req.Caller, id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"token": token.String()})
}

// handleAddAttestation handles POST /submissions/{id}/attestations.
func (s *Server) handleAddAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req attestationRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := validateAttestation(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.ledger.RecordAttestation(id, req.Participant, req.Proof)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleListAttestations handles GET /submissions/{id}/attestations.
func (s *Server) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if _, err := s.ledger.GetSubmission(id); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	recs := s.ledger.ListAttestations(id)

	writeJSON(w, http.StatusOK, map[string]any{"attestations": recs})
}

// handleGetBucket handles GET /buckets/{category}.
func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")

	revealed, err := s.ledger.GetBucketCount(category)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"revealed": revealed,
	})
}

// handleBucketReveal handles POST /buckets/{category}/reveal.
func (s *Server) handleBucketReveal(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")

	token, err := s.ledger.RequestBucketReveal(category)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"token": token.String()})
}

// handleClearRequest handles DELETE /requests/{kind}/{key}. The kind path
// segment matches the request kinds used for reveals.
func (s *Server) handleClearRequest(w http.ResponseWriter, r *http.Request) {
	kind := ledger.RequestKind(r.PathValue("kind"))
	key := r.PathValue("key")

	if kind != ledger.KindSubmissionReveal && kind != ledger.KindBucketReveal {
		writeError(w, http.StatusBadRequest, "unknown request kind")
		return
	}

	if !s.ledger.ForceClearRequest(kind, key) {
		writeError(w, http.StatusNotFound, "no pending request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleKey handles GET /key. Clients encrypt against this key material.
func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key material not available")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paillierKey": s.keys.Public(),
		"proofKey":    s.keys.ProofPublicKey(),
	})
}

// handleExport handles GET /export, streaming the audit blob.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	blob, err := s.ledger.WriteExport()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Status())
}

// decode reads and unmarshals a JSON request body. On failure it writes the
// error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	return true
}

// pathID parses the {id} path segment. On failure it writes the error
// response and returns false.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return 0, false
	}

	return id, true
}

// writeLedgerError maps ledger sentinel errors to HTTP status codes.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrAlreadyRevealed),
		errors.Is(err, ledger.ErrAlreadyPending),
		errors.Is(err, ledger.ErrAlreadyFolded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
