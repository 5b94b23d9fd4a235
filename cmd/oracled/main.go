// Command oracled runs a standalone decryption oracle. It holds the Paillier
// key pair and the proof signing key; ledger nodes connect over QUIC and
// never see private key material.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
	"CipherLedger/internal/oraclenet"
)

// Config holds the oracle configuration.
type Config struct {
	// ListenAddr is the QUIC listen address.
	ListenAddr string

	// KeyBits is the Paillier modulus size.
	KeyBits int

	// Verbose enables debug logging.
	Verbose bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg := parseFlags()

	logger.Init(cfg.Verbose)

	engine, err := oracle.NewLocal(cfg.KeyBits)
	if err != nil {
		return fmt.Errorf("create engine:\n%w", err)
	}

	server, err := oraclenet.NewServer(engine)
	if err != nil {
		return fmt.Errorf("create server:\n%w", err)
	}

	if err := server.Start(cfg.ListenAddr); err != nil {
		return fmt.Errorf("start server:\n%w", err)
	}

	logger.Info("oracle started", "addr", server.Addr(), "keyBits", cfg.KeyBits)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return server.Close()
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen", ":9000", "QUIC listen address")
	flag.IntVar(&cfg.KeyBits, "key-bits", 2048, "Paillier key size")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return cfg
}
