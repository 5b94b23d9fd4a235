package main

import (
	"flag"
	"fmt"

	"CipherLedger/internal/ledger"
)

// Config holds the ledger node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// OracleAddr is the address of a remote oracle server. Empty runs an
	// in-process engine instead.
	OracleAddr string

	// KeyBits is the Paillier modulus size for the in-process engine.
	KeyBits int

	// Mode selects count or sum aggregation.
	Mode string

	// Verbose enables debug logging.
	Verbose bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.OracleAddr, "oracle", "", "Remote oracle address (empty runs in-process)")
	flag.IntVar(&cfg.KeyBits, "key-bits", 2048, "Paillier key size for the in-process engine")
	flag.StringVar(&cfg.Mode, "mode", "count", "Aggregation mode: count or sum")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return cfg
}

// validate rejects unusable configurations before any state is touched.
func (cfg *Config) validate() error {
	if cfg.DataPath == "" {
		return fmt.Errorf("data path is required")
	}

	mode := ledger.Mode(cfg.Mode)
	if mode != ledger.ModeCount && mode != ledger.ModeSum {
		return fmt.Errorf("unknown mode %q: want count or sum", cfg.Mode)
	}

	return nil
}
