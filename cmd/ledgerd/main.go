package main

import (
	"fmt"
	"os"

	"CipherLedger/internal/logger"
)

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

	if err := cfg.validate(); err != nil {
		return err
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	logger.Info("starting ledger node",
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"mode", cfg.Mode,
		"oracle", cfg.OracleAddr,
	)

	return node.Run()
}
