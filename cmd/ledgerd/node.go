package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CipherLedger/internal/api"
	"CipherLedger/internal/ledger"
	"CipherLedger/internal/logger"
	"CipherLedger/internal/oracle"
	"CipherLedger/internal/oraclenet"
	"CipherLedger/internal/storage"
)

// dialTimeout bounds the connection to a remote oracle at startup.
const dialTimeout = 30 * time.Second

// Node is a running ledger node: storage, encryption engine, ledger core,
// and the HTTP API.
type Node struct {
	cfg     *Config
	storage *storage.Store
	local   *oracle.Local     // local is set when running the in-process engine
	remote  *oraclenet.Client // remote is set when using an external oracle
	ledger  *ledger.Ledger
	api     *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initLedger(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage opens the persistent store.
func (n *Node) initStorage() error {
	store, err := storage.Open(n.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = store

	return nil
}

// initEngine starts the encryption engine: remote when an oracle address is
// configured, in-process otherwise.
func (n *Node) initEngine() error {
	if n.cfg.OracleAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		client, err := oraclenet.Dial(ctx, n.cfg.OracleAddr)
		if err != nil {
			return fmt.Errorf("connect to oracle:\n%w", err)
		}

		n.remote = client

		logger.Info("using remote oracle", "addr", n.cfg.OracleAddr)

		return nil
	}

	local, err := oracle.NewLocal(n.cfg.KeyBits)
	if err != nil {
		return fmt.Errorf("create engine:\n%w", err)
	}

	n.local = local

	logger.Info("using in-process oracle", "keyBits", n.cfg.KeyBits)

	return nil
}

// initLedger builds the ledger core and registers it for decryption
// callbacks.
func (n *Node) initLedger() error {
	ld, err := ledger.New(n.storage, n.engine(), ledger.Config{Mode: ledger.Mode(n.cfg.Mode)})
	if err != nil {
		return fmt.Errorf("create ledger:\n%w", err)
	}

	n.ledger = ld

	if n.remote != nil {
		n.remote.SetHandler(ld)
	} else {
		n.local.SetHandler(ld)
	}

	return nil
}

// engine returns the active encryption engine.
func (n *Node) engine() oracle.Engine {
	if n.remote != nil {
		return n.remote
	}

	return n.local
}

// keys returns the active key provider for the API.
func (n *Node) keys() api.KeyProvider {
	if n.remote != nil {
		return n.remote
	}

	return n.local
}

// Run starts the HTTP API and blocks until shutdown.
func (n *Node) Run() error {
	n.api = api.New(n.cfg.HTTPAddress, n.ledger, n.keys())
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts the node down in dependency order.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.local != nil {
		n.local.WaitIdle()
	}

	if n.remote != nil {
		n.remote.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
