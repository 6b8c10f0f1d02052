// Klingnet HSM key-management daemon.
//
// Usage:
//
//	klinghsmd [--datadir=...] [--passphrase-file=...]  Run daemon
//	klinghsmd --help                                   Show help
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-hsm/config"
	"github.com/Klingon-tech/klingnet-hsm/internal/node"
	"golang.org/x/term"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	passphrase, err := storePassphrase(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

// storePassphrase resolves the store passphrase, prompting on a terminal
// when neither a file nor the environment provides one.
func storePassphrase(cfg *config.Config) ([]byte, error) {
	pass, err := node.ResolvePassphrase(cfg)
	if !errors.Is(err, node.ErrNoPassphrase) {
		return pass, err
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return nil, err
	}
	fmt.Fprint(os.Stderr, "Store passphrase: ")
	pass, err = term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, errors.New("empty store passphrase")
	}
	return pass, nil
}
