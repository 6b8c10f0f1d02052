// derive_node.go prints the public key, chain code and key id of a wallet
// node computed offline from a BIP-39 mnemonic, for checking what
// klinghsmd derives.
// Usage: go run scripts/derive_node.go <curve> <path> < mnemonic.txt
// The BIP-39 passphrase is read from KLINGHSM_BIP39_PASSPHRASE.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-hsm/internal/hd"
	"github.com/Klingon-tech/klingnet-hsm/internal/mnemonic"
	"github.com/Klingon-tech/klingnet-hsm/internal/nodeaddr"
	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: derive_node <curve> <path> < mnemonic.txt")
		os.Exit(1)
	}
	curve, err := crypto.ParseCurve(os.Args[1])
	if err != nil {
		fail(err)
	}
	path, err := nodeaddr.Parse(os.Args[2])
	if err != nil {
		fail(err)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fail(err)
	}
	seed, err := mnemonic.Seed(strings.TrimSpace(line), os.Getenv("KLINGHSM_BIP39_PASSPHRASE"))
	if err != nil {
		fail(err)
	}
	defer crypto.Wipe(seed)

	master, err := hd.NewMaster(curve, seed, nil)
	if err != nil {
		fail(err)
	}
	defer master.Zero()
	node, err := master.DerivePath(path...)
	if err != nil {
		fail(err)
	}
	defer node.Zero()

	pub := node.PublicKey()
	fmt.Printf("node=%s\n", nodeaddr.Format(path))
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(pub))
	fmt.Printf("chaincode=%s\n", hex.EncodeToString(node.ChainCode()))
	fmt.Printf("keyid=%s\n", crypto.KeyID(curve, pub))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
