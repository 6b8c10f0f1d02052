// klinghsm-cli is a command-line client for a klinghsmd daemon.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingnet-hsm/config"
	"github.com/Klingon-tech/klingnet-hsm/internal/rpc"
	"github.com/Klingon-tech/klingnet-hsm/internal/rpcclient"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := fmt.Sprintf("http://127.0.0.1:%d", config.Default().RPC.Port)

	// Scan for --rpc before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "wallet":
		cmdWallet(client, cmdArgs)
	case "session":
		cmdSession(client, cmdArgs)
	case "key":
		cmdKey(client, cmdArgs)
	case "eth":
		cmdEth(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klinghsm-cli [--rpc <url>] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8745)

Commands:
  status                          Show slot and session status

  wallet generate --name <n> [--curve c] [--strategy none|bip39|slip39]
                  [--group-threshold t --group m/t ...] [--iter e]
                                  Generate a master seed
  wallet restore --name <n> [--curve c] --strategy bip39|slip39 [--mnemonic "..."]
                                  Restore a master seed (SLIP-39 shares are
                                  read from stdin, one per line)
  wallet derive --parent <slot> --index <i> [--hardened] [--chain-code]
                                  Derive one child node
  wallet derive-path --wallet <n> --path <m/...>
                                  Derive every node along a path
  wallet oversight --name <n> --curve <c> --pubkey <hex> --chaincode <hex> [--path m/...]
                                  Store a public-only wallet
  wallet address <slot>           Show the node address of a slot
  wallet slot --wallet <n> --path <m/...>
                                  Show the slot of a node address
  wallet list                     List wallets
  wallet slots --wallet <n>       List the slots of a wallet
  wallet delete --wallet <n>      Delete a wallet and all its slots

  session status                  Show the open and lost SLIP-39 sessions
  session cancel [<id>]           Cancel the open SLIP-39 session

  key generate --curve <c>        Generate a key pair
  key ephemeral --curve <c>       Generate the ephemeral key pair
  key invalidate                  Destroy the ephemeral key
  key foreign --curve <c> --pubkey <hex>
                                  Store a foreign public key
  key get <slot> [--foreign]      Show slot details
  key list [--foreign]            List allocated slots
  key remove <slot> [--foreign]   Free a slot
  key lock <slot> [--foreign]     Disable public key export
  key sign <slot> <digest> [--recoverable]
                                  Sign a 32-byte hex digest
  key verify <slot> <digest> <sig> [--foreign]
                                  Verify a signature
  key ecdh <slot> (--peer <hex> | --foreign-slot <n>)
                                  Compute a shared secret
  key entropy <n>                 Draw n random bytes

  eth accounts --wallet <n>       List Ethereum accounts
  eth add --wallet <n> [--count k]
                                  Derive more accounts
  eth sign --wallet <n> --address <0x..> --hash <hex>
                                  Sign a 32-byte hash
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.InfoResult
	if err := client.Call("hsm_getInfo", nil, &info); err != nil {
		fatal("hsm_getInfo: %v", err)
	}

	fmt.Printf("Version:  %s\n", info.Version)
	fmt.Printf("Slots:    %d\n", info.Slots)
	fmt.Printf("Foreign:  %d\n", info.ForeignSlots)
	fmt.Printf("Wallets:  %d\n", info.Wallets)
	if s := info.ActiveSession; s != nil {
		fmt.Printf("Session:  %s (%s %q since %s)\n", s.ID, s.Mode, s.WalletName, s.Started.Format("2006-01-02 15:04:05"))
	}
	if s := info.LostSession; s != nil {
		fmt.Printf("Lost:     %s (%s %q)\n", s.ID, s.Mode, s.WalletName)
	}
}

// ── wallet ──────────────────────────────────────────────────────────────

const walletUsage = "Usage: klinghsm-cli wallet <generate|restore|derive|derive-path|oversight|address|slot|list|slots|delete> [flags]"

func cmdWallet(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal(walletUsage)
	}

	switch args[0] {
	case "generate":
		cmdWalletGenerate(client, args[1:])
	case "restore":
		cmdWalletRestore(client, args[1:])
	case "derive":
		cmdWalletDerive(client, args[1:])
	case "derive-path":
		cmdWalletDerivePath(client, args[1:])
	case "oversight":
		cmdWalletOversight(client, args[1:])
	case "address":
		cmdWalletAddress(client, args[1:])
	case "slot":
		cmdWalletSlot(client, args[1:])
	case "list":
		cmdWalletList(client)
	case "slots":
		cmdWalletSlots(client, args[1:])
	case "delete":
		cmdWalletDelete(client, args[1:])
	default:
		fatal("Unknown wallet command: %s\n%s", args[0], walletUsage)
	}
}

// groupSpec is one --group flag value, "members/threshold".
type groupSpec struct {
	members, threshold int
}

type groupFlags []groupSpec

func (g *groupFlags) String() string { return fmt.Sprint(*g) }

func (g *groupFlags) Set(v string) error {
	m, t, ok := strings.Cut(v, "/")
	if !ok {
		return fmt.Errorf("group %q: want members/threshold", v)
	}
	members, err := strconv.Atoi(m)
	if err != nil {
		return fmt.Errorf("group %q: %w", v, err)
	}
	threshold, err := strconv.Atoi(t)
	if err != nil {
		return fmt.Errorf("group %q: %w", v, err)
	}
	*g = append(*g, groupSpec{members: members, threshold: threshold})
	return nil
}

func cmdWalletGenerate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet generate", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	curve := fs.String("curve", config.Default().Wallet.Curve, "Curve (secp256k1, nistp256, ed25519)")
	strategy := fs.String("strategy", "bip39", "Backup strategy (none, bip39, slip39)")
	groupThreshold := fs.Int("group-threshold", 1, "SLIP-39 groups needed to restore")
	iter := fs.Int("iter", config.Default().Wallet.IterationExponent, "SLIP-39 iteration exponent")
	var groups groupFlags
	fs.Var(&groups, "group", "SLIP-39 group as members/threshold (repeatable)")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klinghsm-cli wallet generate --name <name> [flags]")
	}

	param := rpc.WalletGenerateParam{Curve: *curve, WalletName: *name}
	var passphrase string
	switch *strategy {
	case "none":
	case "bip39":
		passphrase = readPassphrase()
		param.Strategy = &rpc.StrategyParam{Type: "bip39", Passphrase: passphrase}
	case "slip39":
		if len(groups) == 0 {
			fatal("slip39 needs at least one --group members/threshold")
		}
		passphrase = readPassphrase()
		param.Strategy = &rpc.StrategyParam{
			Type:              "slip39",
			Passphrase:        passphrase,
			GroupCount:        len(groups),
			GroupThreshold:    *groupThreshold,
			IterationExponent: *iter,
		}
	default:
		fatal("unknown strategy %q", *strategy)
	}

	var res rpc.GenerateResult
	if err := client.Call("wallet_generate", param, &res); err != nil {
		fatal("wallet_generate: %v", err)
	}
	if res.SessionID == "" {
		if res.Mnemonic != "" {
			fmt.Println("Mnemonic (write this down!):")
			fmt.Printf("  %s\n\n", res.Mnemonic)
		}
		fmt.Printf("Wallet created: %s\n", *name)
		fmt.Printf("Master slot:    %d\n", res.Slot)
		return
	}

	slot := 0
	for gi, g := range groups {
		err := client.Call("slip39_setGroupInfo", rpc.GroupInfoParam{
			SessionID:       res.SessionID,
			GroupIndex:      gi,
			MemberCount:     g.members,
			MemberThreshold: g.threshold,
		}, nil)
		if err != nil {
			client.Call("slip39_cancel", rpc.SessionParam{SessionID: res.SessionID}, nil)
			fatal("slip39_setGroupInfo: %v", err)
		}
		fmt.Printf("Group %d (%d of %d):\n", gi+1, g.threshold, g.members)
		for mi := 0; mi < g.members; mi++ {
			var m rpc.MemberResult
			err := client.Call("slip39_addMember", rpc.AddMemberParam{SessionID: res.SessionID, Passphrase: passphrase}, &m)
			if err != nil {
				client.Call("slip39_cancel", rpc.SessionParam{SessionID: res.SessionID}, nil)
				fatal("slip39_addMember: %v", err)
			}
			fmt.Printf("  %d. %s\n", mi+1, m.Mnemonic)
			if m.Slot != 0 {
				slot = m.Slot
			}
		}
		fmt.Println()
	}
	fmt.Printf("Wallet created: %s\n", *name)
	fmt.Printf("Master slot:    %d\n", slot)
}

func cmdWalletRestore(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet restore", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	curve := fs.String("curve", config.Default().Wallet.Curve, "Curve (secp256k1, nistp256, ed25519)")
	strategy := fs.String("strategy", "bip39", "Backup strategy (bip39, slip39)")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klinghsm-cli wallet restore --name <name> --strategy <bip39|slip39> [--mnemonic \"...\"]")
	}
	if *strategy == "bip39" && *mnemonic == "" {
		fatal("bip39 restore needs --mnemonic")
	}

	passphrase := readPassphrase()
	var res rpc.RestoreResult
	err := client.Call("wallet_restore", rpc.WalletRestoreParam{
		Curve:      *curve,
		WalletName: *name,
		Strategy:   &rpc.StrategyParam{Type: *strategy, Passphrase: passphrase},
		Mnemonic:   *mnemonic,
	}, &res)
	if err != nil {
		fatal("wallet_restore: %v", err)
	}
	if res.SessionID == "" {
		fmt.Printf("Wallet restored: %s\n", *name)
		fmt.Printf("Master slot:     %d\n", res.Slot)
		return
	}

	fmt.Fprintln(os.Stderr, "Enter SLIP-39 shares, one per line:")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p rpc.ShareResult
		err := client.Call("slip39_addMnemonic", rpc.AddMnemonicParam{
			SessionID:  res.SessionID,
			Passphrase: passphrase,
			Mnemonic:   line,
		}, &p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Share rejected: %v\n", err)
			continue
		}
		if p.Done {
			fmt.Printf("Wallet restored: %s\n", *name)
			fmt.Printf("Master slot:     %d\n", p.Slot)
			return
		}
		fmt.Fprintf(os.Stderr, "Groups complete: %d of %d\n", p.GroupsComplete, p.GroupThreshold)
	}
	client.Call("slip39_cancel", rpc.SessionParam{SessionID: res.SessionID}, nil)
	fatal("input ended before enough shares were given")
}

func cmdWalletDerive(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet derive", flag.ExitOnError)
	parent := fs.Int("parent", 0, "Parent slot")
	index := fs.Uint("index", 0, "Child index")
	hardened := fs.Bool("hardened", false, "Hardened derivation")
	chainCode := fs.Bool("chain-code", false, "Return the child chain code (hardened only)")
	fs.Parse(args)

	var res rpc.DeriveResult
	err := client.Call("wallet_derive", rpc.DeriveParam{
		Parent:        *parent,
		Index:         uint32(*index),
		Hardened:      *hardened,
		WantChainCode: *chainCode,
	}, &res)
	if err != nil {
		fatal("wallet_derive: %v", err)
	}
	fmt.Printf("Slot:  %d\n", res.Slot)
	fmt.Printf("Node:  %s\n", res.NodeAddress)
	if res.ChainCode != "" {
		fmt.Printf("Chain: %s\n", res.ChainCode)
	}
}

func walletRef(fs *flag.FlagSet) (*string, *int) {
	return fs.String("wallet", "", "Wallet name"), fs.Int("master", 0, "Master slot (instead of --wallet)")
}

func cmdWalletDerivePath(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet derive-path", flag.ExitOnError)
	name, master := walletRef(fs)
	path := fs.String("path", "", "Node address (m/...)")
	fs.Parse(args)

	var res rpc.SlotResult
	err := client.Call("wallet_derivePath", rpc.NodeParam{
		WalletRefParam: rpc.WalletRefParam{WalletName: *name, MasterSlot: *master},
		NodeAddress:    *path,
	}, &res)
	if err != nil {
		fatal("wallet_derivePath: %v", err)
	}
	printSlot(res)
}

func cmdWalletOversight(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet oversight", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	curve := fs.String("curve", config.Default().Wallet.Curve, "Curve (secp256k1, nistp256)")
	pubkey := fs.String("pubkey", "", "Compressed public key (hex)")
	chainCode := fs.String("chaincode", "", "Chain code (hex)")
	path := fs.String("path", "m", "Node address of the key")
	fs.Parse(args)

	if *name == "" || *pubkey == "" || *chainCode == "" {
		fatal("Usage: klinghsm-cli wallet oversight --name <n> --pubkey <hex> --chaincode <hex> [--curve c] [--path m/...]")
	}

	var res rpc.SlotResult
	err := client.Call("wallet_oversight", rpc.OversightParam{
		Curve:       *curve,
		PublicKey:   *pubkey,
		ChainCode:   *chainCode,
		NodeAddress: *path,
		WalletName:  *name,
	}, &res)
	if err != nil {
		fatal("wallet_oversight: %v", err)
	}
	printSlot(res)
}

func cmdWalletAddress(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klinghsm-cli wallet address <slot>")
	}
	var res rpc.AddressResult
	if err := client.Call("wallet_addressOf", rpc.SlotParam{Slot: atoi(args[0])}, &res); err != nil {
		fatal("wallet_addressOf: %v", err)
	}
	fmt.Printf("Wallet: %s (master slot %d)\n", res.WalletName, res.MasterSlot)
	fmt.Printf("Node:   %s\n", res.NodeAddress)
}

func cmdWalletSlot(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet slot", flag.ExitOnError)
	name, master := walletRef(fs)
	path := fs.String("path", "", "Node address (m/...)")
	fs.Parse(args)

	var res rpc.SlotResult
	err := client.Call("wallet_slotOf", rpc.NodeParam{
		WalletRefParam: rpc.WalletRefParam{WalletName: *name, MasterSlot: *master},
		NodeAddress:    *path,
	}, &res)
	if err != nil {
		fatal("wallet_slotOf: %v", err)
	}
	printSlot(res)
}

func cmdWalletList(client *rpcclient.Client) {
	var res rpc.WalletListResult
	if err := client.Call("wallet_list", nil, &res); err != nil {
		fatal("wallet_list: %v", err)
	}
	if len(res.Wallets) == 0 {
		fmt.Println("No wallets.")
		return
	}
	for _, w := range res.Wallets {
		kind := ""
		if w.Oversight {
			kind = " oversight"
		}
		fmt.Printf("%-20s slot %-4d %-10s %s%s (%d slots)\n", w.Name, w.MasterSlot, w.Curve, w.NodeAddress, kind, w.Slots)
	}
}

func cmdWalletSlots(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet slots", flag.ExitOnError)
	name, master := walletRef(fs)
	fs.Parse(args)

	var res rpc.SlotListResult
	err := client.Call("wallet_slots", rpc.WalletRefParam{WalletName: *name, MasterSlot: *master}, &res)
	if err != nil {
		fatal("wallet_slots: %v", err)
	}
	for _, id := range res.Slots {
		var addr rpc.AddressResult
		if err := client.Call("wallet_addressOf", rpc.SlotParam{Slot: id}, &addr); err != nil {
			fatal("wallet_addressOf: %v", err)
		}
		fmt.Printf("%4d  %s\n", id, addr.NodeAddress)
	}
}

func cmdWalletDelete(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet delete", flag.ExitOnError)
	name, master := walletRef(fs)
	fs.Parse(args)

	err := client.Call("wallet_delete", rpc.WalletRefParam{WalletName: *name, MasterSlot: *master}, nil)
	if err != nil {
		fatal("wallet_delete: %v", err)
	}
	fmt.Println("Wallet deleted.")
}

// ── session ─────────────────────────────────────────────────────────────

func cmdSession(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klinghsm-cli session <status|cancel> [id]")
	}
	switch args[0] {
	case "status":
		var res rpc.SessionStatusResult
		if err := client.Call("slip39_status", nil, &res); err != nil {
			fatal("slip39_status: %v", err)
		}
		printJSON(res)
	case "cancel":
		var p rpc.SessionParam
		if len(args) > 1 {
			p.SessionID = args[1]
		}
		if err := client.Call("slip39_cancel", p, nil); err != nil {
			fatal("slip39_cancel: %v", err)
		}
		fmt.Println("Session cancelled.")
	default:
		fatal("Unknown session command: %s", args[0])
	}
}

// ── key ─────────────────────────────────────────────────────────────────

func cmdKey(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klinghsm-cli key <generate|ephemeral|invalidate|foreign|get|list|remove|lock|sign|verify|ecdh|entropy> [args]")
	}

	fs := flag.NewFlagSet("key "+args[0], flag.ExitOnError)
	curve := fs.String("curve", config.Default().Wallet.Curve, "Curve")
	pubkey := fs.String("pubkey", "", "Public key (hex)")
	foreign := fs.Bool("foreign", false, "Address the foreign slot table")
	recoverable := fs.Bool("recoverable", false, "Produce [R || S || V]")
	peer := fs.String("peer", "", "Peer public key (hex)")
	foreignSlot := fs.Int("foreign-slot", -1, "Peer foreign slot")
	fs.Parse(args[1:])
	pos := fs.Args()

	switch args[0] {
	case "generate", "ephemeral":
		method := "key_generate"
		if args[0] == "ephemeral" {
			method = "key_generateEphemeral"
		}
		var res rpc.SlotResult
		if err := client.Call(method, rpc.CurveParam{Curve: *curve}, &res); err != nil {
			fatal("%s: %v", method, err)
		}
		printSlot(res)
	case "invalidate":
		if err := client.Call("key_invalidateEphemeral", nil, nil); err != nil {
			fatal("key_invalidateEphemeral: %v", err)
		}
		fmt.Println("Ephemeral key destroyed.")
	case "foreign":
		var res rpc.SlotResult
		if err := client.Call("key_storeForeign", rpc.ForeignKeyParam{Curve: *curve, PublicKey: *pubkey}, &res); err != nil {
			fatal("key_storeForeign: %v", err)
		}
		printSlot(res)
	case "get":
		need(pos, 1, "key get <slot> [--foreign]")
		var res rpc.SlotInfoResult
		if err := client.Call("key_get", rpc.SlotParam{Slot: atoi(pos[0]), Foreign: *foreign}, &res); err != nil {
			fatal("key_get: %v", err)
		}
		printJSON(res)
	case "list":
		var res rpc.SlotListResult
		if err := client.Call("key_list", rpc.ListParam{Foreign: *foreign}, &res); err != nil {
			fatal("key_list: %v", err)
		}
		for _, id := range res.Slots {
			fmt.Println(id)
		}
	case "remove", "lock":
		need(pos, 1, "key "+args[0]+" <slot> [--foreign]")
		method := "key_remove"
		if args[0] == "lock" {
			method = "key_disableExport"
		}
		if err := client.Call(method, rpc.SlotParam{Slot: atoi(pos[0]), Foreign: *foreign}, nil); err != nil {
			fatal("%s: %v", method, err)
		}
		fmt.Println("OK")
	case "sign":
		need(pos, 2, "key sign <slot> <digest> [--recoverable]")
		method := "key_sign"
		if *recoverable {
			method = "key_signRecoverable"
		}
		var res rpc.SignatureResult
		if err := client.Call(method, rpc.SignParam{Slot: atoi(pos[0]), Digest: pos[1]}, &res); err != nil {
			fatal("%s: %v", method, err)
		}
		fmt.Println(res.Signature)
	case "verify":
		need(pos, 3, "key verify <slot> <digest> <signature> [--foreign]")
		var res rpc.VerifyResult
		err := client.Call("key_verify", rpc.VerifyParam{
			Slot:      atoi(pos[0]),
			Foreign:   *foreign,
			Digest:    pos[1],
			Signature: pos[2],
		}, &res)
		if err != nil {
			fatal("key_verify: %v", err)
		}
		fmt.Println(res.Valid)
	case "ecdh":
		need(pos, 1, "key ecdh <slot> (--peer <hex> | --foreign-slot <n>)")
		p := rpc.ECDHParam{Slot: atoi(pos[0]), PeerPublicKey: *peer}
		if *foreignSlot >= 0 {
			p.ForeignSlot = foreignSlot
		}
		var res rpc.BytesResult
		if err := client.Call("key_ecdh", p, &res); err != nil {
			fatal("key_ecdh: %v", err)
		}
		fmt.Println(res.Data)
	case "entropy":
		need(pos, 1, "key entropy <n>")
		var res rpc.BytesResult
		if err := client.Call("key_entropy", rpc.EntropyParam{Length: atoi(pos[0])}, &res); err != nil {
			fatal("key_entropy: %v", err)
		}
		fmt.Println(res.Data)
	default:
		fatal("Unknown key command: %s", args[0])
	}
}

// ── eth ─────────────────────────────────────────────────────────────────

func cmdEth(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klinghsm-cli eth <accounts|add|sign> --wallet <n> [flags]")
	}

	fs := flag.NewFlagSet("eth "+args[0], flag.ExitOnError)
	name, master := walletRef(fs)
	count := fs.Int("count", 1, "Accounts to add")
	address := fs.String("address", "", "Account address")
	hash := fs.String("hash", "", "32-byte hash (hex)")
	fs.Parse(args[1:])
	ref := rpc.WalletRefParam{WalletName: *name, MasterSlot: *master}

	switch args[0] {
	case "accounts", "add":
		method := "eth_accounts"
		if args[0] == "add" {
			method = "eth_addAccounts"
		}
		var res rpc.EthAccountsResult
		if err := client.Call(method, rpc.EthAccountsParam{WalletRefParam: ref, Count: *count}, &res); err != nil {
			fatal("%s: %v", method, err)
		}
		for _, a := range res.Accounts {
			fmt.Println(a)
		}
	case "sign":
		var res rpc.SignatureResult
		err := client.Call("eth_signHash", rpc.EthSignParam{WalletRefParam: ref, Address: *address, Hash: *hash}, &res)
		if err != nil {
			fatal("eth_signHash: %v", err)
		}
		fmt.Println(res.Signature)
	default:
		fatal("Unknown eth command: %s", args[0])
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func printSlot(res rpc.SlotResult) {
	fmt.Printf("Slot:   %d\n", res.Slot)
	if res.PublicKey != "" {
		fmt.Printf("Pubkey: %s\n", res.PublicKey)
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		fatal("invalid number %q", s)
	}
	return n
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fatal("Usage: klinghsm-cli %s", usage)
	}
}

// ── Passphrase helper ───────────────────────────────────────────────────

// readPassphrase prompts twice for a backup passphrase. An empty
// passphrase is allowed.
func readPassphrase() string {
	pass, err := readPassword("Backup passphrase (empty for none): ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	confirm, err := readPassword("Confirm passphrase: ")
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	if string(pass) != string(confirm) {
		fatal("passphrases do not match")
	}
	return string(pass)
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
