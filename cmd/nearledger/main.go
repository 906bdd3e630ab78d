// Copyright 2025 The go-nearledger Authors
// This file is part of go-nearledger.
//
// go-nearledger is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-nearledger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-nearledger. If not, see <http://www.gnu.org/licenses/>.

// nearledger is a command-line NEAR client that keeps every private key on a
// Ledger hardware device.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/keyfold/go-nearledger/accounts/usbwallet"
	"github.com/keyfold/go-nearledger/types"
	"github.com/keyfold/go-nearledger/version"
	"github.com/keyfold/go-nearledger/wallet"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "nearledger" // Client identifier advertised in the version string

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: `NEAR network to talk to ("mainnet" or "testnet")`,
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "JSON-RPC endpoint URL, overrides --network",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory holding the signed-in account state",
	}
	ephemeralFlag = &cli.BoolFlag{
		Name:  "ephemeral",
		Usage: "Keep account state in memory, forgetting it on exit",
	}
	pathFlag = &cli.StringFlag{
		Name:  "path",
		Usage: "Derivation path of the device key slot (like \"44'/397'/0'/0'/1'\")",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug",
		Value: 2,
	}
	signerFlag = &cli.StringFlag{
		Name:  "signer",
		Usage: "Expected signer account, checked against the signed-in account",
	}
	messageFlag = &cli.StringFlag{
		Name:  "message",
		Usage: "Message text to sign",
	}
	recipientFlag = &cli.StringFlag{
		Name:  "recipient",
		Usage: "Intended consumer of the message signature",
	}
	nonceFlag = &cli.StringFlag{
		Name:  "nonce",
		Usage: "32-byte base64 challenge, generated randomly when omitted",
	}
)

// walletFlags are shared by every command that opens the wallet stack.
var walletFlags = []cli.Flag{
	configFileFlag,
	networkFlag,
	rpcFlag,
	dataDirFlag,
	ephemeralFlag,
	verbosityFlag,
}

var (
	signInCommand = &cli.Command{
		Action:    signIn,
		Name:      "sign-in",
		Usage:     "Associate a device key with a NEAR account",
		ArgsUsage: " ",
		Flags:     append([]cli.Flag{pathFlag}, walletFlags...),
		Description: `
Connects to a Ledger device, confirms the public key of the selected
derivation path on the device, asks for the account the key belongs to and
verifies on chain that the account holds it with full access. The verified
pair is persisted and used by every later command.`,
	}
	signOutCommand = &cli.Command{
		Action:    signOut,
		Name:      "sign-out",
		Usage:     "Disconnect the device and forget the signed-in account",
		ArgsUsage: " ",
		Flags:     walletFlags,
	}
	accountsCommand = &cli.Command{
		Action:    listAccounts,
		Name:      "accounts",
		Usage:     "Show the signed-in account",
		ArgsUsage: " ",
		Flags:     walletFlags,
	}
	sendCommand = &cli.Command{
		Action:    send,
		Name:      "send",
		Usage:     "Sign a transaction on the device and broadcast it",
		ArgsUsage: "<receiver> <actions>",
		Flags:     append([]cli.Flag{signerFlag}, walletFlags...),
		Description: `
Builds a transaction for the signed-in account, has the device sign it after
physical approval and submits it, waiting for execution.

<actions> is a JSON array of action descriptors, or @file to read one:

    nearledger send bob.near '[{"type":"Transfer","params":{"deposit":"1000000000000000000000000"}}]'
    nearledger send token.near @ft-transfer.json`,
	}
	signMessageCommand = &cli.Command{
		Action:    signMessage,
		Name:      "sign-message",
		Usage:     "Sign an off-chain message on the device",
		ArgsUsage: " ",
		Flags:     append([]cli.Flag{messageFlag, recipientFlag, nonceFlag}, walletFlags...),
		Description: `
Signs a message under the off-chain signing scheme. The signature proves key
ownership to the recipient without authorizing any transaction.`,
	}
	devicesCommand = &cli.Command{
		Action:    listDevices,
		Name:      "devices",
		Usage:     "List connected Ledger devices",
		ArgsUsage: " ",
		Flags:     []cli.Flag{verbosityFlag},
	}
	versionCommand = &cli.Command{
		Action:    printVersion,
		Name:      "version",
		Usage:     "Print version numbers",
		ArgsUsage: " ",
	}
)

var app = &cli.App{
	Name:      clientIdentifier,
	Usage:     "the NEAR hardware wallet command line interface",
	Version:   version.WithMeta,
	Copyright: "Copyright 2025 The go-nearledger Authors",
	Commands: []*cli.Command{
		signInCommand,
		signOutCommand,
		accountsCommand,
		sendCommand,
		signMessageCommand,
		devicesCommand,
		versionCommand,
	},
}

func init() {
	sort.Sort(cli.CommandsByName(app.Commands))
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signIn(ctx *cli.Context) error {
	w, cleanup, err := makeWallet(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	got, err := w.SignIn(ctx.Context, wallet.SignInParams{
		DerivationPath: ctx.String(pathFlag.Name),
	})
	if err != nil {
		return err
	}
	for _, account := range got {
		fmt.Printf("Signed in as %s\n  key:  %s\n  path: %s\n", account.AccountID, account.PublicKey, account.Path)
	}
	return nil
}

func signOut(ctx *cli.Context) error {
	w, cleanup, err := makeWallet(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := w.SignOut(ctx.Context)
	if err != nil {
		return err
	}
	if removed {
		fmt.Println("Signed out")
	} else {
		fmt.Println("No account was signed in")
	}
	return nil
}

func listAccounts(ctx *cli.Context) error {
	w, cleanup, err := makeWallet(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	got, err := w.GetAccounts(ctx.Context)
	if err != nil {
		return err
	}
	if len(got) == 0 {
		fmt.Println("No account signed in, run sign-in first")
		return nil
	}
	for _, account := range got {
		fmt.Printf("%s\n  key:  %s\n  path: %s\n", account.AccountID, account.PublicKey, account.Path)
	}
	return nil
}

func send(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: %s send <receiver> <actions>", clientIdentifier)
	}
	actions, err := readActions(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	w, cleanup, err := makeWallet(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	outcome, err := w.SignAndSendTransaction(ctx.Context, wallet.TransactionParams{
		SignerID:   ctx.String(signerFlag.Name),
		ReceiverID: ctx.Args().Get(0),
		Actions:    actions,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Transaction %s committed\n", outcome.Transaction.Hash)
	if len(outcome.Status) > 0 {
		fmt.Printf("  status: %s\n", outcome.Status)
	}
	return nil
}

// readActions parses the action descriptors from the argument, following an
// @ prefix to a file.
func readActions(arg string) ([]types.ActionDescriptor, error) {
	blob := []byte(arg)
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		blob = data
	}
	var actions []types.ActionDescriptor
	if err := json.Unmarshal(blob, &actions); err != nil {
		return nil, fmt.Errorf("invalid actions: %v", err)
	}
	return actions, nil
}

func signMessage(ctx *cli.Context) error {
	params := wallet.SignMessageParams{
		Message:   ctx.String(messageFlag.Name),
		Recipient: ctx.String(recipientFlag.Name),
	}
	if encoded := ctx.String(nonceFlag.Name); encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid nonce: %v", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("invalid nonce: got %d bytes, want 32", len(raw))
		}
		copy(params.Nonce[:], raw)
	} else if _, err := rand.Read(params.Nonce[:]); err != nil {
		return err
	}

	w, cleanup, err := makeWallet(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	signed, err := w.SignMessage(ctx.Context, params)
	if err != nil {
		return err
	}
	fmt.Printf("account:   %s\n", signed.AccountID)
	fmt.Printf("key:       %s\n", signed.PublicKey)
	fmt.Printf("nonce:     %s\n", base64.StdEncoding.EncodeToString(params.Nonce[:]))
	fmt.Printf("signature: %s\n", signed.Signature)
	return nil
}

func listDevices(ctx *cli.Context) error {
	hub, err := usbwallet.NewHub(makeLogger(ctx.Int(verbosityFlag.Name)))
	if err != nil {
		return err
	}
	devices, err := hub.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No Ledger devices found")
		return nil
	}
	for _, device := range devices {
		fmt.Printf("%s\t%s\t%s\n", device.Product, device.Transport, device.Path)
	}
	return nil
}

func printVersion(ctx *cli.Context) error {
	fmt.Println(clientIdentifier)
	fmt.Println("Version:", version.WithMeta)
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
