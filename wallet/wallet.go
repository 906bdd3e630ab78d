// Copyright 2025 The go-nearledger Authors
// This file is part of the go-nearledger library.
//
// The go-nearledger library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-nearledger library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-nearledger library. If not, see <http://www.gnu.org/licenses/>.

// Package wallet orchestrates hardware wallet interactions: device sessions,
// user prompts, on-chain verification and transaction signing flows.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/accounts/usbwallet"
	"github.com/keyfold/go-nearledger/rpc"
	"github.com/keyfold/go-nearledger/storage"
	"go.uber.org/zap"
)

// Storage keys of the persisted session pair. The account entry is the
// commit point: sign-in writes the path first and the account last, sign-out
// removes the account first. A present account entry therefore always refers
// to a verified sign-in.
const (
	keyAccount = "hw-ledger:account"
	keyPath    = "hw-ledger:derivation-path"
)

// State describes where in its lifecycle the device session is.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected        // Transport open, wallet app not confirmed
	StateAppOpen          // Wallet app answering commands
	StateAwaitingApproval // Command held by the device for physical approval
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAppOpen:
		return "app-open"
	case StateAwaitingApproval:
		return "awaiting-approval"
	default:
		return fmt.Sprintf("state-%d", int(s))
	}
}

// Channel is the device command set the orchestrator drives. It is satisfied
// by *usbwallet.Ledger; tests substitute a fake that signs with a software
// key.
type Channel interface {
	Version() (usbwallet.AppVersion, error)
	OpenNEARApp(ctx context.Context) error
	PublicKey(path accounts.DerivationPath) (accounts.PublicKey, error)
	SignTransaction(path accounts.DerivationPath, tx []byte) ([]byte, error)
	SignMessage(path accounts.DerivationPath, payload []byte) ([]byte, error)
	OnDisconnect(fn func())
	Path() string
	Close() error
}

// Connector opens command channels to devices, gating new connections
// through a chooser.
type Connector interface {
	Connect(ctx context.Context, choose usbwallet.Chooser) (Channel, error)
}

// USBConnector is the production Connector, dressing hub devices up as NEAR
// command channels.
type USBConnector struct {
	hub *usbwallet.Hub
	log *zap.Logger
}

// NewUSBConnector wraps a device hub into a Connector.
func NewUSBConnector(hub *usbwallet.Hub, log *zap.Logger) *USBConnector {
	return &USBConnector{hub: hub, log: log}
}

func (c *USBConnector) Connect(ctx context.Context, choose usbwallet.Chooser) (Channel, error) {
	device, err := c.hub.Connect(ctx, choose)
	if err != nil {
		return nil, err
	}
	return usbwallet.NewLedger(device, c.log), nil
}

// NodeClient is the node RPC surface the orchestrator consumes, satisfied by
// *rpc.Client.
type NodeClient interface {
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*rpc.AccessKeyView, error)
	FinalBlockHash(ctx context.Context) ([32]byte, error)
	BroadcastTxCommit(ctx context.Context, signedTx string) (*rpc.TxOutcome, error)
}

// Config tunes a wallet. The zero value is usable: the default derivation
// path and a no-op logger.
type Config struct {
	// DerivationPath is the key slot used when sign-in params leave it unset.
	DerivationPath accounts.DerivationPath

	Log *zap.Logger
}

// Wallet drives one hardware wallet session end to end. It owns the only
// transport handle, runs one logical operation at a time and never reconnects
// behind the caller's back: every new connection passes the chooser gate.
type Wallet struct {
	connector Connector
	node      NodeClient
	store     storage.Store
	surface   Surface
	log       *zap.Logger

	defaultPath accounts.DerivationPath

	// opLock admits one logical operation at a time. Prompt flows block on
	// user input for arbitrarily long, so acquisition respects the context.
	opLock chan struct{}

	stateLock sync.RWMutex // Protects the session fields below
	state     State
	channel   Channel
	lastPath  string // Bus path of the last authorized device, reused silently
}

// New assembles a wallet from its capabilities: a device connector, a node
// client, a state store and the host's prompt surface.
func New(connector Connector, node NodeClient, store storage.Store, surface Surface, cfg Config) *Wallet {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	path := cfg.DerivationPath
	if len(path) == 0 {
		path = accounts.DefaultDerivationPath
	}
	w := &Wallet{
		connector:   connector,
		node:        node,
		store:       store,
		surface:     surface,
		log:         log,
		defaultPath: path,
		opLock:      make(chan struct{}, 1),
	}
	w.opLock <- struct{}{}
	return w
}

// State returns the current session state.
func (w *Wallet) State() State {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.state
}

func (w *Wallet) setState(s State) {
	w.stateLock.Lock()
	w.state = s
	w.stateLock.Unlock()
}

func (w *Wallet) currentChannel() Channel {
	w.stateLock.RLock()
	defer w.stateLock.RUnlock()
	return w.channel
}

// acquire takes the operation lock, bailing out if the context dies first.
func (w *Wallet) acquire(ctx context.Context) error {
	select {
	case <-w.opLock:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Wallet) release() {
	w.opLock <- struct{}{}
}

// ensureSession returns the open command channel, connecting and opening the
// wallet app first if no session is live.
func (w *Wallet) ensureSession(ctx context.Context) (Channel, error) {
	if ch := w.currentChannel(); ch != nil {
		return ch, nil
	}
	return w.connect(ctx)
}

// connect establishes a new device session: chooser-gated connect, disconnect
// watch, app launch. The chooser picks the remembered device silently when it
// is still attached and prompts through the surface otherwise.
func (w *Wallet) connect(ctx context.Context) (Channel, error) {
	w.setState(StateConnecting)

	ch, err := w.connector.Connect(ctx, func(devices []usbwallet.DeviceInfo) (int, error) {
		return w.chooseDevice(ctx, devices)
	})
	if err != nil {
		w.setState(StateDisconnected)
		return nil, err
	}
	ch.OnDisconnect(func() { w.handleDisconnect(ch) })

	w.stateLock.Lock()
	w.channel = ch
	w.lastPath = ch.Path()
	w.state = StateConnected
	w.stateLock.Unlock()
	w.log.Info("Device connected", zap.String("path", ch.Path()))

	if err := ch.OpenNEARApp(ctx); err != nil {
		w.dropSession()
		return nil, err
	}
	w.setState(StateAppOpen)
	return ch, nil
}

// chooseDevice is the user-gesture gate of a new connection. The remembered
// device is picked without a prompt; anything else renders the picker and
// waits for a click.
func (w *Wallet) chooseDevice(ctx context.Context, devices []usbwallet.DeviceInfo) (int, error) {
	w.stateLock.RLock()
	last := w.lastPath
	w.stateLock.RUnlock()

	if last != "" {
		for i, device := range devices {
			if device.Path == last {
				return i, nil
			}
		}
	}
	if err := w.surface.Show(devicePickerMarkup(devices)); err != nil {
		return 0, err
	}
	for {
		click, err := w.surface.Await(ctx)
		if err != nil {
			return 0, err
		}
		if click.Control == ControlCancel {
			return 0, ErrUserCancelledPrompt
		}
		if n, ok := parseDeviceControl(click.Control); ok && n < len(devices) {
			return n, nil
		}
	}
}

// handleDisconnect reacts to the transport watcher: the session is gone, any
// in-flight exchange has already failed with ErrDeviceNotConnected.
func (w *Wallet) handleDisconnect(ch Channel) {
	w.stateLock.Lock()
	current := w.channel == ch
	if current {
		w.channel = nil
		w.state = StateDisconnected
	}
	w.stateLock.Unlock()

	if current {
		w.log.Warn("Device session lost")
	}
}

// dropSession tears the live session down and resets to Disconnected.
func (w *Wallet) dropSession() {
	w.stateLock.Lock()
	ch := w.channel
	w.channel = nil
	w.state = StateDisconnected
	w.stateLock.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// finish settles the session state at the end of an operation. Fatal errors
// tear the session down; success and a cancelled prompt leave the transport
// as it stands.
func (w *Wallet) finish(err error) error {
	if err == nil || errors.Is(err, ErrUserCancelledPrompt) {
		if w.currentChannel() != nil {
			w.setState(StateAppOpen)
		}
		return err
	}
	w.dropSession()
	return err
}

// approve runs one device command behind the passive approval overlay,
// walking the state machine through the physical confirmation wait.
func (w *Wallet) approve(message string, fn func() error) error {
	if err := w.surface.Show(approvalMarkup(message)); err != nil {
		return err
	}
	w.setState(StateAwaitingApproval)
	err := fn()
	if w.currentChannel() != nil {
		w.setState(StateAppOpen)
	}
	return err
}

// signedInAccount loads the persisted session pair. Operations that sign
// need a completed sign-in first.
func (w *Wallet) signedInAccount(ctx context.Context) (accounts.Account, error) {
	blob, err := w.store.Get(ctx, keyAccount)
	if errors.Is(err, storage.ErrNotFound) {
		return accounts.Account{}, ErrNotSignedIn
	}
	if err != nil {
		return accounts.Account{}, err
	}
	var account accounts.Account
	if err := json.Unmarshal(blob, &account); err != nil {
		return accounts.Account{}, fmt.Errorf("corrupted session state: %v", err)
	}
	if len(account.Path) == 0 {
		account.Path = w.defaultPath
	}
	return account, nil
}

// GetAccounts returns the persisted account pair from the last completed
// sign-in, or an empty slice when signed out.
func (w *Wallet) GetAccounts(ctx context.Context) ([]accounts.Account, error) {
	account, err := w.signedInAccount(ctx)
	if errors.Is(err, ErrNotSignedIn) {
		return []accounts.Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []accounts.Account{account}, nil
}

// SignOut disconnects the device session and clears the persisted account
// pair. It reports whether a signed-in account was actually removed.
func (w *Wallet) SignOut(ctx context.Context) (bool, error) {
	if err := w.acquire(ctx); err != nil {
		return false, err
	}
	defer w.release()

	w.dropSession()

	_, err := w.store.Get(ctx, keyAccount)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Account first: a crash between the two removals must not leave a
	// committed account behind
	if err := w.store.Remove(ctx, keyAccount); err != nil {
		return false, err
	}
	if err := w.store.Remove(ctx, keyPath); err != nil {
		return false, err
	}
	w.log.Info("Signed out")
	return true, nil
}
