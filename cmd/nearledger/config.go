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

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"unicode"

	"github.com/keyfold/go-nearledger/accounts"
	"github.com/keyfold/go-nearledger/accounts/usbwallet"
	"github.com/keyfold/go-nearledger/rpc"
	"github.com/keyfold/go-nearledger/storage"
	"github.com/keyfold/go-nearledger/storage/ldb"
	"github.com/keyfold/go-nearledger/storage/memorydb"
	"github.com/keyfold/go-nearledger/wallet"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// networkEndpoints maps the known network names onto their public JSON-RPC
// endpoints. --rpc overrides the mapping.
var networkEndpoints = map[string]string{
	"mainnet": rpc.MainnetRPC,
	"testnet": rpc.TestnetRPC,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type nodeConfig struct {
	// Network selects a known endpoint; RPC overrides it with an explicit URL.
	Network string `toml:",omitempty"`
	RPC     string `toml:",omitempty"`
}

type walletConfig struct {
	// DataDir is where the signed-in account state lives. Empty means the
	// default directory; the --ephemeral flag bypasses it entirely.
	DataDir        string `toml:",omitempty"`
	DerivationPath string `toml:",omitempty"`
}

type nearledgerConfig struct {
	Node   nodeConfig
	Wallet walletConfig
}

func defaultConfig() nearledgerConfig {
	return nearledgerConfig{
		Node:   nodeConfig{Network: "mainnet"},
		Wallet: walletConfig{DataDir: defaultDataDir()},
	}
}

// defaultDataDir puts the state database under the user's home directory,
// falling back to the working directory when the home cannot be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nearledger"
	}
	return filepath.Join(home, ".nearledger")
}

func loadConfig(file string, cfg *nearledgerConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBaseConfig assembles the effective configuration: defaults, then the
// config file, then command line flags, each layer overriding the last.
func loadBaseConfig(ctx *cli.Context) (nearledgerConfig, error) {
	cfg := defaultConfig()

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(networkFlag.Name) {
		cfg.Node.Network = ctx.String(networkFlag.Name)
	}
	if ctx.IsSet(rpcFlag.Name) {
		cfg.Node.RPC = ctx.String(rpcFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Wallet.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(pathFlag.Name) {
		cfg.Wallet.DerivationPath = ctx.String(pathFlag.Name)
	}
	return cfg, nil
}

// endpoint resolves the JSON-RPC URL to talk to.
func (cfg *nearledgerConfig) endpoint() (string, error) {
	if cfg.Node.RPC != "" {
		return cfg.Node.RPC, nil
	}
	if url, ok := networkEndpoints[cfg.Node.Network]; ok {
		return url, nil
	}
	return "", fmt.Errorf("unknown network %q, set --%s explicitly", cfg.Node.Network, rpcFlag.Name)
}

// makeLogger builds the CLI logger for the requested verbosity: 0 silent,
// 1 error, 2 warn, 3 info, 4+ debug.
func makeLogger(verbosity int) *zap.Logger {
	if verbosity <= 0 {
		return zap.NewNop()
	}
	var level zapcore.Level
	switch verbosity {
	case 1:
		level = zapcore.ErrorLevel
	case 2:
		level = zapcore.WarnLevel
	case 3:
		level = zapcore.InfoLevel
	default:
		level = zapcore.DebugLevel
	}
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(level)
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	log, err := logCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// makeStore opens the persistent state database, or an in-memory one with
// --ephemeral.
func makeStore(ctx *cli.Context, cfg *nearledgerConfig, log *zap.Logger) (storage.Store, error) {
	if ctx.Bool(ephemeralFlag.Name) {
		return memorydb.New(), nil
	}
	return ldb.New(filepath.Join(cfg.Wallet.DataDir, "state"), 16, 16, log)
}

// makeWallet wires the full stack behind one wallet: device hub, node client,
// state store and the terminal prompt surface. The returned closer flushes
// the store.
func makeWallet(ctx *cli.Context) (*wallet.Wallet, func(), error) {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	log := makeLogger(ctx.Int(verbosityFlag.Name))

	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, nil, err
	}
	var path accounts.DerivationPath
	if cfg.Wallet.DerivationPath != "" {
		if path, err = accounts.ParseDerivationPath(cfg.Wallet.DerivationPath); err != nil {
			return nil, nil, fmt.Errorf("invalid derivation path: %v", err)
		}
	}
	store, err := makeStore(ctx, &cfg, log)
	if err != nil {
		return nil, nil, err
	}
	hub, err := usbwallet.NewHub(log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	w := wallet.New(
		wallet.NewUSBConnector(hub, log),
		rpc.New(endpoint, rpc.WithLogger(log)),
		store,
		newTerminalSurface(os.Stdin, os.Stdout),
		wallet.Config{DerivationPath: path, Log: log},
	)
	cleanup := func() {
		store.Close()
		log.Sync()
	}
	return w, cleanup, nil
}
