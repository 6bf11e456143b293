package config

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// DefaultHDPath is the BIP-44 Ethereum path mnemonic accounts are derived under.
	DefaultHDPath = "m/44'/60'/0'/0"
	// DefaultBalance is 10000 ETH in wei.
	DefaultBalance = "10000000000000000000000"
)

// AccountDescriptor describes a single test account. Exactly one of PrivateKey or Mnemonic
// must be set.
type AccountDescriptor struct {
	PrivateKey string `mapstructure:"private_key" yaml:"private_key,omitempty"`
	Mnemonic   string `mapstructure:"mnemonic" yaml:"mnemonic,omitempty"`
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	Index      uint32 `mapstructure:"index" yaml:"index,omitempty"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	// Balance is in wei, decimal or 0x-prefixed hex. Empty means DefaultBalance.
	Balance string `mapstructure:"balance" yaml:"balance,omitempty"`
}

// Validate checks the key source of the descriptor. It does not parse the key material.
func (d AccountDescriptor) Validate() error {
	switch {
	case d.PrivateKey == "" && d.Mnemonic == "":
		return errors.New("either private_key or mnemonic is required")
	case d.PrivateKey != "" && d.Mnemonic != "":
		return errors.New("private_key and mnemonic are mutually exclusive")
	}

	if _, err := d.BalanceWei(); err != nil {
		return err
	}

	return nil
}

// HDPath returns the configured derivation path or DefaultHDPath.
func (d AccountDescriptor) HDPath() string {
	if d.Path == "" {
		return DefaultHDPath
	}

	return d.Path
}

// BalanceWei parses the balance of the descriptor.
func (d AccountDescriptor) BalanceWei() (*big.Int, error) {
	s := d.Balance
	if s == "" {
		s = DefaultBalance
	}

	b, ok := new(big.Int).SetString(s, 0)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q: must be a non-negative integer in wei", d.Balance)
	}

	return b, nil
}

// HDAccounts describes a contiguous range of accounts derived from one mnemonic.
type HDAccounts struct {
	Mnemonic        string `mapstructure:"mnemonic" yaml:"mnemonic"`
	Path            string `mapstructure:"path" yaml:"path,omitempty"`
	InitialIndex    uint32 `mapstructure:"initial_index" yaml:"initial_index,omitempty"`
	Count           uint32 `mapstructure:"count" yaml:"count"`
	Passphrase      string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	AccountsBalance string `mapstructure:"accounts_balance" yaml:"accounts_balance,omitempty"`
}

// AccountsConfig is the ordered account configuration of the fork network. Keys come first,
// followed by the accounts expanded from HD.
type AccountsConfig struct {
	Keys []AccountDescriptor `mapstructure:"keys" yaml:"keys,omitempty"`
	HD   *HDAccounts         `mapstructure:"hd" yaml:"hd,omitempty"`
}

// Descriptors flattens the configuration into an ordered list of descriptors.
func (a AccountsConfig) Descriptors() []AccountDescriptor {
	descs := make([]AccountDescriptor, 0, a.Len())
	descs = append(descs, a.Keys...)

	if a.HD != nil {
		for i := range a.HD.Count {
			descs = append(descs, AccountDescriptor{
				Mnemonic:   a.HD.Mnemonic,
				Path:       a.HD.Path,
				Index:      a.HD.InitialIndex + i,
				Passphrase: a.HD.Passphrase,
				Balance:    a.HD.AccountsBalance,
			})
		}
	}

	return descs
}

// Len returns the number of accounts the configuration describes.
func (a AccountsConfig) Len() int {
	n := len(a.Keys)
	if a.HD != nil {
		n += int(a.HD.Count)
	}

	return n
}

// IsEmpty reports whether no accounts are configured.
func (a AccountsConfig) IsEmpty() bool {
	return a.Len() == 0
}
