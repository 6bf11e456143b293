// Package accounts derives externally owned test accounts from the fork network account
// configuration.
//
// Derivation is pure and CPU bound: private keys are parsed or derived from BIP-39 mnemonics
// along a BIP-32 path, and addresses are computed from the secp256k1 public keys. Nothing here
// touches the network or the disk, so it can run while the node is still booting.
package accounts

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cosmos/go-bip39"
	gethaccounts "github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/smartcontractkit/chainlink-forknet/config"
)

// WarnThreshold is the account count above which derivation noticeably delays startup.
const WarnThreshold = 4

// Account is a derived externally owned account.
type Account struct {
	Address common.Address
	// PrivateKey is the 0x-prefixed hex encoding of the 32 byte secret.
	PrivateKey string
	// Balance is the configured balance in wei. It does not take part in derivation.
	Balance *big.Int
}

// ECDSA parses the private key of the account.
func (a Account) ECDSA() (*ecdsa.PrivateKey, error) {
	return parsePrivateKey(a.PrivateKey)
}

// Derive maps each descriptor to an Account, preserving order. An empty input yields an empty,
// non-nil slice.
func Derive(descs []config.AccountDescriptor) ([]Account, error) {
	accs := make([]Account, 0, len(descs))
	for i, d := range descs {
		acc, err := derive(d)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account %d: %w", i, err)
		}

		accs = append(accs, acc)
	}

	return accs, nil
}

// ExceedsWarnThreshold reports whether n accounts warrant the startup time advisory.
func ExceedsWarnThreshold(n int) bool {
	return n > WarnThreshold
}

func derive(d config.AccountDescriptor) (Account, error) {
	if err := d.Validate(); err != nil {
		return Account{}, err
	}

	var (
		key *ecdsa.PrivateKey
		err error
	)
	if d.PrivateKey != "" {
		key, err = parsePrivateKey(d.PrivateKey)
	} else {
		key, err = fromMnemonic(d.Mnemonic, d.Passphrase, d.HDPath(), d.Index)
	}
	if err != nil {
		return Account{}, err
	}

	balance, err := d.BalanceWei()
	if err != nil {
		return Account{}, err
	}

	return Account{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		Balance:    balance,
	}, nil
}

func parsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key to ECDSA: %w", err)
	}

	return key, nil
}

// fromMnemonic derives the key at path/index from the mnemonic.
func fromMnemonic(mnemonic, passphrase, path string, index uint32) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	dp, err := gethaccounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, errors.New("account index must be below 2^31")
	}
	dp = append(dp, index)

	ext, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, n := range dp {
		ext, err = ext.Derive(n)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d of %s: %w", n, path, err)
		}
	}

	priv, err := ext.ECPrivKey()
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(priv.Serialize())
}
