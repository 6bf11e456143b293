package forktest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/smartcontractkit/chainlink-forknet/accounts"
	"github.com/smartcontractkit/chainlink-forknet/node"
)

var (
	// ErrNotReady is returned by Get before the fork network has been initialized, or when
	// initialization failed.
	ErrNotReady = errors.New("fork network not initialized")

	// ErrTornDown is returned by Get after the fork network has been torn down.
	ErrTornDown = errors.New("fork network torn down")
)

// Context is the fork network handle published to tests. It is read-only once published.
type Context struct {
	// URL is the JSON-RPC endpoint of the forked node.
	URL string
	// Accounts are the derived test accounts, in configuration order.
	Accounts []accounts.Account

	provider node.Provider
}

// Account returns the i-th test account.
func (c *Context) Account(i int) (accounts.Account, error) {
	if i < 0 || i >= len(c.Accounts) {
		return accounts.Account{}, fmt.Errorf("account index %d out of range: %d accounts configured", i, len(c.Accounts))
	}

	return c.Accounts[i], nil
}

// Client dials the forked node. The caller is responsible for closing the client.
func (c *Context) Client(ctx context.Context) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial fork network at %s: %w", c.URL, err)
	}

	return client, nil
}

// Fund sets the balance of every test account to its configured balance. The node does not
// fund the accounts itself.
func (c *Context) Fund(ctx context.Context) error {
	if c.provider == nil {
		return ErrNotReady
	}

	for _, acc := range c.Accounts {
		if err := node.SetBalance(ctx, c.provider, acc.Address, acc.Balance); err != nil {
			return err
		}
	}

	return nil
}

// state of a registry.
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateTornDown
)

type entry struct {
	state state
	ctx   *Context
}

// registry holds the published Context. The zero value is uninitialized.
type registry struct {
	current atomic.Pointer[entry]
}

func (r *registry) publish(c *Context) {
	r.current.Store(&entry{state: stateReady, ctx: c})
}

func (r *registry) tearDown() {
	r.current.Store(&entry{state: stateTornDown})
}

func (r *registry) get() (*Context, error) {
	e := r.current.Load()
	if e == nil {
		return nil, ErrNotReady
	}

	switch e.state {
	case stateReady:
		return e.ctx, nil
	case stateTornDown:
		return nil, ErrTornDown
	default:
		return nil, ErrNotReady
	}
}

// global is the process wide registry written by Harness.Setup and Harness.Teardown.
var global = &registry{}

// Get returns the published fork network context.
func Get() (*Context, error) {
	return global.get()
}

// MustGet returns the published fork network context and fails the test when there is none.
func MustGet(tb testing.TB) *Context {
	tb.Helper()

	c, err := Get()
	if err != nil {
		tb.Fatalf("fork network not initialized: %v", err)
	}

	return c
}
