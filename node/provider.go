package node

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Anvil custom methods used by the harness.
// For more information, see https://book.getfoundry.sh/reference/anvil/#custom-methods.
const (
	MethodSetLoggingEnabled = "anvil_setLoggingEnabled"
	MethodSetBalance        = "anvil_setBalance"
)

// Provider is the client the harness uses to talk to the node.
type Provider interface {
	// URL is the JSON-RPC endpoint of the node.
	URL() string
	// ChainID is the chain ID the node should report. Empty leaves the choice to the node.
	ChainID() string
	// Send calls method with params and discards the result.
	Send(ctx context.Context, method string, params ...any) error
}

var _ Provider = (*AnvilProvider)(nil)

// AnvilProvider sends JSON-RPC requests to an anvil node over HTTP.
type AnvilProvider struct {
	url     string
	chainID string
	client  *resty.Client
}

// ProviderOption configures an AnvilProvider.
type ProviderOption func(*AnvilProvider)

// WithRequestTimeout sets the timeout of a single request.
func WithRequestTimeout(d time.Duration) ProviderOption {
	return func(p *AnvilProvider) {
		p.client.SetTimeout(d)
	}
}

// WithDebug enables resty request and response dumps.
func WithDebug(debug bool) ProviderOption {
	return func(p *AnvilProvider) {
		p.client.SetDebug(debug)
	}
}

// NewAnvilProvider creates a provider for the node at url.
func NewAnvilProvider(url, chainID string, opts ...ProviderOption) *AnvilProvider {
	p := &AnvilProvider{
		url:     url,
		chainID: chainID,
		client: resty.New().
			SetHeaders(map[string]string{
				"Content-Type": "application/json",
			}),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *AnvilProvider) URL() string { return p.url }

func (p *AnvilProvider) ChainID() string { return p.chainID }

// SetLoggingEnabled toggles the node's request logging.
func (p *AnvilProvider) SetLoggingEnabled(ctx context.Context, enabled bool) error {
	return p.Send(ctx, MethodSetLoggingEnabled, enabled)
}

// SetBalance updates the balance of an account.
func (p *AnvilProvider) SetBalance(ctx context.Context, account common.Address, balance *big.Int) error {
	return SetBalance(ctx, p, account, balance)
}

type rpcResponse struct {
	Error *RPCError `json:"error"`
}

// Send submits a JSON-RPC request to the node and checks the response for an error object.
func (p *AnvilProvider) Send(ctx context.Context, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      uuid.NewString(),
	}

	var res rpcResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&res).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to call %s: unexpected status %s", method, resp.Status())
	}
	if res.Error != nil {
		res.Error.Method = method

		return res.Error
	}

	return nil
}

// SetBalance sets the balance of account through any provider.
func SetBalance(ctx context.Context, p Provider, account common.Address, balance *big.Int) error {
	if err := p.Send(ctx, MethodSetBalance, account.Hex(), hexutil.EncodeBig(balance)); err != nil {
		return fmt.Errorf("failed to update balance of %s: %w", account.Hex(), err)
	}

	return nil
}
