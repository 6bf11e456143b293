package node

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/smartcontractkit/chainlink-forknet/accounts"
	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

// Server is a handle to a running node.
type Server interface {
	// URL is the external HTTP JSON-RPC endpoint of the node.
	URL() string
	// Close stops the node and releases its resources.
	Close(ctx context.Context) error
}

// ProviderSupplier is the pipeline step that acquires the provider for the node.
type ProviderSupplier func(ctx context.Context) (Provider, error)

// ReadyNotifier is the pipeline step invoked once the node server is listening.
type ReadyNotifier func(ctx context.Context, server Server) error

// Pipeline is the node task pipeline. Its two extension points can be replaced before Run.
type Pipeline interface {
	SetProviderSupplier(fn ProviderSupplier)
	SetReadyNotifier(fn ReadyNotifier)
	// Run acquires a provider, launches the node, notifies readiness and then blocks until ctx
	// is done.
	Run(ctx context.Context) error
}

var _ Pipeline = (*NodeTask)(nil)

// NodeTask is the default Pipeline. It runs an anvil node forking the configured network.
type NodeTask struct {
	lggr     logger.Logger
	cfg      *config.Config
	launcher Launcher

	getProvider ProviderSupplier
	serverReady ReadyNotifier
}

// NewNodeTask creates a node task for cfg. The config is read when Run is called, so changes
// made before that are honoured.
func NewNodeTask(lggr logger.Logger, cfg *config.Config, launcher Launcher) *NodeTask {
	t := &NodeTask{
		lggr:     lggr,
		cfg:      cfg,
		launcher: launcher,
	}
	t.getProvider = t.probeUpstream
	t.serverReady = t.logReady

	return t
}

// SetProviderSupplier replaces the provider step. It must be called before Run.
func (t *NodeTask) SetProviderSupplier(fn ProviderSupplier) { t.getProvider = fn }

// SetReadyNotifier replaces the server ready step. It must be called before Run.
func (t *NodeTask) SetReadyNotifier(fn ReadyNotifier) { t.serverReady = fn }

func (t *NodeTask) Run(ctx context.Context) error {
	provider, err := t.getProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to get provider: %w", err)
	}

	req, err := t.launchRequest(provider)
	if err != nil {
		return err
	}

	server, err := t.launcher.Launch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to launch node: %w", err)
	}

	if err = t.serverReady(ctx, server); err != nil {
		if cerr := server.Close(context.WithoutCancel(ctx)); cerr != nil {
			t.lggr.Warnw("failed to close node after ready step error", "err", cerr)
		}

		return fmt.Errorf("server ready step failed: %w", err)
	}

	<-ctx.Done()

	return nil
}

func (t *NodeTask) launchRequest(provider Provider) (LaunchRequest, error) {
	port, err := t.cfg.Localhost.Port()
	if err != nil {
		return LaunchRequest{}, err
	}
	if port == 0 {
		return LaunchRequest{}, fmt.Errorf("localhost url %s has no concrete port", t.cfg.Localhost.URL)
	}

	var forking config.ForkingConfig
	if t.cfg.Fork.Forking != nil {
		forking = *t.cfg.Fork.Forking
	}

	return LaunchRequest{
		ChainID:  provider.ChainID(),
		Port:     port,
		Forking:  forking,
		Accounts: t.cfg.Fork.Accounts,
		Anvil:    t.cfg.Fork.Anvil,
	}, nil
}

// probeUpstream is the default provider step. It connects to the upstream fork RPC to learn the
// chain ID and head, which costs a few network round trips before the node can start.
func (t *NodeTask) probeUpstream(ctx context.Context) (Provider, error) {
	if err := t.cfg.Fork.Forking.Validate(); err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, t.cfg.Fork.Forking.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to fork rpc %s: %w", t.cfg.Fork.Forking.URL, err)
	}
	defer client.Close()

	upstreamID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chain id: %w", err)
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve block number: %w", err)
	}
	t.lggr.Infow("probed fork upstream", "chainID", upstreamID.String(), "head", head)

	chainID, err := t.cfg.Fork.ChainID()
	if err != nil {
		return nil, err
	}
	if chainID == "" {
		chainID = upstreamID.String()
	}

	return NewAnvilProvider(t.cfg.Localhost.URL, chainID), nil
}

// logReady is the default ready step. It prints the endpoint and the node's test accounts.
func (t *NodeTask) logReady(_ context.Context, server Server) error {
	t.lggr.Infof("Started HTTP JSON-RPC server at %s", server.URL())

	accs, err := accounts.Derive(t.cfg.Fork.Accounts.Descriptors())
	if err != nil {
		return err
	}
	for i, acc := range accs {
		t.lggr.Infof("Account #%d: %s (%s wei)", i, acc.Address.Hex(), acc.Balance)
	}

	return nil
}
