package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/smartcontractkit/chainlink-testing-framework/framework"
	"github.com/smartcontractkit/chainlink-testing-framework/framework/components/blockchain"
	"github.com/testcontainers/testcontainers-go"

	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

// DefaultChainID is the chain ID anvil reports when neither a chain selector nor the upstream
// chain ID is known.
const DefaultChainID = "31337"

// defaultNetworkOnce ensures that the CTF framework only sets up the DefaultNetwork once per
// process.
var defaultNetworkOnce = &sync.Once{}

// LaunchRequest holds everything needed to start an anvil node.
type LaunchRequest struct {
	ChainID  string
	Port     int
	Forking  config.ForkingConfig
	Accounts config.AccountsConfig
	Anvil    config.AnvilConfig
}

// Launcher starts a node and returns once it accepts connections.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Server, error)
}

var _ Launcher = (*CTFLauncher)(nil)

// CTFLauncher runs anvil inside a Chainlink Testing Framework (CTF) Docker container.
//
// Docker must be installed and running.
type CTFLauncher struct {
	lggr     logger.Logger
	once     *sync.Once
	attempts uint
	delay    time.Duration
}

// CTFLauncherOption configures a CTFLauncher.
type CTFLauncherOption func(*CTFLauncher)

// WithStartAttempts sets how many times starting the container is attempted.
func WithStartAttempts(attempts uint, delay time.Duration) CTFLauncherOption {
	return func(l *CTFLauncher) {
		l.attempts = attempts
		l.delay = delay
	}
}

// NewCTFLauncher creates a launcher backed by CTF containers.
func NewCTFLauncher(lggr logger.Logger, opts ...CTFLauncherOption) *CTFLauncher {
	l := &CTFLauncher{
		lggr:     lggr,
		once:     defaultNetworkOnce,
		attempts: 3,
		delay:    time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Launch starts the anvil container and waits for the node to listen on req.Port.
func (l *CTFLauncher) Launch(ctx context.Context, req LaunchRequest) (Server, error) {
	if req.Forking.URL == "" {
		return nil, errors.New("fork url is required to launch anvil")
	}

	if err := framework.DefaultNetwork(l.once); err != nil {
		return nil, fmt.Errorf("failed to set up CTF default network: %w", err)
	}

	chainID := req.ChainID
	if chainID == "" {
		chainID = DefaultChainID
	}

	input := &blockchain.Input{
		Type:                     blockchain.TypeAnvil,
		ChainID:                  chainID,
		Port:                     strconv.Itoa(req.Port),
		Image:                    req.Anvil.Image, // empty string uses the CTF default
		DockerCmdParamsOverrides: anvilArgs(req),
	}

	output, err := retry.DoWithData(func() (*blockchain.Output, error) {
		out, rerr := blockchain.NewBlockchainNetwork(input)
		if rerr != nil {
			return nil, fmt.Errorf("failed to create anvil container: %w", rerr)
		}

		return out, nil
	},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.lggr.Debugw("retrying anvil container start", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start CTF anvil container after %d attempts: %w", l.attempts, err)
	}
	if len(output.Nodes) == 0 {
		return nil, errors.New("anvil container exposes no nodes")
	}

	return &containerServer{
		url:       output.Nodes[0].ExternalHTTPUrl,
		container: output.Container,
	}, nil
}

// anvilArgs builds the anvil command line for req.
func anvilArgs(req LaunchRequest) []string {
	args := []string{"--fork-url", req.Forking.URL}
	if req.Forking.BlockNumber > 0 {
		args = append(args, "--fork-block-number", strconv.FormatUint(req.Forking.BlockNumber, 10))
	}

	// anvil generates its own dev accounts unless told otherwise.
	args = append(args, "--accounts", strconv.Itoa(req.Accounts.Len()))
	if hd := req.Accounts.HD; hd != nil && hd.Mnemonic != "" {
		args = append(args, "--mnemonic", hd.Mnemonic)
		if hd.Path != "" {
			args = append(args, "--derivation-path", hd.Path+"/")
		}
	}

	return append(args, req.Anvil.DockerCmdParamsOverrides...)
}

var _ Server = (*containerServer)(nil)

// containerServer is the Server handle of an anvil container.
type containerServer struct {
	url       string
	container testcontainers.Container
}

func (s *containerServer) URL() string { return s.url }

// Close terminates the container. Subsequent calls are no-ops.
func (s *containerServer) Close(ctx context.Context) error {
	if s.container != nil {
		if err := s.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate anvil container: %w", err)
		}
		s.container = nil
	}

	return nil
}
