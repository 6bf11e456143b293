// Package node starts and stops the forked anvil node behind the test harness.
//
// The node is launched by a [Pipeline] whose provider and server-ready steps are replaced by the
// [Controller]: the provider step returns the already configured localhost provider instead of
// probing the upstream RPC, and the ready step hands the [Server] to a [Readiness] the caller
// can wait on. The pipeline itself runs in its own goroutine.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smartcontractkit/freeport"

	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

// Controller owns the lifecycle of a single forked node.
type Controller struct {
	lggr     logger.Logger
	cfg      *config.Config
	pipeline Pipeline
	provider Provider

	accounts config.AccountsConfig
	started  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController validates cfg and prepares a controller for pipeline. It fails with a
// *ConfigurationError when forking is not configured; nothing is launched in that case.
//
// A localhost URL with port 0 is rewritten in cfg to a free port.
func NewController(lggr logger.Logger, cfg *config.Config, pipeline Pipeline) (*Controller, error) {
	if err := cfg.Fork.Forking.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	port, err := cfg.Localhost.Port()
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	if port == 0 {
		ports, perr := freeport.Take(1)
		if perr != nil {
			return nil, fmt.Errorf("failed to allocate a port for the fork node: %w", perr)
		}
		if len(ports) == 0 {
			return nil, errors.New("no free port available for the fork node")
		}
		if cfg.Localhost, err = cfg.Localhost.WithPort(ports[0]); err != nil {
			return nil, &ConfigurationError{Err: err}
		}
	}

	chainID, err := cfg.Fork.ChainID()
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("fork.chain_selector: %w", err)}
	}

	return &Controller{
		lggr:     lggr,
		cfg:      cfg,
		pipeline: pipeline,
		provider: NewAnvilProvider(cfg.Localhost.URL, chainID),
	}, nil
}

// Provider returns the provider of the localhost network.
func (c *Controller) Provider() Provider { return c.provider }

// URL returns the localhost URL the node is exposed on.
func (c *Controller) URL() string { return c.cfg.Localhost.URL }

// Accounts returns the account configuration that was taken away from the node on Start.
func (c *Controller) Accounts() config.AccountsConfig { return c.accounts }

// Start launches the node in the background and returns immediately. The returned Readiness
// resolves once the server is listening.
//
// The node's own account generation is switched off before the pipeline runs; the original
// configuration is available through Accounts.
func (c *Controller) Start(ctx context.Context) (*Readiness, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	c.accounts = c.cfg.Fork.Accounts
	c.cfg.Fork.Accounts = config.AccountsConfig{}

	r := newReadiness()
	c.pipeline.SetProviderSupplier(func(context.Context) (Provider, error) {
		return c.provider, nil
	})
	c.pipeline.SetReadyNotifier(func(_ context.Context, server Server) error {
		r.resolve(server)
		return nil
	})

	// The node outlives the caller's context: it is only stopped through Stop or Abort.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		err := c.pipeline.Run(runCtx)
		if err != nil {
			c.lggr.Errorw("fork node task failed", "err", err)
		}
		r.finish(err)
	}()

	return r, nil
}

// Stop closes the server and stops the node task.
func (c *Controller) Stop(ctx context.Context, server Server) error {
	defer c.stopTask()

	if err := server.Close(ctx); err != nil {
		return fmt.Errorf("failed to close fork node: %w", err)
	}

	return nil
}

// Abort stops the node task without a server handle, e.g. when setup fails before readiness.
func (c *Controller) Abort() {
	c.stopTask()
}

func (c *Controller) stopTask() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Readiness resolves to the node server once it is listening. It never resolves when the node
// fails to start.
type Readiness struct {
	once   sync.Once
	ready  chan struct{}
	server Server

	done chan struct{}
	err  error
}

func newReadiness() *Readiness {
	return &Readiness{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (r *Readiness) resolve(server Server) {
	r.once.Do(func() {
		r.server = server
		close(r.ready)
	})
}

// finish records that the pipeline returned.
func (r *Readiness) finish(err error) {
	if err == nil {
		select {
		case <-r.ready:
		default:
			err = errors.New("node task exited before the server became ready")
		}
	}
	r.err = err
	close(r.done)
}

// Wait blocks until the server is ready. It returns early with ErrNodeFailed when the node task
// exits without becoming ready, or with the context error. There is no built-in timeout.
func (r *Readiness) Wait(ctx context.Context) (Server, error) {
	select {
	case <-r.ready:
		return r.server, nil
	default:
	}

	select {
	case <-r.ready:
		return r.server, nil
	case <-r.done:
		if server, ok := r.Server(); ok {
			return server, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrNodeFailed, r.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Server returns the server without blocking, and whether it is ready.
func (r *Readiness) Server() (Server, bool) {
	select {
	case <-r.ready:
		return r.server, true
	default:
		return nil, false
	}
}

// Err returns the error the node task exited with, or nil while it is still running.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		if _, ok := r.Server(); ok {
			return nil
		}

		return fmt.Errorf("%w: %w", ErrNodeFailed, r.err)
	default:
		return nil
	}
}
