// Package forktest starts a forked anvil node for a Go test binary and publishes it to the tests.
//
// Wire it into TestMain:
//
//	func TestMain(m *testing.M) {
//		os.Exit(forktest.Main(m, forktest.WithConfigFile("testdata/forknet.yml")))
//	}
//
// Tests then read the published network with [Get] or [MustGet]:
//
//	net := forktest.MustGet(t)
//	client, err := net.Client(t.Context())
package forktest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/smartcontractkit/chainlink-forknet/accounts"
	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/node"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

type options struct {
	lggr     logger.Logger
	cfg      *config.Config
	cfgFile  string
	pipeline node.Pipeline
	launcher node.Launcher
	args     []string
	registry *registry
}

// Option configures a Harness or Main.
type Option func(*options)

// WithLogger sets the logger. Main creates a production logger when none is given.
func WithLogger(lggr logger.Logger) Option {
	return func(o *options) { o.lggr = lggr }
}

// WithConfig makes Main use cfg instead of loading it.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile sets the YAML file Main loads the config from. Without it Main reads the
// environment only.
func WithConfigFile(path string) Option {
	return func(o *options) { o.cfgFile = path }
}

// WithPipeline replaces the node task pipeline.
func WithPipeline(p node.Pipeline) Option {
	return func(o *options) { o.pipeline = p }
}

// WithLauncher replaces the launcher of the default pipeline.
func WithLauncher(l node.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithArgs sets the process arguments inspected for --verbose. Defaults to os.Args.
func WithArgs(args []string) Option {
	return func(o *options) { o.args = args }
}

// withRegistry publishes to r instead of the process wide registry.
func withRegistry(r *registry) Option {
	return func(o *options) { o.registry = r }
}

func newOptions(opts []Option) *options {
	o := &options{
		args:     os.Args,
		registry: global,
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Harness runs the fork network for the lifetime of a test binary.
type Harness struct {
	lggr       logger.Logger
	cfg        *config.Config
	args       []string
	registry   *registry
	controller *node.Controller
	readiness  *node.Readiness
	accounts   []accounts.Account
	started    time.Time

	setupOnce sync.Once
	published *Context
	setupErr  error

	teardownOnce sync.Once
	teardownErr  error
}

// New launches the fork node in the background and derives the test accounts while it starts.
//
// It fails without launching anything when cfg has no forking section.
func New(ctx context.Context, lggr logger.Logger, cfg *config.Config, opts ...Option) (*Harness, error) {
	started := time.Now()
	o := newOptions(opts)
	lggr = logger.Named(lggr, "forknet")

	pipeline := o.pipeline
	if pipeline == nil {
		launcher := o.launcher
		if launcher == nil {
			launcher = node.NewCTFLauncher(logger.Named(lggr, "launcher"))
		}
		pipeline = node.NewNodeTask(logger.Named(lggr, "node"), cfg, launcher)
	}

	controller, err := node.NewController(lggr, cfg, pipeline)
	if err != nil {
		return nil, err
	}

	readiness, err := controller.Start(ctx)
	if err != nil {
		return nil, err
	}

	// Runs while the node boots.
	descs := controller.Accounts().Descriptors()
	if accounts.ExceedsWarnThreshold(len(descs)) {
		lggr.Warnf("%d fork accounts specified - consider specifying fewer.", len(descs))
		lggr.Warn("Specifying multiple fork accounts will noticeably slow your test startup time.")
	}
	accs, err := accounts.Derive(descs)
	if err != nil {
		controller.Abort()

		return nil, fmt.Errorf("failed to derive fork accounts: %w", err)
	}

	return &Harness{
		lggr:       lggr,
		cfg:        cfg,
		args:       o.args,
		registry:   o.registry,
		controller: controller,
		readiness:  readiness,
		accounts:   accs,
		started:    started,
	}, nil
}

// Setup waits for the node, enables node logging when requested and publishes the Context.
// Only the first call does the work; later calls return its result.
func (h *Harness) Setup(ctx context.Context) (*Context, error) {
	h.setupOnce.Do(func() {
		h.published, h.setupErr = h.setup(ctx)
	})

	return h.published, h.setupErr
}

func (h *Harness) setup(ctx context.Context) (*Context, error) {
	server, err := h.readiness.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("fork network failed to start: %w", err)
	}

	provider := h.controller.Provider()
	if h.cfg.Fork.LoggingEnabled || verboseRequested(h.args) {
		if err = provider.Send(ctx, node.MethodSetLoggingEnabled, true); err != nil {
			return nil, fmt.Errorf("failed to enable fork node logging: %w", err)
		}
	}

	url := h.controller.URL()
	if url == "" {
		url = server.URL()
	}
	c := &Context{
		URL:      url,
		Accounts: h.accounts,
		provider: provider,
	}
	h.registry.publish(c)

	h.lggr.Infof("Initialized fork network in %.3f s", time.Since(h.started).Seconds())

	return c, nil
}

// Teardown closes the node. It does not wait for a node that never became ready; in that case
// the node task is cancelled and its failure, if any, is returned.
func (h *Harness) Teardown(ctx context.Context) error {
	h.teardownOnce.Do(func() {
		h.teardownErr = h.teardown(ctx)
	})

	return h.teardownErr
}

func (h *Harness) teardown(ctx context.Context) error {
	server, ok := h.readiness.Server()
	if !ok {
		h.controller.Abort()

		return h.readiness.Err()
	}
	defer h.registry.tearDown()

	return h.controller.Stop(ctx, server)
}

// verboseRequested reports whether args carry --verbose or go test's -v.
func verboseRequested(args []string) bool {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch name {
		case "verbose", "test.v":
			if !hasValue || value != "false" {
				return true
			}
		}
	}

	return false
}

// TestRunner runs the tests of a test binary. *testing.M implements it.
type TestRunner interface {
	Run() int
}

// Main runs the tests of m against a fork network and returns the exit code for os.Exit.
//
// Configuration and startup failures are reported on stderr and exit with code 1 without
// running any test.
func Main(m TestRunner, opts ...Option) int {
	o := newOptions(opts)

	lggr := o.lggr
	if lggr == nil {
		var err error
		if lggr, err = logger.New(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
			return 1
		}
		defer func() { _ = lggr.Sync() }()
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if o.cfgFile != "" {
			cfg, err = config.Load(o.cfgFile)
		} else {
			cfg, err = config.LoadEnv()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load fork network config: %v\n", err)
			return 1
		}
	}

	ctx := context.Background()
	h, err := New(ctx, lggr, cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start fork network: %v\n", err)
		return 1
	}

	if _, err = h.Setup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up fork network: %v\n", err)
		if terr := h.Teardown(ctx); terr != nil {
			lggr.Errorw("failed to tear down fork network", "err", terr)
		}

		return 1
	}

	code := m.Run()

	if err = h.Teardown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to tear down fork network: %v\n", err)
		if code == 0 {
			code = 1
		}
	}

	return code
}
