package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	chain_selectors "github.com/smartcontractkit/chain-selectors"
)

// DefaultLocalhostURL is the URL the forked node is exposed on when none is configured.
const DefaultLocalhostURL = "http://127.0.0.1:8545"

// ErrForkingNotSpecified is returned when the fork network has no usable forking section.
var ErrForkingNotSpecified = errors.New(
	"fork.forking must be specified to use forknet; see https://book.getfoundry.sh/reference/anvil/ for the fork options",
)

// ForkingConfig describes the remote chain the local node forks from.
type ForkingConfig struct {
	// Enabled defaults to true when the section is present.
	Enabled     *bool  `mapstructure:"enabled" yaml:"enabled,omitempty"`
	URL         string `mapstructure:"url" yaml:"url"`
	BlockNumber uint64 `mapstructure:"block_number" yaml:"block_number,omitempty"`
}

// IsEnabled reports whether forking is switched on.
func (f *ForkingConfig) IsEnabled() bool {
	return f != nil && (f.Enabled == nil || *f.Enabled)
}

// Validate checks that forking is enabled and points at an upstream RPC.
func (f *ForkingConfig) Validate() error {
	if !f.IsEnabled() {
		return ErrForkingNotSpecified
	}
	if f.URL == "" {
		return fmt.Errorf("%w: url is not defined", ErrForkingNotSpecified)
	}
	if _, err := url.ParseRequestURI(f.URL); err != nil {
		return fmt.Errorf("%w: invalid url %q: %w", ErrForkingNotSpecified, f.URL, err)
	}

	return nil
}

// AnvilConfig holds the container settings for the anvil node.
type AnvilConfig struct {
	// Image overrides the anvil image; empty uses the testing framework default.
	Image string `mapstructure:"image" yaml:"image,omitempty"`
	// DockerCmdParamsOverrides are appended to the anvil command line.
	DockerCmdParamsOverrides []string `mapstructure:"docker_cmd_params_overrides" yaml:"docker_cmd_params_overrides,omitempty"`
}

// ForkNetwork is the configuration of the forked network the harness starts.
type ForkNetwork struct {
	// ChainSelector optionally pins the chain ID reported by the node.
	ChainSelector  uint64         `mapstructure:"chain_selector" yaml:"chain_selector,omitempty"`
	Forking        *ForkingConfig `mapstructure:"forking" yaml:"forking,omitempty"`
	LoggingEnabled bool           `mapstructure:"logging_enabled" yaml:"logging_enabled,omitempty"`
	Accounts       AccountsConfig `mapstructure:"accounts" yaml:"accounts,omitempty"`
	Anvil          AnvilConfig    `mapstructure:"anvil" yaml:"anvil,omitempty"`
}

// ChainID returns the chain ID for the configured chain selector, or an empty string when no
// selector is configured.
func (n ForkNetwork) ChainID() (string, error) {
	if n.ChainSelector == 0 {
		return "", nil
	}

	return chain_selectors.GetChainIDFromSelector(n.ChainSelector)
}

// LocalhostNetwork is the network test code connects to.
type LocalhostNetwork struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Port returns the port of the localhost URL. A port of 0 asks the harness to pick a free one.
func (l LocalhostNetwork) Port() (int, error) {
	u, err := url.Parse(l.URL)
	if err != nil {
		return 0, fmt.Errorf("invalid localhost url %q: %w", l.URL, err)
	}

	p := u.Port()
	if p == "" {
		return 0, fmt.Errorf("localhost url %q has no port", l.URL)
	}

	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %s in localhost url: must be between 0 and 65535", p)
	}

	return port, nil
}

// WithPort returns a copy of the localhost network with the URL port replaced.
func (l LocalhostNetwork) WithPort(port int) (LocalhostNetwork, error) {
	u, err := url.Parse(l.URL)
	if err != nil {
		return l, fmt.Errorf("invalid localhost url %q: %w", l.URL, err)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))

	return LocalhostNetwork{URL: u.String()}, nil
}
