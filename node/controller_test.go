package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-forknet/config"
	"github.com/smartcontractkit/chainlink-forknet/pkg/logger"
)

// blockingRun is a fake pipeline run that resolves readiness with server and blocks until ctx
// is done. The returned channel is closed when the run returns.
func blockingRun(server Server) (func(context.Context, ProviderSupplier, ReadyNotifier) error, <-chan struct{}) {
	returned := make(chan struct{})

	return func(ctx context.Context, supply ProviderSupplier, notify ReadyNotifier) error {
		defer close(returned)

		if _, err := supply(ctx); err != nil {
			return err
		}
		if err := notify(ctx, server); err != nil {
			return err
		}
		<-ctx.Done()

		return nil
	}, returned
}

func Test_NewController_ConfigurationError(t *testing.T) {
	t.Parallel()

	disabled := false

	tests := []struct {
		name    string
		give    func(*config.Config)
		wantErr error
	}{
		{
			name:    "forking not specified",
			give:    func(c *config.Config) { c.Fork.Forking = nil },
			wantErr: config.ErrForkingNotSpecified,
		},
		{
			name:    "forking disabled",
			give:    func(c *config.Config) { c.Fork.Forking.Enabled = &disabled },
			wantErr: config.ErrForkingNotSpecified,
		},
		{
			name:    "forking without url",
			give:    func(c *config.Config) { c.Fork.Forking.URL = "" },
			wantErr: config.ErrForkingNotSpecified,
		},
		{
			name: "localhost without port",
			give: func(c *config.Config) { c.Localhost.URL = "http://127.0.0.1" },
		},
		{
			name: "unknown chain selector",
			give: func(c *config.Config) { c.Fork.ChainSelector = 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig("https://rpc.example.com")
			tt.give(cfg)
			pipeline := &fakePipeline{run: func(context.Context, ProviderSupplier, ReadyNotifier) error {
				return nil
			}}

			c, err := NewController(logger.Test(t), cfg, pipeline)
			require.Error(t, err)
			assert.Nil(t, c)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.ErrorIs(t, err, ErrConfiguration)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Zero(t, pipeline.runCalls.Load())
		})
	}
}

func Test_NewController(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig("https://rpc.example.com")
	c, err := NewController(logger.Test(t), cfg, &fakePipeline{})
	require.NoError(t, err)

	assert.Equal(t, testLocalhostURL, c.URL())
	assert.Equal(t, testLocalhostURL, c.Provider().URL())
	assert.Empty(t, c.Provider().ChainID())
}

func Test_NewController_AllocatesPort(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig("https://rpc.example.com")
	cfg.Localhost.URL = "http://127.0.0.1:0"

	c, err := NewController(logger.Test(t), cfg, &fakePipeline{})
	require.NoError(t, err)

	port, err := cfg.Localhost.Port()
	require.NoError(t, err)
	assert.Positive(t, port)
	assert.Equal(t, cfg.Localhost.URL, c.URL())
	assert.Equal(t, cfg.Localhost.URL, c.Provider().URL())
}

func Test_Controller_Start(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig("https://rpc.example.com")
	cfg.Fork.Accounts = config.AccountsConfig{
		Keys: []config.AccountDescriptor{{PrivateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"}},
	}
	want := cfg.Fork.Accounts

	server := &fakeServer{url: testLocalhostURL}
	run, returned := blockingRun(server)

	var (
		accountsAtRun config.AccountsConfig
		suppliedURL   string
	)
	pipeline := &fakePipeline{}
	pipeline.run = func(ctx context.Context, supply ProviderSupplier, notify ReadyNotifier) error {
		accountsAtRun = cfg.Fork.Accounts
		p, err := supply(ctx)
		if err != nil {
			return err
		}
		suppliedURL = p.URL()

		return run(ctx, supply, notify)
	}

	c, err := NewController(logger.Test(t), cfg, pipeline)
	require.NoError(t, err)

	r, err := c.Start(t.Context())
	require.NoError(t, err)

	got, err := r.Wait(t.Context())
	require.NoError(t, err)
	assert.Same(t, server, got)

	s, ok := r.Server()
	assert.True(t, ok)
	assert.Same(t, server, s)
	require.NoError(t, r.Err())

	assert.True(t, accountsAtRun.IsEmpty())
	assert.True(t, cfg.Fork.Accounts.IsEmpty())
	assert.Equal(t, want, c.Accounts())
	assert.Equal(t, testLocalhostURL, suppliedURL)
	assert.Equal(t, int32(1), pipeline.runCalls.Load())

	require.NoError(t, c.Stop(t.Context(), got))
	assert.Equal(t, int32(1), server.closeCalls.Load())

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("node task did not stop")
	}
}

func Test_Controller_Start_Twice(t *testing.T) {
	t.Parallel()

	run, _ := blockingRun(&fakeServer{})
	c, err := NewController(logger.Test(t), newTestConfig("https://rpc.example.com"), &fakePipeline{run: run})
	require.NoError(t, err)
	defer c.Abort()

	_, err = c.Start(t.Context())
	require.NoError(t, err)

	_, err = c.Start(t.Context())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func Test_Controller_Start_OutlivesCallerContext(t *testing.T) {
	t.Parallel()

	server := &fakeServer{}
	run, returned := blockingRun(server)
	c, err := NewController(logger.Test(t), newTestConfig("https://rpc.example.com"), &fakePipeline{run: run})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	r, err := c.Start(ctx)
	require.NoError(t, err)
	cancel()

	_, err = r.Wait(t.Context())
	require.NoError(t, err)

	select {
	case <-returned:
		t.Fatal("node task stopped with the caller context")
	case <-time.After(50 * time.Millisecond):
	}

	c.Abort()
	<-returned
	assert.Zero(t, server.closeCalls.Load())
}

func Test_Readiness_Wait_NodeFailed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		run       func(context.Context, ProviderSupplier, ReadyNotifier) error
		wantCause string
	}{
		{
			name: "pipeline error",
			run: func(context.Context, ProviderSupplier, ReadyNotifier) error {
				return errors.New("failed to launch node: docker not running")
			},
			wantCause: "docker not running",
		},
		{
			name: "pipeline returns without readiness",
			run: func(context.Context, ProviderSupplier, ReadyNotifier) error {
				return nil
			},
			wantCause: "node task exited before the server became ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewController(logger.Test(t), newTestConfig("https://rpc.example.com"), &fakePipeline{run: tt.run})
			require.NoError(t, err)

			r, err := c.Start(t.Context())
			require.NoError(t, err)

			server, err := r.Wait(t.Context())
			require.ErrorIs(t, err, ErrNodeFailed)
			require.ErrorContains(t, err, tt.wantCause)
			assert.Nil(t, server)

			_, ok := r.Server()
			assert.False(t, ok)
			require.ErrorIs(t, r.Err(), ErrNodeFailed)
		})
	}
}

func Test_Readiness_Wait_ContextDone(t *testing.T) {
	t.Parallel()

	// The pipeline never becomes ready and only returns once aborted.
	returned := make(chan struct{})
	pipeline := &fakePipeline{run: func(ctx context.Context, _ ProviderSupplier, _ ReadyNotifier) error {
		defer close(returned)
		<-ctx.Done()

		return ctx.Err()
	}}
	c, err := NewController(logger.Test(t), newTestConfig("https://rpc.example.com"), pipeline)
	require.NoError(t, err)

	r, err := c.Start(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = r.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, r.Err())

	c.Abort()
	<-returned

	_, err = r.Wait(t.Context())
	require.ErrorIs(t, err, ErrNodeFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func Test_Controller_Stop_CloseError(t *testing.T) {
	t.Parallel()

	server := &fakeServer{closeErr: errors.New("container gone")}
	run, returned := blockingRun(server)
	c, err := NewController(logger.Test(t), newTestConfig("https://rpc.example.com"), &fakePipeline{run: run})
	require.NoError(t, err)

	r, err := c.Start(t.Context())
	require.NoError(t, err)
	got, err := r.Wait(t.Context())
	require.NoError(t, err)

	err = c.Stop(t.Context(), got)
	require.EqualError(t, err, "failed to close fork node: container gone")

	// The task is stopped even when closing the server fails.
	<-returned
}
