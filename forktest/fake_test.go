package forktest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartcontractkit/chainlink-forknet/node"
)

type fakeServer struct {
	url        string
	closeCalls atomic.Int32
}

func (s *fakeServer) URL() string { return s.url }

func (s *fakeServer) Close(context.Context) error {
	s.closeCalls.Add(1)
	return nil
}

// fakePipeline stands in for the node task. By default it becomes ready with server and blocks
// until its context is done.
type fakePipeline struct {
	server *fakeServer
	// run replaces the default behavior when set.
	run func(ctx context.Context) error

	supply   node.ProviderSupplier
	notify   node.ReadyNotifier
	runCalls atomic.Int32
	returned chan struct{}
}

func newFakePipeline(server *fakeServer) *fakePipeline {
	return &fakePipeline{
		server:   server,
		returned: make(chan struct{}),
	}
}

func (p *fakePipeline) SetProviderSupplier(fn node.ProviderSupplier) { p.supply = fn }
func (p *fakePipeline) SetReadyNotifier(fn node.ReadyNotifier)       { p.notify = fn }

func (p *fakePipeline) Run(ctx context.Context) error {
	p.runCalls.Add(1)
	defer close(p.returned)

	if p.run != nil {
		return p.run(ctx)
	}

	if _, err := p.supply(ctx); err != nil {
		return err
	}
	if err := p.notify(ctx, p.server); err != nil {
		return err
	}
	<-ctx.Done()

	return nil
}

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     any               `json:"id"`
}

// rpcRecorder is a mock anvil JSON-RPC endpoint. Methods listed in errs answer with a JSON-RPC
// error, everything else with a null result.
type rpcRecorder struct {
	*httptest.Server

	mu       sync.Mutex
	requests []rpcRequest
	errs     map[string]string
}

func newRPCRecorder(t *testing.T, errs map[string]string) *rpcRecorder {
	t.Helper()

	rec := &rpcRecorder{errs: errs}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req rpcRequest
		if err = json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		rec.mu.Lock()
		rec.requests = append(rec.requests, req)
		rec.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": nil}
		switch {
		case rec.errs[req.Method] != "":
			delete(resp, "result")
			resp["error"] = map[string]any{"code": -32000, "message": rec.errs[req.Method]}
		case req.Method == "eth_chainId":
			resp["result"] = "0x7a69"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(rec.Close)

	return rec
}

func (r *rpcRecorder) Requests() []rpcRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]rpcRequest(nil), r.requests...)
}

// fakeTB records fatal failures instead of stopping the test.
type fakeTB struct {
	testing.TB

	fatal string
}

func (f *fakeTB) Helper() {}

func (f *fakeTB) Fatalf(format string, args ...any) {
	f.fatal = fmt.Sprintf(format, args...)
}

// testRunner is a TestRunner that records whether it ran.
type testRunner struct {
	code int
	fn   func()
	runs int
}

func (r *testRunner) Run() int {
	r.runs++
	if r.fn != nil {
		r.fn()
	}

	return r.code
}
