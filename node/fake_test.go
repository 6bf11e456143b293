package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeServer is a Server that records Close calls.
type fakeServer struct {
	url        string
	closeErr   error
	closeCalls atomic.Int32
}

func (s *fakeServer) URL() string { return s.url }

func (s *fakeServer) Close(context.Context) error {
	s.closeCalls.Add(1)
	return s.closeErr
}

// fakeLauncher returns a fixed server or error and records the requests it received.
type fakeLauncher struct {
	server *fakeServer
	err    error

	mu       sync.Mutex
	requests []LaunchRequest
}

func (l *fakeLauncher) Launch(_ context.Context, req LaunchRequest) (Server, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}

	return l.server, nil
}

func (l *fakeLauncher) Requests() []LaunchRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]LaunchRequest(nil), l.requests...)
}

// fakePipeline is a Pipeline whose Run behavior is supplied by the test.
type fakePipeline struct {
	run func(ctx context.Context, supply ProviderSupplier, notify ReadyNotifier) error

	supply   ProviderSupplier
	notify   ReadyNotifier
	runCalls atomic.Int32
}

func (p *fakePipeline) SetProviderSupplier(fn ProviderSupplier) { p.supply = fn }
func (p *fakePipeline) SetReadyNotifier(fn ReadyNotifier)       { p.notify = fn }

func (p *fakePipeline) Run(ctx context.Context) error {
	p.runCalls.Add(1)
	return p.run(ctx, p.supply, p.notify)
}

// rpcRequest is a decoded JSON-RPC request.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      any               `json:"id"`
}

// rpcRecorder is a mock JSON-RPC server. Responses are looked up by method; methods without an
// entry answer with a null result.
type rpcRecorder struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []rpcRequest
	responses map[string]string
}

func newRPCRecorder(t *testing.T, responses map[string]string) *rpcRecorder {
	t.Helper()

	rec := &rpcRecorder{responses: responses}
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

		member := `"result":null`
		if resp, ok := rec.responses[req.Method]; ok {
			member = resp
		}
		id, err := json.Marshal(req.ID)
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(id) + `,` + member + `}`))
		assert.NoError(t, err)
	}))
	t.Cleanup(rec.Close)

	return rec
}

func (r *rpcRecorder) Requests() []rpcRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]rpcRequest(nil), r.requests...)
}

func (r *rpcRecorder) Methods() []string {
	reqs := r.Requests()
	methods := make([]string, 0, len(reqs))
	for _, req := range reqs {
		methods = append(methods, req.Method)
	}

	return methods
}
