package rpcx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEndpoint reaches a peer over HTTP/JSON, in the style of the teacher
// repo's internal/cluster peer calls (internal/replicate, internal/fetch):
// one small POST per RPC method, a shared *http.Client with a fixed
// timeout, and JSON request/response bodies.
type HTTPEndpoint struct {
	addr       string
	httpClient *http.Client
	serverID   int
}

// NewHTTPEndpoint builds an Endpoint that reaches the server listening on
// addr. serverID is only used to build a useful ShardError.
func NewHTTPEndpoint(addr string, serverID int, timeout time.Duration) *HTTPEndpoint {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPEndpoint{
		addr:       addr,
		serverID:   serverID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ShardMismatchHeader flags a response body as a ShardError rather than an
// ordinary failure, so the caller can distinguish "wrong shard" (the Clerk
// should keep sweeping the preference list) from "transient failure". The
// HTTP server handler (internal/api) sets this header; HTTPEndpoint reads it.
const ShardMismatchHeader = "X-Dynamokv-Shard-Mismatch"

func (h *HTTPEndpoint) do(ctx context.Context, path string, args, reply any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpcx: marshal args: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s%s", h.addr, path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpcx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return ErrTimeout // an unreachable peer is indistinguishable from a timeout to this caller
	}
	defer resp.Body.Close()

	if resp.Header.Get(ShardMismatchHeader) == "1" {
		var key string
		if v, ok := args.(interface{ GetKeyForError() string }); ok {
			key = v.GetKeyForError()
		}
		return &ShardError{Key: key, ServerID: h.serverID}
	}

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpcx: peer %s returned HTTP %d: %s", h.addr, resp.StatusCode, string(data))
	}

	return json.NewDecoder(resp.Body).Decode(reply)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (h *HTTPEndpoint) Get(args GetArgs) (GetReply, error) {
	var reply GetReply
	err := h.do(context.Background(), "/rpc/get", getArgsWire(args), &reply)
	return reply, err
}

func (h *HTTPEndpoint) Put(args PutArgs) (PutReply, error) {
	var reply PutReply
	err := h.do(context.Background(), "/rpc/put", putArgsWire(args), &reply)
	return reply, err
}

func (h *HTTPEndpoint) Append(args AppendArgs) (AppendReply, error) {
	var reply AppendReply
	err := h.do(context.Background(), "/rpc/append", appendArgsWire(args), &reply)
	return reply, err
}

// The wire-arg wrapper types exist only to give HTTPEndpoint.do a way to
// recover the key for ShardError without a type switch on the three args
// types — see the GetKeyForError methods below.

type getArgsWire GetArgs

func (a getArgsWire) GetKeyForError() string { return a.Key }

type putArgsWire PutArgs

func (a putArgsWire) GetKeyForError() string { return a.Key }

type appendArgsWire AppendArgs

func (a appendArgsWire) GetKeyForError() string { return a.Key }
