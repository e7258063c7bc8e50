package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/0xmhha/selector-scan/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCServer is an in-process JSON-RPC node serving canned blocks
type RPCServer struct {
	URL string

	server *httptest.Server

	mu      sync.Mutex
	chainID uint64
	head    uint64
	blocks  map[uint64]*types.Block
	failing map[uint64]bool
	calls   map[string]int
	down    bool
}

type rpcRequest struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcBlock struct {
	Number       string              `json:"number"`
	Hash         string              `json:"hash"`
	Transactions []types.Transaction `json:"transactions"`
}

// NewRPCServer starts a fake node that is shut down when the test ends
func NewRPCServer(t *testing.T) *RPCServer {
	t.Helper()

	s := &RPCServer{
		chainID: 1315,
		blocks:  make(map[uint64]*types.Block),
		failing: make(map[uint64]bool),
		calls:   make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)
	return s
}

// AddBlock registers a block; the head follows the highest block added
func (s *RPCServer) AddBlock(block *types.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Number] = block
	if block.Number > s.head {
		s.head = block.Number
	}
}

// FailBlock makes requests for number return a JSON-RPC error
func (s *RPCServer) FailBlock(number uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[number] = true
}

// SetHead overrides the reported chain head
func (s *RPCServer) SetHead(head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = head
}

// SetDown makes every request fail with HTTP 503
func (s *RPCServer) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Calls returns how many times method was requested
func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *RPCServer) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	down := s.down
	s.mu.Unlock()

	if down {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := rpcResponse{Version: "2.0", ID: req.ID}
	result, rpcErr := s.dispatch(req)
	resp.Result, resp.Error = result, rpcErr

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *RPCServer) dispatch(req rpcRequest) (interface{}, *rpcError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		return hexutil.EncodeUint64(s.chainID), nil
	case "eth_blockNumber":
		return hexutil.EncodeUint64(s.head), nil
	case "eth_getBlockByNumber":
		if len(req.Params) != 2 {
			return nil, &rpcError{Code: -32602, Message: "expected 2 params"}
		}
		var numberHex string
		if err := json.Unmarshal(req.Params[0], &numberHex); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		number, err := hexutil.DecodeUint64(numberHex)
		if err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		if s.failing[number] {
			return nil, &rpcError{Code: -32000, Message: "header not available"}
		}
		block, ok := s.blocks[number]
		if !ok {
			return nil, nil
		}
		txs := block.Transactions
		if txs == nil {
			txs = []types.Transaction{}
		}
		return rpcBlock{
			Number:       hexutil.EncodeUint64(block.Number),
			Hash:         block.Hash,
			Transactions: txs,
		}, nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}
