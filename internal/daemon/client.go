package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/wire"
	"github.com/Abdullah1738/lws-scan/internal/zmq"
)

var ErrTransport = errors.New("daemon: transport error")

// Client fetches consecutive blocks starting at start. Implementations may
// return fewer than count blocks, and at least one when start is at or below
// the chain tip.
type Client interface {
	FetchBlocks(ctx context.Context, start, count uint64) (*BlocksResponse, error)
	Close() error
}

var genesis = map[keys.Network]string{
	keys.Mainnet:  "418015bb9ae982a1975da7d79277c2705727a56894ba0fb246adaabb1f4632e3",
	keys.Testnet:  "48ca7cd3c8de5b6a4d53d2861fbdaedca141553559f9be9520068053cda8430b",
	keys.Stagenet: "76ee3cc98646292206cd3e86f74d88b4dcc1d937088645e9b0cbca84b7ce74eb",
}

// Genesis returns the genesis block id of network.
func Genesis(network keys.Network) (keys.Hash, error) {
	s, ok := genesis[network]
	if !ok {
		return keys.Hash{}, fmt.Errorf("daemon: no genesis for network %v", network)
	}
	b, err := keys.ParseHash32(s)
	return keys.Hash(b), err
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon: rpc error %d: %s", e.Code, e.Message)
}

type Config struct {
	zmq.RequestConfig
	Genesis keys.Hash
}

// ZMQClient speaks JSON-RPC to the node over a ZMQ REQ socket.
type ZMQClient struct {
	req     *zmq.Requester
	genesis keys.Hash
	nextID  atomic.Uint64
}

func NewZMQClient(cfg Config) (*ZMQClient, error) {
	req, err := zmq.NewRequester(cfg.RequestConfig)
	if err != nil {
		return nil, err
	}
	return &ZMQClient{req: req, genesis: cfg.Genesis}, nil
}

type getBlocksFastParams struct {
	BlockIDs    []keys.Hash `json:"block_ids"`
	StartHeight uint64      `json:"start_height"`
	Prune       bool        `json:"prune"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type envelope[T any] struct {
	Result *T
	Error  *RPCError
}

var rpcErrorSchema = wire.NewObject(
	wire.Required("code", func(v *RPCError) *int64 { return &v.Code }, wire.Int64),
	wire.Default("message", func(v *RPCError) *string { return &v.Message }, wire.String),
)

var blocksEnvelopeSchema = wire.NewObject(
	wire.Optional("result", func(v *envelope[BlocksResponse]) **BlocksResponse { return &v.Result }, blocksResponseSchema.Read),
	wire.Optional("error", func(v *envelope[BlocksResponse]) **RPCError { return &v.Error }, rpcErrorSchema.Read),
)

func (c *ZMQClient) FetchBlocks(ctx context.Context, start, count uint64) (*BlocksResponse, error) {
	body, err := wire.MarshalJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "get_blocks_fast",
		Params: getBlocksFastParams{
			BlockIDs:    []keys.Hash{c.genesis},
			StartHeight: start,
			Prune:       true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: encode request: %w", err)
	}

	reply, err := c.req.Request(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	env, err := wire.FromJSON(reply, blocksEnvelopeSchema.Read, wire.Options{SkipUnknown: true})
	if err != nil {
		return nil, fmt.Errorf("daemon: get_blocks_fast: %w", err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if env.Result == nil {
		return nil, fmt.Errorf("daemon: get_blocks_fast: %w", &wire.Error{Kind: wire.ErrMissingKey, Keys: []string{"result", "error"}})
	}
	resp := env.Result
	if resp.StartHeight != start {
		return nil, fmt.Errorf("daemon: get_blocks_fast: asked for height %d, got %d", start, resp.StartHeight)
	}
	if count > 0 && uint64(len(resp.Blocks)) > count {
		resp.Blocks = resp.Blocks[:count]
		if uint64(len(resp.OutputIndices)) > count {
			resp.OutputIndices = resp.OutputIndices[:count]
		}
	}
	return resp, nil
}

func (c *ZMQClient) Close() error { return c.req.Close() }
