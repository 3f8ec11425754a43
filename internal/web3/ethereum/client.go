package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"CreatorServices/internal/web3"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	RPCURL  string
	Network web3.Network
}

// Client implements web3.Client for EVM compatible chains over JSON-RPC.
type Client struct {
	*ethclient.Client
	rpcClient *gethrpc.Client
	network   web3.Network
}

// NewClient dials the configured RPC endpoint and verifies that the node serves
// the chain the network definition expects.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if cfg.Network.ChainID == nil {
		return nil, fmt.Errorf("网络 %s 未配置 chain_id", cfg.Network.Name)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if chainID.Cmp(cfg.Network.ChainID) != 0 {
		eth.Close()
		return nil, fmt.Errorf("网络 %s 期望链 ID %s，节点返回 %s", cfg.Network.Name, cfg.Network.ChainID, chainID)
	}

	return &Client{Client: eth, rpcClient: rpcClient, network: cfg.Network}, nil
}

// Network returns the metadata of the chain this client is bound to.
func (c *Client) Network() web3.Network {
	return c.network
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Close()
	c.Client = nil
	c.rpcClient = nil
}

var _ web3.Client = (*Client)(nil)
