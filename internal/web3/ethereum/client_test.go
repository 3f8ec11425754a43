package ethereum

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CreatorServices/internal/web3"
)

func newChainIDServer(t *testing.T, chainIDHex string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "eth_chainId" {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"` + chainIDHex + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientVerifiesChainID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := newChainIDServer(t, "0x539")

	client, err := NewClient(ctx, Config{
		RPCURL:  srv.URL,
		Network: web3.Network{Name: "devnet", ChainID: big.NewInt(1337), Currency: "ETH"},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	if client.Network().Currency != "ETH" {
		t.Fatalf("unexpected network %+v", client.Network())
	}

	_, err = NewClient(ctx, Config{
		RPCURL:  srv.URL,
		Network: web3.Network{Name: "sepolia", ChainID: big.NewInt(11155111)},
	})
	if err == nil || !strings.Contains(err.Error(), "sepolia") {
		t.Fatalf("expected chain id mismatch error, got %v", err)
	}
}

func TestNewClientRequiresRPCURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{Network: web3.Network{ChainID: big.NewInt(1)}}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}
