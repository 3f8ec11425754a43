package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"CreatorServices/internal/ledger/ledgertest"
	"CreatorServices/internal/web3"
)

func TestStaticRegistrySwitchNotifiesOnChange(t *testing.T) {
	clients := map[string]web3.Client{
		"devnet":  ledgertest.New(),
		"sepolia": ledgertest.New(ledgertest.WithNetwork("sepolia", 11155111)),
	}
	reg, err := NewStaticRegistry(clients, "devnet", []string{"sepolia"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	var switches [][2]string
	reg.OnChange(func(previous, current string) {
		switches = append(switches, [2]string{previous, current})
	})

	if reg.IsSupported("devnet") || !reg.IsSupported("sepolia") {
		t.Fatalf("unexpected supported set")
	}
	if err := reg.Switch("devnet"); err != nil {
		t.Fatalf("switch to same network: %v", err)
	}
	if len(switches) != 0 {
		t.Fatalf("switching to the active network must not notify")
	}
	if err := reg.Switch("sepolia"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if len(switches) != 1 || switches[0] != [2]string{"devnet", "sepolia"} {
		t.Fatalf("unexpected notifications %v", switches)
	}
	active, err := reg.Active()
	if err != nil || active.Network().Name != "sepolia" {
		t.Fatalf("active = %v, err = %v", active, err)
	}
	if err := reg.Switch("mainnet"); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}

func TestStaticRegistryDefaults(t *testing.T) {
	if _, err := NewStaticRegistry(nil, "", nil); err == nil {
		t.Fatalf("expected error for empty registry")
	}
	clients := map[string]web3.Client{"b": ledgertest.New(), "a": ledgertest.New()}
	reg, err := NewStaticRegistry(clients, "", nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if reg.ActiveName() != "a" {
		t.Fatalf("default chain should be the first name, got %s", reg.ActiveName())
	}
	if !reg.IsSupported("a") || !reg.IsSupported("b") {
		t.Fatalf("empty supported list should allow every network")
	}
	if _, err := NewStaticRegistry(clients, "c", nil); err == nil {
		t.Fatalf("expected error for unknown default chain")
	}
}

func TestNewRegistryUsesDialer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	body := `chains:
  devnet:
    type: evm
    rpc_url: http://127.0.0.1:8545
    chain_id: 1337
    escrow_address: "0x0000000000000000000000000000000000000E5C"
    reputation_address: "0x0000000000000000000000000000000000000AA1"
    status_encoding: project-escrow
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	var dialed []web3.Network
	dial := func(_ context.Context, name string, _ web3.ChainDefinition, network web3.Network) (web3.Client, error) {
		dialed = append(dialed, network)
		return ledgertest.New(ledgertest.WithNetwork(name, network.ChainID.Int64()), ledgertest.WithEncoding("project-escrow")), nil
	}
	reg, err := NewRegistry(context.Background(), Config{ChainConfig: path}, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if len(dialed) != 1 || dialed[0].Name != "devnet" {
		t.Fatalf("unexpected dial calls %+v", dialed)
	}
	if dialed[0].StatusCodes[1] != "in_progress" {
		t.Fatalf("status preset not applied: %v", dialed[0].StatusCodes)
	}
	if got := reg.Chains(); len(got) != 1 || got[0] != "devnet" {
		t.Fatalf("chains = %v", got)
	}
}
