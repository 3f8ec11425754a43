package web3

import "testing"

const sampleChains = `
chains:
  sepolia:
    rpc_url: https://rpc.sepolia.example
    chain_id: 11155111
    currency: SepoliaETH
    escrow_address: "0xEDee3CE33063b5BeFc38584475093Ec88eF51305"
    reputation_address: "0xd9145CCE52D386f254917e481eB44e9943F39138"
    status_encoding: manager
  devnet:
    rpc_url: http://127.0.0.1:8545
    chain_id: 1337
    escrow_address: "0x0000000000000000000000000000000000000e5c"
    reputation_address: "0x0000000000000000000000000000000000000Aa1"
    status_codes:
      0: Proposed
      1: In_Progress
      2: Completed
      3: Rejected
  broken:
    chain_id: 5
    escrow_address: "0x0000000000000000000000000000000000000e5c"
    reputation_address: "0x0000000000000000000000000000000000000Aa1"
`

func TestChainDefinitionNetwork(t *testing.T) {
	defs, err := ParseChainDefinitions([]byte(sampleChains))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := defs.Names(); len(got) != 3 || got[0] != "broken" {
		t.Fatalf("unexpected names %v", got)
	}

	sepolia, err := defs.Chains["sepolia"].Network("sepolia")
	if err != nil {
		t.Fatalf("sepolia network: %v", err)
	}
	if sepolia.Currency != "SepoliaETH" || sepolia.Decimals != 18 {
		t.Fatalf("unexpected currency settings %+v", sepolia)
	}
	if sepolia.StatusCodes[4] != "completed" || sepolia.StatusCodes[1] != "accepted" {
		t.Fatalf("manager preset not applied: %v", sepolia.StatusCodes)
	}

	devnet, err := defs.Chains["devnet"].Network("devnet")
	if err != nil {
		t.Fatalf("devnet network: %v", err)
	}
	if devnet.Currency != "ETH" {
		t.Fatalf("expected default currency, got %s", devnet.Currency)
	}
	if devnet.StatusCodes[1] != "in_progress" {
		t.Fatalf("explicit codes should be normalised: %v", devnet.StatusCodes)
	}

	if _, err := defs.Chains["broken"].Network("broken"); err == nil {
		t.Fatal("expected missing status table to be rejected")
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xAbC0000000000000000000000000000000000001", "0xabc0000000000000000000000000000000000001") {
		t.Fatal("expected case-insensitive match")
	}
	if SameAddress("", "") {
		t.Fatal("empty addresses never match")
	}
	if _, ok := ParseAddress("not-an-address"); ok {
		t.Fatal("expected invalid address")
	}
}
