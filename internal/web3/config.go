package web3

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network endpoint and the escrow and
// reputation programs deployed on it.
type ChainDefinition struct {
	Type              string           `yaml:"type"`
	RPCURL            string           `yaml:"rpc_url"`
	ChainID           int64            `yaml:"chain_id"`
	Currency          string           `yaml:"currency"`
	Decimals          int32            `yaml:"decimals"`
	EscrowAddress     string           `yaml:"escrow_address"`
	ReputationAddress string           `yaml:"reputation_address"`
	StatusEncoding    string           `yaml:"status_encoding"`
	StatusCodes       map[uint8]string `yaml:"status_codes"`
	Description       string           `yaml:"description"`
}

// StatusEncodings are the raw escrow status layouts observed on deployed
// programs. A chain selects one by name or supplies status_codes directly.
var StatusEncodings = map[string]map[uint8]string{
	"manager": {
		0: "proposed",
		1: "accepted",
		2: "rejected",
		3: "in_progress",
		4: "completed",
	},
	"project-escrow": {
		0: "proposed",
		1: "in_progress",
		2: "completed",
		3: "rejected",
	},
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain metadata from YAML bytes.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Names returns the configured chain names in sorted order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Network resolves a definition into a Network, validating addresses and the
// status table.
func (c ChainDefinition) Network(name string) (Network, error) {
	if c.ChainID <= 0 {
		return Network{}, fmt.Errorf("链 %s 缺少 chain_id", name)
	}
	currency := strings.TrimSpace(c.Currency)
	if currency == "" {
		currency = "ETH"
	}
	decimals := c.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	if !common.IsHexAddress(c.EscrowAddress) {
		return Network{}, fmt.Errorf("链 %s 的 escrow_address 无效: %q", name, c.EscrowAddress)
	}
	if !common.IsHexAddress(c.ReputationAddress) {
		return Network{}, fmt.Errorf("链 %s 的 reputation_address 无效: %q", name, c.ReputationAddress)
	}

	codes := c.StatusCodes
	if len(codes) == 0 {
		preset, ok := StatusEncodings[strings.ToLower(strings.TrimSpace(c.StatusEncoding))]
		if !ok {
			return Network{}, fmt.Errorf("链 %s 未配置 status_codes 或有效的 status_encoding", name)
		}
		codes = preset
	}
	cloned := make(map[uint8]string, len(codes))
	for code, state := range codes {
		cloned[code] = strings.ToLower(strings.TrimSpace(state))
	}

	return Network{
		Name:              name,
		ChainID:           big.NewInt(c.ChainID),
		Currency:          currency,
		Decimals:          decimals,
		EscrowAddress:     common.HexToAddress(c.EscrowAddress),
		ReputationAddress: common.HexToAddress(c.ReputationAddress),
		StatusCodes:       cloned,
	}, nil
}
