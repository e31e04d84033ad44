package wallet

import (
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const SepoliaChainID uint64 = 11155111

// Currency describes a chain's native asset.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Network is the static metadata a wallet needs to register a chain.
type Network struct {
	ChainID      uint64   `json:"chainId"`
	Name         string   `json:"name"`
	Currency     Currency `json:"nativeCurrency"`
	RPCURLs      []string `json:"rpcUrls"`
	ExplorerURLs []string `json:"blockExplorerUrls"`
}

// Sepolia returns the public test network entry with the given RPC endpoint.
func Sepolia(rpcURL string) Network {
	return Network{
		ChainID: SepoliaChainID,
		Name:    "Sepolia Test Network",
		Currency: Currency{
			Name:     "SepoliaETH",
			Symbol:   "SepoliaETH",
			Decimals: 18,
		},
		RPCURLs:      []string{rpcURL},
		ExplorerURLs: []string{"https://sepolia.etherscan.io/"},
	}
}

// addChainParams is the wallet_addEthereumChain request object.
type addChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

func (n Network) addChainParams() addChainParams {
	return addChainParams{
		ChainID:           hexutil.EncodeUint64(n.ChainID),
		ChainName:         n.Name,
		NativeCurrency:    n.Currency,
		RPCURLs:           n.RPCURLs,
		BlockExplorerURLs: n.ExplorerURLs,
	}
}

// Networks is a read-only registry keyed by chain id.
type Networks struct {
	byID map[uint64]Network
}

// NewNetworks builds a registry; later entries replace earlier ones with the
// same chain id.
func NewNetworks(list ...Network) *Networks {
	n := &Networks{byID: make(map[uint64]Network, len(list))}
	for _, net := range list {
		if net.ChainID == 0 {
			continue
		}
		n.byID[net.ChainID] = net
	}
	return n
}

func (n *Networks) Lookup(chainID uint64) (Network, bool) {
	if n == nil {
		return Network{}, false
	}
	net, ok := n.byID[chainID]
	return net, ok
}

// All returns the networks ordered by chain id.
func (n *Networks) All() []Network {
	if n == nil {
		return nil
	}
	out := make([]Network, 0, len(n.byID))
	for _, net := range n.byID {
		out = append(out, net)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
