package wallet

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"":              KindExtension,
		"MetaMask":      KindExtension,
		"extension":     KindExtension,
		"walletconnect": KindRelay,
		" relay ":       KindRelay,
		"none":          KindNone,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseKind("ledger"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestEmptySessionJSON(t *testing.T) {
	raw, err := json.Marshal(emptySession())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"account":null,"balance":"0","chainId":null,"walletKind":"none","isConnected":false}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}

func TestFormatEther(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234500000000000000", 10)
	if got := FormatEther(wei); got != "1.2345" {
		t.Fatalf("got %s", got)
	}
	if got := FormatEther(nil); got != "0" {
		t.Fatalf("nil balance rendered as %s", got)
	}
	if got := FormatEther(big.NewInt(1)); got != "0.000000000000000001" {
		t.Fatalf("got %s", got)
	}
}

func TestNetworksLookup(t *testing.T) {
	nets := NewNetworks(Sepolia("https://rpc.sepolia.org"), Network{ChainID: 31337, Name: "Local"})
	n, ok := nets.Lookup(SepoliaChainID)
	if !ok || n.Name != "Sepolia Test Network" {
		t.Fatalf("unexpected lookup result %+v", n)
	}
	params := n.addChainParams()
	if params.ChainID != "0xaa36a7" {
		t.Fatalf("chain id hex = %s", params.ChainID)
	}
	all := nets.All()
	if len(all) != 2 || all[0].ChainID != 31337 {
		t.Fatalf("unexpected order %+v", all)
	}
	var empty *Networks
	if _, ok := empty.Lookup(1); ok {
		t.Fatalf("nil registry should not resolve")
	}
}
