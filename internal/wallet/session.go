package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

// Kind names a wallet backend.
type Kind uint8

const (
	KindNone Kind = iota
	KindExtension
	KindRelay
)

func (k Kind) String() string {
	switch k {
	case KindExtension:
		return "extension"
	case KindRelay:
		return "relay"
	default:
		return "none"
	}
}

// ParseKind accepts the backend names plus the wallet product names the
// frontend historically used.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extension", "metamask", "injected":
		return KindExtension, nil
	case "relay", "walletconnect", "mobile":
		return KindRelay, nil
	case "none":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unknown wallet kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// State is the connection lifecycle position of a Manager.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown wallet state %q", b)
	}
	return nil
}

// Session is the connected account as the views see it.
// IsConnected is true exactly when Account is set.
type Session struct {
	Account     *common.Address `json:"account"`
	Balance     string          `json:"balance"`
	ChainID     *uint64         `json:"chainId"`
	WalletKind  Kind            `json:"walletKind"`
	IsConnected bool            `json:"isConnected"`
}

func emptySession() Session {
	return Session{Balance: "0", WalletKind: KindNone}
}

func (s Session) clone() Session {
	out := s
	if s.Account != nil {
		acct := *s.Account
		out.Account = &acct
	}
	if s.ChainID != nil {
		id := *s.ChainID
		out.ChainID = &id
	}
	return out
}

// Conn is the view of a session one contract call works against. It is
// captured at call start and never updated.
type Conn struct {
	Client  *rpc.Client
	Account common.Address
	ChainID uint64
	Kind    Kind
}

const etherExponent = -18

// FormatEther renders a wei amount as an ether decimal string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, etherExponent).String()
}
