package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is one way of reaching the user's wallet. Both implementations
// expose the same capability set so the Manager never branches on kind.
type Backend interface {
	Kind() Kind
	Available() bool
	Open(ctx context.Context) (*rpc.Client, error)
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts lists the accounts the wallet already exposes, without
	// prompting the user.
	Accounts(ctx context.Context) ([]common.Address, error)
	SubscribeAccounts(ctx context.Context, ch chan<- []common.Address) (ethereum.Subscription, error)
	SubscribeChain(ctx context.Context, ch chan<- hexutil.Uint64) (ethereum.Subscription, error)
	Close() error
}

// Dialer opens the JSON-RPC transport to a wallet. A nil Dialer marks the
// backend as absent from the environment.
type Dialer func(ctx context.Context) (*rpc.Client, error)

// DialURL dials an http, ws or ipc endpoint. An empty url yields nil.
func DialURL(url string) Dialer {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	return func(ctx context.Context) (*rpc.Client, error) {
		return rpc.DialContext(ctx, url)
	}
}

// transport is the JSON-RPC plumbing shared by both backends.
type transport struct {
	mu     sync.Mutex
	dial   Dialer
	client *rpc.Client
}

func (t *transport) available() bool {
	return t.dial != nil
}

func (t *transport) open(ctx context.Context) (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	if t.dial == nil {
		return nil, ErrBackendUnavailable
	}
	cli, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial wallet: %w", err)
	}
	t.client = cli
	return cli, nil
}

func (t *transport) current() (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

func (t *transport) close() {
	t.mu.Lock()
	cli := t.client
	t.client = nil
	t.mu.Unlock()
	if cli != nil {
		cli.Close()
	}
}

func (t *transport) requestAccounts(ctx context.Context) ([]common.Address, error) {
	cli, err := t.current()
	if err != nil {
		return nil, err
	}
	var accounts []common.Address
	if err := cli.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		if isUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionRejected, err)
		}
		return nil, fmt.Errorf("request accounts: %w", err)
	}
	return accounts, nil
}

func (t *transport) accounts(ctx context.Context) ([]common.Address, error) {
	cli, err := t.current()
	if err != nil {
		return nil, err
	}
	var accounts []common.Address
	if err := cli.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (t *transport) subscribe(ctx context.Context, ch interface{}, event string) (ethereum.Subscription, error) {
	cli, err := t.current()
	if err != nil {
		return nil, err
	}
	sub, err := cli.EthSubscribe(ctx, ch, event)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event, err)
	}
	return sub, nil
}

// Extension talks to a wallet running next to the user, the way a browser
// extension injects a provider into the page.
type Extension struct {
	t transport
}

func NewExtension(dial Dialer) *Extension {
	return &Extension{t: transport{dial: dial}}
}

func (e *Extension) Kind() Kind { return KindExtension }

func (e *Extension) Available() bool { return e.t.available() }

func (e *Extension) Open(ctx context.Context) (*rpc.Client, error) {
	return e.t.open(ctx)
}

func (e *Extension) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return e.t.requestAccounts(ctx)
}

func (e *Extension) Accounts(ctx context.Context) ([]common.Address, error) {
	return e.t.accounts(ctx)
}

func (e *Extension) SubscribeAccounts(ctx context.Context, ch chan<- []common.Address) (ethereum.Subscription, error) {
	return e.t.subscribe(ctx, ch, "accountsChanged")
}

func (e *Extension) SubscribeChain(ctx context.Context, ch chan<- hexutil.Uint64) (ethereum.Subscription, error) {
	return e.t.subscribe(ctx, ch, "chainChanged")
}

func (e *Extension) Close() error {
	e.t.close()
	return nil
}
