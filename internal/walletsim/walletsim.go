// Package walletsim is an in-process wallet and chain node speaking the same
// JSON-RPC surface as a real wallet: EIP-1193 account and chain events,
// wallet_* network methods, relay pairing, and enough of the VaultLend and
// FHEOperations contracts to exercise every call the client makes.
//
// It backs the server's simulated mode and the package tests.
package walletsim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"vaultlend/internal/contracts"
	"vaultlend/internal/sealed"
)

const (
	codeUserRejected      = 4001
	codeUnauthorized      = 4100
	codeUnrecognizedChain = 4902
	codeReverted          = 3
	codeInvalidParams     = -32602
)

type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

func rejected() error {
	return &rpcError{code: codeUserRejected, msg: "User rejected the request."}
}

func reverted(reason string) error {
	return &rpcError{code: codeReverted, msg: "execution reverted: " + reason}
}

// CallFunc replaces the contract logic for eth_call.
type CallFunc func(to common.Address, input []byte) ([]byte, error)

type Options struct {
	Accounts []common.Address
	// Balance is the starting balance in wei of every account.
	Balance *big.Int
	ChainID uint64
	// KnownChains are the chains the wallet can switch to without adding
	// them first. ChainID is always known.
	KnownChains  []uint64
	LoanContract common.Address
	OpsContract  common.Address
	Codec        sealed.Codec
	Prover       sealed.Prover
	// ReceiptDelay is how many receipt polls report a transaction as pending.
	ReceiptDelay int
	Now          func() time.Time
}

type loan struct {
	amount, rate, duration, collateral []byte
	purpose                            string
	borrower, lender                   common.Address
	active, repaid                     bool
	createdAt, dueDate                 uint64
}

// Wallet is safe for concurrent use.
type Wallet struct {
	opts    Options
	loanABI abi.ABI
	opsABI  abi.ABI
	server  *rpc.Server

	accountFeed event.Feed
	chainFeed   event.Feed

	mu            sync.Mutex
	accounts      []common.Address
	balances      map[common.Address]*big.Int
	chainID       uint64
	known         map[uint64]bool
	rejectConnect bool
	rejectSwitch  bool
	rejectAdd     bool
	rejectSend    bool
	callOverride  CallFunc
	calls         map[string]int
	totalCalls    int
	block         uint64
	nonce         uint64
	pending       map[common.Hash]int
	receipts      map[common.Hash]*types.Receipt
	logs          []*types.Log
	loans         map[uint64]*loan
	nextLoan      uint64
	pairings      map[string]uint64
}

func New(opts Options) (*Wallet, error) {
	if opts.ChainID == 0 {
		opts.ChainID = 11155111
	}
	if opts.Codec == nil {
		opts.Codec = sealed.Base64{}
	}
	if opts.Prover == nil {
		opts.Prover = sealed.Keccak{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Balance == nil {
		opts.Balance = new(big.Int)
	}

	loanABI, err := contracts.ParseVaultLend()
	if err != nil {
		return nil, fmt.Errorf("parse loan abi: %w", err)
	}
	opsABI, err := contracts.ParseFHEOperations()
	if err != nil {
		return nil, fmt.Errorf("parse ops abi: %w", err)
	}

	w := &Wallet{
		opts:     opts,
		loanABI:  loanABI,
		opsABI:   opsABI,
		accounts: append([]common.Address(nil), opts.Accounts...),
		balances: make(map[common.Address]*big.Int),
		chainID:  opts.ChainID,
		known:    map[uint64]bool{opts.ChainID: true},
		calls:    make(map[string]int),
		pending:  make(map[common.Hash]int),
		receipts: make(map[common.Hash]*types.Receipt),
		loans:    make(map[uint64]*loan),
		pairings: make(map[string]uint64),
		block:    1,
	}
	for _, id := range opts.KnownChains {
		w.known[id] = true
	}
	for _, a := range opts.Accounts {
		w.balances[a] = new(big.Int).Set(opts.Balance)
	}

	srv := rpc.NewServer()
	for ns, svc := range map[string]interface{}{
		"eth":    &ethAPI{w: w},
		"wallet": &walletAPI{w: w},
		"relay":  &relayAPI{w: w},
	} {
		if err := srv.RegisterName(ns, svc); err != nil {
			return nil, fmt.Errorf("register %s api: %w", ns, err)
		}
	}
	w.server = srv
	return w, nil
}

// Dial opens a new in-process client connection.
func (w *Wallet) Dial(context.Context) (*rpc.Client, error) {
	return rpc.DialInProc(w.server), nil
}

func (w *Wallet) Close() {
	w.server.Stop()
}

// SetAccounts replaces the exposed accounts and notifies subscribers, as a
// user switching or locking accounts in the wallet would.
func (w *Wallet) SetAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.accounts = append([]common.Address(nil), accounts...)
	for _, a := range accounts {
		if _, ok := w.balances[a]; !ok {
			w.balances[a] = new(big.Int).Set(w.opts.Balance)
		}
	}
	w.mu.Unlock()
	w.accountFeed.Send(append([]common.Address{}, accounts...))
}

// SetBalance sets an account balance in wei.
func (w *Wallet) SetBalance(account common.Address, wei *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[account] = new(big.Int).Set(wei)
}

// UserSwitchChain moves the wallet to another chain from the wallet side.
func (w *Wallet) UserSwitchChain(chainID uint64) {
	w.mu.Lock()
	w.chainID = chainID
	w.known[chainID] = true
	w.mu.Unlock()
	w.chainFeed.Send(hexutil.Uint64(chainID))
}

func (w *Wallet) RejectConnect(v bool) { w.set(func() { w.rejectConnect = v }) }
func (w *Wallet) RejectSwitch(v bool)  { w.set(func() { w.rejectSwitch = v }) }
func (w *Wallet) RejectAdd(v bool)     { w.set(func() { w.rejectAdd = v }) }
func (w *Wallet) RejectSend(v bool)    { w.set(func() { w.rejectSend = v }) }

// OverrideCall routes every eth_call through fn; nil restores the contracts.
func (w *Wallet) OverrideCall(fn CallFunc) { w.set(func() { w.callOverride = fn }) }

// Forget removes a chain from the wallet's known list.
func (w *Wallet) Forget(chainID uint64) { w.set(func() { delete(w.known, chainID) }) }

func (w *Wallet) set(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
}

func (w *Wallet) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

func (w *Wallet) Knows(chainID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known[chainID]
}

// CallCount reports how often a JSON-RPC method was served.
func (w *Wallet) CallCount(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

// TotalCalls counts every served request, subscriptions included.
func (w *Wallet) TotalCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalCalls
}

// Paired reports whether a relay topic is registered.
func (w *Wallet) Paired(topic string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pairings[topic]
	return ok
}

// PairingCount is the number of live relay pairings.
func (w *Wallet) PairingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pairings)
}

// Block is the current block height.
func (w *Wallet) Block() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.block
}

// MineEmpty advances the chain by n blocks.
func (w *Wallet) MineEmpty(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.block += n
}

func (w *Wallet) record(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[method]++
	w.totalCalls++
}

func (w *Wallet) authorized(a common.Address) bool {
	for _, acct := range w.accounts {
		if acct == a {
			return true
		}
	}
	return false
}
