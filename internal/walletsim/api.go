package walletsim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const txGas = 21000

type ethAPI struct{ w *Wallet }

func (a *ethAPI) RequestAccounts() ([]common.Address, error) {
	w := a.w
	w.record("eth_requestAccounts")
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectConnect {
		return nil, rejected()
	}
	return append([]common.Address{}, w.accounts...), nil
}

func (a *ethAPI) Accounts() []common.Address {
	w := a.w
	w.record("eth_accounts")
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address{}, w.accounts...)
}

func (a *ethAPI) ChainId() hexutil.Uint64 {
	a.w.record("eth_chainId")
	return hexutil.Uint64(a.w.ChainID())
}

func (a *ethAPI) BlockNumber() hexutil.Uint64 {
	a.w.record("eth_blockNumber")
	return hexutil.Uint64(a.w.Block())
}

func (a *ethAPI) GetBalance(account common.Address, _ string) *hexutil.Big {
	w := a.w
	w.record("eth_getBalance")
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.balances[account]
	if !ok {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(new(big.Int).Set(bal))
}

func (a *ethAPI) GetCode(account common.Address, _ string) hexutil.Bytes {
	w := a.w
	w.record("eth_getCode")
	if account == w.opts.LoanContract || account == w.opts.OpsContract {
		return hexutil.Bytes{0x60, 0x80, 0x60, 0x40}
	}
	return hexutil.Bytes{}
}

type txArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (t txArgs) payload() []byte {
	if t.Input != nil {
		return *t.Input
	}
	if t.Data != nil {
		return *t.Data
	}
	return nil
}

func (a *ethAPI) SendTransaction(args txArgs) (common.Hash, error) {
	w := a.w
	w.record("eth_sendTransaction")
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rejectSend {
		return common.Hash{}, rejected()
	}
	if !w.authorized(args.From) {
		return common.Hash{}, &rpcError{code: codeUnauthorized, msg: "The requested account has not been authorized by the user."}
	}
	if args.To == nil {
		return common.Hash{}, &rpcError{code: codeInvalidParams, msg: "contract creation is not supported"}
	}

	input := args.payload()
	status := types.ReceiptStatusSuccessful
	var logs []*types.Log
	if *args.To == w.opts.LoanContract && len(input) > 0 {
		var err error
		logs, err = w.execLoan(args.From, input)
		if err != nil {
			status = types.ReceiptStatusFailed
			logs = nil
		}
	}

	w.nonce++
	w.block++
	hash := crypto.Keccak256Hash(args.From.Bytes(), args.To.Bytes(), input, new(big.Int).SetUint64(w.nonce).Bytes())
	blockHash := crypto.Keccak256Hash(new(big.Int).SetUint64(w.block).Bytes())
	if logs == nil {
		logs = []*types.Log{}
	}
	for i, l := range logs {
		l.Address = *args.To
		l.TxHash = hash
		l.BlockNumber = w.block
		l.BlockHash = blockHash
		l.Index = uint(len(w.logs) + i)
	}
	w.logs = append(w.logs, logs...)
	w.receipts[hash] = &types.Receipt{
		Status:            status,
		CumulativeGasUsed: txGas,
		Logs:              logs,
		TxHash:            hash,
		GasUsed:           txGas,
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).SetUint64(w.block),
	}
	w.pending[hash] = w.opts.ReceiptDelay
	return hash, nil
}

func (a *ethAPI) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	w := a.w
	w.record("eth_getTransactionReceipt")
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.pending[hash]; n > 0 {
		w.pending[hash] = n - 1
		return nil, nil
	}
	r, ok := w.receipts[hash]
	if !ok {
		return nil, nil
	}
	return r, nil
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (c callArgs) payload() []byte {
	if c.Input != nil {
		return *c.Input
	}
	if c.Data != nil {
		return *c.Data
	}
	return nil
}

func (a *ethAPI) Call(args callArgs, _ string) (hexutil.Bytes, error) {
	w := a.w
	w.record("eth_call")
	if args.To == nil {
		return nil, &rpcError{code: codeInvalidParams, msg: "missing call target"}
	}
	input := args.payload()

	w.mu.Lock()
	override := w.callOverride
	w.mu.Unlock()
	if override != nil {
		return override(*args.To, input)
	}

	switch *args.To {
	case w.opts.OpsContract:
		return w.execOps(input)
	case w.opts.LoanContract:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.viewLoan(input)
	}
	return hexutil.Bytes{}, nil
}

type filterArgs struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

func (a *ethAPI) GetLogs(crit filterArgs) ([]*types.Log, error) {
	w := a.w
	w.record("eth_getLogs")
	w.mu.Lock()
	defer w.mu.Unlock()

	from, err := parseBlock(crit.FromBlock, 0, w.block)
	if err != nil {
		return nil, err
	}
	to, err := parseBlock(crit.ToBlock, w.block, w.block)
	if err != nil {
		return nil, err
	}

	out := []*types.Log{}
	for _, l := range w.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matchAddress(l.Address, crit.Address) || !matchTopics(l.Topics, crit.Topics) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (a *ethAPI) AccountsChanged(ctx context.Context) (*rpc.Subscription, error) {
	a.w.record("eth_subscribe")
	return forward[[]common.Address](ctx, &a.w.accountFeed)
}

func (a *ethAPI) ChainChanged(ctx context.Context) (*rpc.Subscription, error) {
	a.w.record("eth_subscribe")
	return forward[hexutil.Uint64](ctx, &a.w.chainFeed)
}

// forward relays feed values to one subscriber until it unsubscribes.
func forward[T any](ctx context.Context, feed *event.Feed) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	ch := make(chan T, 16)
	fsub := feed.Subscribe(ch)
	go func() {
		defer fsub.Unsubscribe()
		for {
			select {
			case v := <-ch:
				_ = notifier.Notify(sub.ID, v)
			case <-sub.Err():
				return
			case <-fsub.Err():
				return
			}
		}
	}()
	return sub, nil
}

type walletAPI struct{ w *Wallet }

type switchArgs struct {
	ChainID string `json:"chainId"`
}

type addArgs struct {
	ChainID   string   `json:"chainId"`
	ChainName string   `json:"chainName"`
	RPCURLs   []string `json:"rpcUrls"`
}

func (a *walletAPI) SwitchEthereumChain(args switchArgs) error {
	w := a.w
	w.record("wallet_switchEthereumChain")
	id, err := hexutil.DecodeUint64(args.ChainID)
	if err != nil {
		return &rpcError{code: codeInvalidParams, msg: fmt.Sprintf("invalid chainId %q", args.ChainID)}
	}

	w.mu.Lock()
	if w.rejectSwitch {
		w.mu.Unlock()
		return rejected()
	}
	if !w.known[id] {
		w.mu.Unlock()
		return &rpcError{code: codeUnrecognizedChain, msg: fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain using wallet_addEthereumChain first.", args.ChainID)}
	}
	changed := w.chainID != id
	w.chainID = id
	w.mu.Unlock()

	if changed {
		w.chainFeed.Send(hexutil.Uint64(id))
	}
	return nil
}

func (a *walletAPI) AddEthereumChain(args addArgs) error {
	w := a.w
	w.record("wallet_addEthereumChain")
	id, err := hexutil.DecodeUint64(args.ChainID)
	if err != nil {
		return &rpcError{code: codeInvalidParams, msg: fmt.Sprintf("invalid chainId %q", args.ChainID)}
	}
	if len(args.RPCURLs) == 0 {
		return &rpcError{code: codeInvalidParams, msg: "rpcUrls must not be empty"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectAdd {
		return rejected()
	}
	w.known[id] = true
	return nil
}

type relayAPI struct{ w *Wallet }

func (a *relayAPI) Pair(topic string, chainID hexutil.Uint64) error {
	w := a.w
	w.record("relay_pair")
	if strings.TrimSpace(topic) == "" {
		return errors.New("empty pairing topic")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pairings[topic] = uint64(chainID)
	return nil
}

func (a *relayAPI) Disconnect(topic string) error {
	w := a.w
	w.record("relay_disconnect")
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pairings, topic)
	return nil
}

func parseBlock(s string, def, latest uint64) (uint64, error) {
	switch s {
	case "":
		return def, nil
	case "latest", "pending", "safe", "finalized":
		return latest, nil
	case "earliest":
		return 0, nil
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, &rpcError{code: codeInvalidParams, msg: fmt.Sprintf("invalid block %q", s)}
	}
	return n, nil
}

func matchAddress(addr common.Address, want []common.Address) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == addr {
			return true
		}
	}
	return false
}

func matchTopics(topics []common.Hash, want [][]common.Hash) bool {
	if len(want) > len(topics) {
		return false
	}
	for i, alts := range want {
		if len(alts) == 0 {
			continue
		}
		found := false
		for _, t := range alts {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
