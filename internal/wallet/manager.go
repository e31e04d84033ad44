package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type Config struct {
	// RequiredChainID is the chain the contracts live on. Chain changes away
	// from it trigger one automatic switch request.
	RequiredChainID uint64
	Networks        *Networks
}

// Manager owns the single wallet session. Connect, Disconnect and
// SwitchNetwork are serialised; account and chain notifications update the
// session concurrently with in-flight contract calls.
type Manager struct {
	cfg      Config
	log      *zap.Logger
	backends map[Kind]Backend

	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	session       Session
	gen           uint64
	backend       Backend
	client        *rpc.Client
	subs          []ethereum.Subscription
	stopWatch     context.CancelFunc
	watchDone     chan struct{}
	cancelConnect context.CancelFunc
}

func NewManager(cfg Config, log *zap.Logger, backends ...Backend) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		log:      log.Named("wallet"),
		backends: make(map[Kind]Backend, len(backends)),
		session:  emptySession(),
	}
	for _, b := range backends {
		if b != nil {
			m.backends[b.Kind()] = b
		}
	}
	return m
}

// RequiredChainID is the chain the manager steers the wallet towards.
func (m *Manager) RequiredChainID() uint64 { return m.cfg.RequiredChainID }

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.clone()
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Active snapshots the session for a single contract call.
func (m *Manager) Active() (Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.session.IsConnected || m.client == nil {
		return Conn{}, ErrNotConnected
	}
	conn := Conn{
		Client:  m.client,
		Account: *m.session.Account,
		Kind:    m.session.WalletKind,
	}
	if m.session.ChainID != nil {
		conn.ChainID = *m.session.ChainID
	}
	return conn, nil
}

// Connect requests account access from the chosen backend and starts
// listening for account and chain changes.
func (m *Manager) Connect(ctx context.Context, kind Kind) (Session, error) {
	b, ok := m.backends[kind]
	if !ok || !b.Available() {
		return Session{}, fmt.Errorf("%w: %s", ErrBackendUnavailable, kind)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelConnect = cancel
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	current, leftover := m.session.clone(), m.backend
	m.mu.RUnlock()
	if current.IsConnected && current.WalletKind == kind {
		return current, nil
	}
	if leftover != nil {
		m.teardown()
	}

	m.setState(StateConnecting)
	sess, err := m.establish(ctx, b, b.RequestAccounts)
	if err != nil {
		if cerr := b.Close(); cerr != nil {
			m.log.Debug("close backend after failed connect", zap.Error(cerr))
		}
		m.setState(StateDisconnected)
		m.log.Warn("wallet connect failed", zap.Stringer("kind", kind), zap.Error(err))
		return Session{}, err
	}
	m.log.Info("wallet connected",
		zap.Stringer("kind", kind),
		zap.String("account", sess.Account.Hex()),
		zap.Uint64p("chainId", sess.ChainID),
	)
	return sess, nil
}

// Restore picks up a session the wallet already authorised, using
// eth_accounts so the user is never prompted. A wallet exposing no accounts
// leaves the manager disconnected without error.
func (m *Manager) Restore(ctx context.Context, kind Kind) (Session, error) {
	b, ok := m.backends[kind]
	if !ok || !b.Available() {
		return Session{}, fmt.Errorf("%w: %s", ErrBackendUnavailable, kind)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	current, leftover := m.session.clone(), m.backend
	m.mu.RUnlock()
	if current.IsConnected {
		return current, nil
	}
	if leftover != nil {
		m.teardown()
	}

	m.setState(StateConnecting)
	sess, err := m.establish(ctx, b, func(ctx context.Context) ([]common.Address, error) {
		accounts, err := b.Accounts(ctx)
		if err == nil && len(accounts) == 0 {
			return nil, errNotAuthorised
		}
		return accounts, err
	})
	if err != nil {
		if cerr := b.Close(); cerr != nil {
			m.log.Debug("close backend after restore", zap.Error(cerr))
		}
		m.setState(StateDisconnected)
		if errors.Is(err, errNotAuthorised) {
			m.log.Debug("no previously authorised wallet", zap.Stringer("kind", kind))
			return emptySession(), nil
		}
		m.log.Warn("wallet restore failed", zap.Stringer("kind", kind), zap.Error(err))
		return Session{}, err
	}
	m.log.Info("wallet session restored",
		zap.Stringer("kind", kind),
		zap.String("account", sess.Account.Hex()),
		zap.Uint64p("chainId", sess.ChainID),
	)
	return sess, nil
}

func (m *Manager) establish(ctx context.Context, b Backend, listAccounts func(context.Context) ([]common.Address, error)) (Session, error) {
	client, err := b.Open(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	accounts, err := listAccounts(ctx)
	if err != nil {
		return Session{}, err
	}
	if len(accounts) == 0 {
		return Session{}, fmt.Errorf("%w: no accounts returned", ErrConnectionRejected)
	}
	account := accounts[0]

	eth := ethclient.NewClient(client)
	chain, err := eth.ChainID(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("query chain id: %w", err)
	}
	chainID := chain.Uint64()

	balance, err := balanceOf(ctx, eth, account)
	if err != nil {
		return Session{}, err
	}

	accCh := make(chan []common.Address, 4)
	chainCh := make(chan hexutil.Uint64, 4)
	accSub, err := b.SubscribeAccounts(ctx, accCh)
	if err != nil {
		return Session{}, err
	}
	chainSub, err := b.SubscribeChain(ctx, chainCh)
	if err != nil {
		accSub.Unsubscribe()
		return Session{}, err
	}

	watchCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.session = Session{
		Account:     &account,
		Balance:     balance,
		ChainID:     &chainID,
		WalletKind:  b.Kind(),
		IsConnected: true,
	}
	m.backend = b
	m.client = client
	m.subs = []ethereum.Subscription{accSub, chainSub}
	m.stopWatch = stop
	m.watchDone = done
	sess := m.session.clone()
	m.mu.Unlock()

	go m.watch(watchCtx, gen, eth, accCh, chainCh, accSub, chainSub, done)
	return sess, nil
}

// Disconnect releases the wallet session. Calling it without a session is a
// no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	if m.stopWatch != nil {
		m.stopWatch()
	}
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.teardown()
}

// release tears down the session started as generation gen, leaving any
// newer session alone.
func (m *Manager) release(gen uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.RLock()
	stale := m.gen != gen
	m.mu.RUnlock()
	if stale {
		return
	}
	if err := m.teardown(); err != nil {
		m.log.Warn("wallet teardown", zap.Error(err))
	}
}

// teardown must be called with opMu held.
func (m *Manager) teardown() error {
	m.mu.Lock()
	b, subs, stop, done := m.backend, m.subs, m.stopWatch, m.watchDone
	m.backend, m.client, m.subs, m.stopWatch, m.watchDone = nil, nil, nil, nil, nil
	m.state = StateDisconnected
	m.session = emptySession()
	m.mu.Unlock()

	if b == nil {
		return nil
	}
	if stop != nil {
		stop()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if done != nil {
		<-done
	}
	err := b.Close()
	m.log.Info("wallet disconnected", zap.Stringer("kind", b.Kind()))
	return err
}

// SwitchNetwork asks the wallet to move to chainID, registering the chain
// first when the wallet does not know it.
func (m *Manager) SwitchNetwork(ctx context.Context, chainID uint64) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	client, connected, current := m.client, m.session.IsConnected, m.session.ChainID
	m.mu.RUnlock()
	if !connected || client == nil {
		return ErrNotConnected
	}
	if current != nil && *current == chainID {
		return nil
	}

	err := requestSwitch(ctx, client, chainID)
	if err == nil {
		m.setChain(chainID)
		return nil
	}
	if code, _ := RPCErrorCode(err); code != CodeUnrecognizedChain {
		return err
	}

	net, ok := m.cfg.Networks.Lookup(chainID)
	if !ok {
		return fmt.Errorf("%w: chain %d", ErrUnknownNetwork, chainID)
	}
	m.log.Info("registering network with wallet", zap.Uint64("chainId", chainID), zap.String("name", net.Name))
	if err := client.CallContext(ctx, nil, "wallet_addEthereumChain", net.addChainParams()); err != nil {
		if isUserRejection(err) {
			return fmt.Errorf("%w: add chain %d: %v", ErrNetworkSwitchDenied, chainID, err)
		}
		return fmt.Errorf("add network %d: %w", chainID, err)
	}
	if err := requestSwitch(ctx, client, chainID); err != nil {
		return fmt.Errorf("retry after adding network: %w", err)
	}
	m.setChain(chainID)
	return nil
}

func requestSwitch(ctx context.Context, client *rpc.Client, chainID uint64) error {
	err := client.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParams{ChainID: hexutil.EncodeUint64(chainID)})
	if err == nil {
		return nil
	}
	if isUserRejection(err) {
		return fmt.Errorf("%w: chain %d: %v", ErrNetworkSwitchDenied, chainID, err)
	}
	if code, _ := RPCErrorCode(err); code == CodeUnrecognizedChain {
		return err
	}
	return fmt.Errorf("switch network %d: %w", chainID, err)
}

func (m *Manager) watch(
	ctx context.Context,
	gen uint64,
	eth *ethclient.Client,
	accCh <-chan []common.Address,
	chainCh <-chan hexutil.Uint64,
	accSub, chainSub ethereum.Subscription,
	done chan struct{},
) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case accounts := <-accCh:
			if len(accounts) == 0 {
				m.log.Info("wallet reported no accounts")
				m.drop(gen)
				return
			}
			m.onAccount(ctx, eth, accounts[0])
		case id := <-chainCh:
			m.onChain(ctx, uint64(id))
		case err := <-accSub.Err():
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("account subscription ended", zap.Error(err))
			m.drop(gen)
			return
		case err := <-chainSub.Err():
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("chain subscription ended", zap.Error(err))
			m.drop(gen)
			return
		}
	}
}

// drop clears the visible session immediately and releases the backend in
// the background; teardown waits for the watcher, which is the caller.
func (m *Manager) drop(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.state = StateDisconnected
		m.session = emptySession()
	}
	m.mu.Unlock()
	go m.release(gen)
}

func (m *Manager) onAccount(ctx context.Context, eth *ethclient.Client, account common.Address) {
	m.mu.Lock()
	if !m.session.IsConnected {
		m.mu.Unlock()
		return
	}
	acct := account
	m.session.Account = &acct
	m.mu.Unlock()

	balance, err := balanceOf(ctx, eth, account)
	if err != nil {
		m.log.Warn("refresh balance", zap.String("account", account.Hex()), zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.session.Account != nil && *m.session.Account == account {
		m.session.Balance = balance
	}
	m.mu.Unlock()
	m.log.Info("wallet account changed", zap.String("account", account.Hex()))
}

func (m *Manager) onChain(ctx context.Context, chainID uint64) {
	m.setChain(chainID)
	required := m.cfg.RequiredChainID
	if required == 0 || chainID == required {
		return
	}
	m.log.Info("wallet left required network", zap.Uint64("chainId", chainID), zap.Uint64("required", required))
	go func() {
		if err := m.SwitchNetwork(ctx, required); err != nil {
			m.log.Warn("automatic network switch", zap.Uint64("required", required), zap.Error(err))
		}
	}()
}

func (m *Manager) setChain(chainID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsConnected {
		return
	}
	id := chainID
	m.session.ChainID = &id
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func balanceOf(ctx context.Context, eth *ethclient.Client, account common.Address) (string, error) {
	wei, err := eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return "", fmt.Errorf("query balance: %w", err)
	}
	if wei == nil {
		wei = new(big.Int)
	}
	return FormatEther(wei), nil
}
