package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vaultlend/internal/walletsim"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func newSim(t *testing.T, opts walletsim.Options) *walletsim.Wallet {
	t.Helper()
	if opts.Accounts == nil {
		opts.Accounts = []common.Address{alice}
	}
	if opts.ChainID == 0 {
		opts.ChainID = SepoliaChainID
	}
	sim, err := walletsim.New(opts)
	require.NoError(t, err)
	t.Cleanup(sim.Close)
	return sim
}

func newManager(t *testing.T, cfg Config, backends ...Backend) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	if cfg.Networks == nil {
		cfg.Networks = NewNetworks(Sepolia("https://rpc.sepolia.org"))
	}
	m := NewManager(cfg, zap.New(core), backends...)
	t.Cleanup(func() { _ = m.Disconnect() })
	return m, logs
}

func connected(t *testing.T, sim *walletsim.Wallet, required uint64) *Manager {
	t.Helper()
	m, _ := newManager(t, Config{RequiredChainID: required}, NewExtension(sim.Dial))
	_, err := m.Connect(context.Background(), KindExtension)
	require.NoError(t, err)
	return m
}

func TestConnectThenDisconnectYieldsEmptySession(t *testing.T) {
	oneAndHalf, _ := new(big.Int).SetString("1500000000000000000", 10)
	sim := newSim(t, walletsim.Options{Balance: oneAndHalf})
	m, logs := newManager(t, Config{RequiredChainID: SepoliaChainID}, NewExtension(sim.Dial))

	sess, err := m.Connect(context.Background(), KindExtension)
	require.NoError(t, err)
	require.True(t, sess.IsConnected)
	require.Equal(t, alice, *sess.Account)
	require.Equal(t, SepoliaChainID, *sess.ChainID)
	require.Equal(t, "1.5", sess.Balance)
	require.Equal(t, KindExtension, sess.WalletKind)
	require.Equal(t, StateConnected, m.State())
	require.Equal(t, 1, logs.FilterMessage("wallet connected").Len())

	require.NoError(t, m.Disconnect())
	require.Equal(t, emptySession(), m.Session())
	require.Equal(t, StateDisconnected, m.State())

	_, err = m.Active()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m, _ := newManager(t, Config{}, NewExtension(sim.Dial))

	require.NoError(t, m.Disconnect())
	_, err := m.Connect(context.Background(), KindExtension)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Disconnect())
	require.False(t, m.Session().IsConnected)
}

func TestConnectSameKindReturnsCurrentSession(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, SepoliaChainID)

	sess, err := m.Connect(context.Background(), KindExtension)
	require.NoError(t, err)
	require.Equal(t, alice, *sess.Account)
	require.Equal(t, 1, sim.CallCount("eth_requestAccounts"))
}

func TestConnectUnavailableBackend(t *testing.T) {
	m, _ := newManager(t, Config{}, NewExtension(nil))

	_, err := m.Connect(context.Background(), KindExtension)
	require.ErrorIs(t, err, ErrBackendUnavailable)

	_, err = m.Connect(context.Background(), KindRelay)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.Equal(t, StateDisconnected, m.State())
}

func TestConnectDialFailure(t *testing.T) {
	dial := func(context.Context) (*rpc.Client, error) { return nil, errors.New("connection refused") }
	m, _ := newManager(t, Config{}, NewExtension(dial))

	_, err := m.Connect(context.Background(), KindExtension)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.Equal(t, StateDisconnected, m.State())
}

func TestConnectRejectedByUser(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	sim.RejectConnect(true)
	m, _ := newManager(t, Config{}, NewExtension(sim.Dial))

	_, err := m.Connect(context.Background(), KindExtension)
	require.ErrorIs(t, err, ErrConnectionRejected)
	require.False(t, m.Session().IsConnected)
}

func TestConnectWithNoAccountsIsRejected(t *testing.T) {
	sim := newSim(t, walletsim.Options{Accounts: []common.Address{}})
	m, _ := newManager(t, Config{}, NewExtension(sim.Dial))

	_, err := m.Connect(context.Background(), KindExtension)
	require.ErrorIs(t, err, ErrConnectionRejected)
}

func TestRestoreAuthorisedWallet(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	sim.SetBalance(alice, big.NewInt(2_000_000_000_000_000_000))
	m, logs := newManager(t, Config{RequiredChainID: SepoliaChainID}, NewExtension(sim.Dial))

	sess, err := m.Restore(context.Background(), KindExtension)
	require.NoError(t, err)
	require.True(t, sess.IsConnected)
	require.Equal(t, alice, *sess.Account)
	require.Equal(t, SepoliaChainID, *sess.ChainID)
	require.Equal(t, "2", sess.Balance)
	require.Equal(t, StateConnected, m.State())
	require.Equal(t, 1, sim.CallCount("eth_accounts"))
	require.Zero(t, sim.CallCount("eth_requestAccounts"))
	require.Equal(t, 1, logs.FilterMessage("wallet session restored").Len())

	// The restored session is watched like a connected one.
	sim.SetAccounts(bob)
	require.Eventually(t, func() bool {
		s := m.Session()
		return s.Account != nil && *s.Account == bob
	}, waitFor, tick)

	again, err := m.Restore(context.Background(), KindExtension)
	require.NoError(t, err)
	require.Equal(t, bob, *again.Account)
	require.Equal(t, 1, sim.CallCount("eth_accounts"))
}

func TestRestoreWithoutAccountsStaysDisconnected(t *testing.T) {
	sim := newSim(t, walletsim.Options{Accounts: []common.Address{}})
	m, _ := newManager(t, Config{}, NewExtension(sim.Dial))

	sess, err := m.Restore(context.Background(), KindExtension)
	require.NoError(t, err)
	require.Equal(t, emptySession(), sess)
	require.Equal(t, StateDisconnected, m.State())
	require.Zero(t, sim.CallCount("eth_requestAccounts"))

	_, err = m.Active()
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = m.Restore(context.Background(), KindRelay)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestAccountChangeUpdatesSession(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	sim.SetBalance(bob, big.NewInt(2_000_000_000_000_000_000))
	m := connected(t, sim, SepoliaChainID)

	sim.SetAccounts(bob)
	require.Eventually(t, func() bool {
		s := m.Session()
		return s.Account != nil && *s.Account == bob && s.Balance == "2"
	}, waitFor, tick)

	conn, err := m.Active()
	require.NoError(t, err)
	require.Equal(t, bob, conn.Account)
}

func TestEmptyAccountListDisconnects(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, SepoliaChainID)

	sim.SetAccounts()
	require.Eventually(t, func() bool {
		return !m.Session().IsConnected && m.State() == StateDisconnected
	}, waitFor, tick)
	require.Equal(t, emptySession(), m.Session())
}

func TestChainChangeSwitchesBackToRequired(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, SepoliaChainID)

	sim.UserSwitchChain(1)
	require.Eventually(t, func() bool {
		return sim.ChainID() == SepoliaChainID && sim.CallCount("wallet_switchEthereumChain") == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		s := m.Session()
		return s.ChainID != nil && *s.ChainID == SepoliaChainID
	}, waitFor, tick)
}

func TestChainChangeWithoutRequiredChainOnlyRecords(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, 0)

	sim.UserSwitchChain(5)
	require.Eventually(t, func() bool {
		s := m.Session()
		return s.ChainID != nil && *s.ChainID == 5
	}, waitFor, tick)
	require.Zero(t, sim.CallCount("wallet_switchEthereumChain"))
}

func TestSwitchNetworkOnCurrentChainIsNoop(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, SepoliaChainID)

	before := sim.TotalCalls()
	require.NoError(t, m.SwitchNetwork(context.Background(), SepoliaChainID))
	require.Equal(t, before, sim.TotalCalls())
}

func TestSwitchNetworkAddsUnknownChain(t *testing.T) {
	sim := newSim(t, walletsim.Options{ChainID: 1})
	m := connected(t, sim, SepoliaChainID)
	require.Equal(t, uint64(1), *m.Session().ChainID)

	require.NoError(t, m.SwitchNetwork(context.Background(), SepoliaChainID))
	require.Equal(t, 1, sim.CallCount("wallet_addEthereumChain"))
	require.Equal(t, 2, sim.CallCount("wallet_switchEthereumChain"))
	require.True(t, sim.Knows(SepoliaChainID))
	require.Equal(t, SepoliaChainID, sim.ChainID())
	require.Equal(t, SepoliaChainID, *m.Session().ChainID)
}

func TestSwitchNetworkDenied(t *testing.T) {
	sim := newSim(t, walletsim.Options{ChainID: 1, KnownChains: []uint64{SepoliaChainID}})
	m := connected(t, sim, 0)

	sim.RejectSwitch(true)
	err := m.SwitchNetwork(context.Background(), SepoliaChainID)
	require.ErrorIs(t, err, ErrNetworkSwitchDenied)
	require.Equal(t, uint64(1), sim.ChainID())
}

func TestSwitchNetworkAddDenied(t *testing.T) {
	sim := newSim(t, walletsim.Options{ChainID: 1})
	m := connected(t, sim, 0)

	sim.RejectAdd(true)
	err := m.SwitchNetwork(context.Background(), SepoliaChainID)
	require.ErrorIs(t, err, ErrNetworkSwitchDenied)
	require.False(t, sim.Knows(SepoliaChainID))
}

func TestSwitchNetworkUnknownMetadata(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	m := connected(t, sim, 0)

	err := m.SwitchNetwork(context.Background(), 424242)
	require.ErrorIs(t, err, ErrUnknownNetwork)
	require.Zero(t, sim.CallCount("wallet_addEthereumChain"))
}

func TestSwitchNetworkRequiresSession(t *testing.T) {
	m, _ := newManager(t, Config{})
	require.ErrorIs(t, m.SwitchNetwork(context.Background(), SepoliaChainID), ErrNotConnected)
}

func TestConnectOtherKindReplacesSession(t *testing.T) {
	desk := newSim(t, walletsim.Options{})
	phone := newSim(t, walletsim.Options{Accounts: []common.Address{bob}})
	relay := NewRelay(RelayConfig{Dial: phone.Dial, ChainID: SepoliaChainID})
	m, _ := newManager(t, Config{RequiredChainID: SepoliaChainID}, NewExtension(desk.Dial), relay)

	_, err := m.Connect(context.Background(), KindExtension)
	require.NoError(t, err)

	sess, err := m.Connect(context.Background(), KindRelay)
	require.NoError(t, err)
	require.Equal(t, KindRelay, sess.WalletKind)
	require.Equal(t, bob, *sess.Account)

	// Events from the replaced wallet no longer reach the session.
	desk.SetAccounts()
	time.Sleep(50 * time.Millisecond)
	require.True(t, m.Session().IsConnected)
}
