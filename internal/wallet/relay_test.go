package wallet

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultlend/internal/walletsim"
)

func TestRelayPairingLifecycle(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	published := make(chan Pairing, 1)
	relay := NewRelay(RelayConfig{
		Dial:      sim.Dial,
		RelayURL:  "wss://relay.example.org",
		ChainID:   SepoliaChainID,
		OnPairing: func(p Pairing) { published <- p },
	})
	m, _ := newManager(t, Config{RequiredChainID: SepoliaChainID}, relay)

	sess, err := m.Connect(context.Background(), KindRelay)
	require.NoError(t, err)
	require.Equal(t, KindRelay, sess.WalletKind)

	var p Pairing
	select {
	case p = <-published:
	default:
		t.Fatal("pairing was not published")
	}
	require.Len(t, p.Topic, 32)
	require.True(t, strings.HasPrefix(p.URI, "wc:"+p.Topic+"@2?"))
	require.Contains(t, p.URI, "relay-protocol=irn")
	require.Contains(t, p.URI, "symKey=")
	require.True(t, bytes.HasPrefix(p.QRCode, []byte("\x89PNG")))
	require.True(t, sim.Paired(p.Topic))

	current, ok := relay.Pairing()
	require.True(t, ok)
	require.Equal(t, p.Topic, current.Topic)

	art, err := p.Terminal()
	require.NoError(t, err)
	require.NotEmpty(t, art)

	require.NoError(t, m.Disconnect())
	require.False(t, sim.Paired(p.Topic))
	require.Zero(t, sim.PairingCount())
	_, ok = relay.Pairing()
	require.False(t, ok)
}

func TestRelayRejectedConnectDropsPairing(t *testing.T) {
	sim := newSim(t, walletsim.Options{})
	sim.RejectConnect(true)
	relay := NewRelay(RelayConfig{Dial: sim.Dial, ChainID: SepoliaChainID})
	m, _ := newManager(t, Config{}, relay)

	_, err := m.Connect(context.Background(), KindRelay)
	require.ErrorIs(t, err, ErrConnectionRejected)
	require.Zero(t, sim.PairingCount())
	_, ok := relay.Pairing()
	require.False(t, ok)
}
