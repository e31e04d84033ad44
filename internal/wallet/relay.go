package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize       = 256
	relayDisconnectWait = 2 * time.Second
)

// Pairing is what the user scans with their mobile wallet.
type Pairing struct {
	Topic     string    `json:"topic"`
	URI       string    `json:"uri"`
	QRCode    []byte    `json:"qrCode"`
	CreatedAt time.Time `json:"createdAt"`
}

// Terminal renders the pairing URI as a QR code made of block characters.
func (p Pairing) Terminal() (string, error) {
	qr, err := qrcode.New(p.URI, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("create QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

type RelayConfig struct {
	Dial Dialer
	// RelayURL is advertised to the mobile wallet inside the pairing URI.
	RelayURL string
	ChainID  uint64
	// OnPairing is called once per new pairing, before accounts are requested.
	OnPairing func(Pairing)
	QRSize    int
}

// Relay reaches a mobile wallet through a relay server. Requests are proxied
// to the phone once the user scans the pairing code, so RequestAccounts
// blocks until the user approves on the device.
type Relay struct {
	t   transport
	cfg RelayConfig

	mu      sync.Mutex
	pairing *Pairing
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaultQRSize
	}
	return &Relay{t: transport{dial: cfg.Dial}, cfg: cfg}
}

func (r *Relay) Kind() Kind { return KindRelay }

func (r *Relay) Available() bool { return r.t.available() }

func (r *Relay) Open(ctx context.Context) (*rpc.Client, error) {
	cli, err := r.t.open(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := r.Pairing(); ok {
		return cli, nil
	}

	p, err := newPairing(r.cfg.RelayURL, r.cfg.QRSize)
	if err != nil {
		r.t.close()
		return nil, err
	}
	if err := cli.CallContext(ctx, nil, "relay_pair", p.Topic, hexutil.Uint64(r.cfg.ChainID)); err != nil {
		r.t.close()
		return nil, fmt.Errorf("register pairing: %w", err)
	}

	r.mu.Lock()
	r.pairing = &p
	r.mu.Unlock()

	if r.cfg.OnPairing != nil {
		r.cfg.OnPairing(p)
	}
	return cli, nil
}

// Pairing returns the active pairing, if any.
func (r *Relay) Pairing() (Pairing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pairing == nil {
		return Pairing{}, false
	}
	return *r.pairing, true
}

func (r *Relay) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return r.t.requestAccounts(ctx)
}

func (r *Relay) Accounts(ctx context.Context) ([]common.Address, error) {
	return r.t.accounts(ctx)
}

func (r *Relay) SubscribeAccounts(ctx context.Context, ch chan<- []common.Address) (ethereum.Subscription, error) {
	return r.t.subscribe(ctx, ch, "accountsChanged")
}

func (r *Relay) SubscribeChain(ctx context.Context, ch chan<- hexutil.Uint64) (ethereum.Subscription, error) {
	return r.t.subscribe(ctx, ch, "chainChanged")
}

// Close ends the relay session and drops the transport.
func (r *Relay) Close() error {
	r.mu.Lock()
	p := r.pairing
	r.pairing = nil
	r.mu.Unlock()

	var err error
	if cli, cerr := r.t.current(); cerr == nil && p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayDisconnectWait)
		err = cli.CallContext(ctx, nil, "relay_disconnect", p.Topic)
		cancel()
		if err != nil {
			err = fmt.Errorf("relay disconnect: %w", err)
		}
	}
	r.t.close()
	return err
}

func newPairing(relayURL string, qrSize int) (Pairing, error) {
	symKey := make([]byte, 32)
	if _, err := rand.Read(symKey); err != nil {
		return Pairing{}, fmt.Errorf("generate pairing key: %w", err)
	}
	topic := strings.ReplaceAll(uuid.NewString(), "-", "")

	q := url.Values{}
	q.Set("relay-protocol", "irn")
	q.Set("symKey", hex.EncodeToString(symKey))
	if relayURL != "" {
		q.Set("relay-url", relayURL)
	}
	uri := fmt.Sprintf("wc:%s@2?%s", topic, q.Encode())

	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return Pairing{}, fmt.Errorf("render pairing QR: %w", err)
	}
	return Pairing{
		Topic:     topic,
		URI:       uri,
		QRCode:    png,
		CreatedAt: time.Now().UTC(),
	}, nil
}
