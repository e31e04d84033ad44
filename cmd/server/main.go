package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vaultlend/internal/config"
	"vaultlend/internal/idempotency"
	"vaultlend/internal/lending"
	"vaultlend/internal/notice"
	"vaultlend/internal/sealed"
	"vaultlend/internal/server"
	"vaultlend/internal/wallet"
	"vaultlend/internal/walletsim"
)

const (
	shutdownTimeout    = 10 * time.Second
	defaultRelayPublic = "wss://relay.vaultlend.local"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.Env.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func run(cfg *config.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prover, err := sealed.ProverByName(cfg.Env.ProofScheme)
	if err != nil {
		return err
	}
	networks := wallet.NewNetworks(cfg.Networks...)

	extensionDial, relayDial, rpcHealth, err := dialers(ctx, cfg, prover, logger)
	if err != nil {
		return err
	}

	relayPublic := cfg.Env.RelayPublicURL
	if relayPublic == "" {
		relayPublic = defaultRelayPublic
	}
	var relay *wallet.Relay
	backends := []wallet.Backend{}
	if extensionDial != nil {
		backends = append(backends, wallet.NewExtension(extensionDial))
	}
	if relayDial != nil {
		relay = wallet.NewRelay(wallet.RelayConfig{
			Dial:     relayDial,
			RelayURL: relayPublic,
			ChainID:  cfg.ChainID,
			OnPairing: func(p wallet.Pairing) {
				art, err := p.Terminal()
				if err != nil {
					logger.Warn("render pairing code", zap.Error(err))
					return
				}
				logger.Info("scan to pair mobile wallet", zap.String("uri", p.URI))
				fmt.Fprintln(os.Stderr, art)
			},
		})
		backends = append(backends, relay)
	}

	mgr := wallet.NewManager(wallet.Config{
		RequiredChainID: cfg.ChainID,
		Networks:        networks,
	}, logger, backends...)
	if extensionDial != nil {
		if _, err := mgr.Restore(ctx, wallet.KindExtension); err != nil {
			logger.Warn("restore wallet session", zap.Error(err))
		}
	}

	svc, err := lending.NewContractService(lending.Config{
		LoanContract:   cfg.VaultLend,
		OpsContract:    cfg.FHEOperations,
		Prover:         prover,
		ReceiptTimeout: cfg.Env.ReceiptTimeout,
		PollInterval:   cfg.Env.PollInterval,
	}, mgr, logger)
	if err != nil {
		return fmt.Errorf("contract service: %w", err)
	}

	board := notice.NewBoard(cfg.Env.NoticeTTL, notice.DefaultMax)
	hook := lending.NewHook(svc, board)

	var store idempotency.Store = idempotency.NewMemoryStore()
	var pg *idempotency.PostgresStore
	if cfg.Env.PostgresDSN != "" {
		pg, err = idempotency.NewPostgresStore(ctx, cfg.Env.PostgresDSN)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	deps := server.Deps{
		Wallet:    mgr,
		Loans:     hook,
		Store:     store,
		Notices:   board,
		Networks:  networks,
		RPCHealth: rpcHealth,
	}
	if relay != nil {
		deps.Pairings = relay
	}
	apiServer := server.NewServer(server.Config{
		HTTPPort:          cfg.Env.HTTPPort,
		HMACSecret:        cfg.Env.HMACSecret,
		HMACClockSkew:     cfg.Env.HMACClockSkew,
		IdempotencyWindow: cfg.Env.IdempotencyWindow,
	}, deps, logger)

	logger.Info("vaultlend starting",
		zap.String("walletMode", cfg.Env.WalletMode),
		zap.Uint64("chainId", cfg.ChainID),
		zap.String("vaultLend", cfg.VaultLend.Hex()),
		zap.String("fheOperations", cfg.FHEOperations.Hex()),
		zap.String("proofScheme", prover.Name()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if pg != nil {
		g.Go(func() error {
			purgeExpired(gctx, pg, cfg.Env.IdempotencyWindow, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Disconnect(); err != nil {
			logger.Warn("disconnect wallet", zap.Error(err))
		}
		return apiServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func purgeExpired(ctx context.Context, pg *idempotency.PostgresStore, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.Purge(ctx)
			if err != nil {
				logger.Warn("purge idempotency records", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("purged idempotency records", zap.Int64("count", n))
			}
		}
	}
}

// dialers picks the wallet transports for the configured mode. In simulated
// mode both backends share one in-process wallet.
func dialers(ctx context.Context, cfg *config.AppConfig, prover sealed.Prover, logger *zap.Logger) (ext, relay wallet.Dialer, health func(context.Context) error, err error) {
	if cfg.Env.WalletMode == config.ModeSimulated {
		balance, ok := new(big.Int).SetString(cfg.Env.SimBalanceWei, 10)
		if !ok {
			return nil, nil, nil, fmt.Errorf("invalid SIM_BALANCE_WEI %q", cfg.Env.SimBalanceWei)
		}
		chainID := cfg.Env.SimChainID
		if chainID == 0 {
			chainID = cfg.ChainID
		}
		sim, err := walletsim.New(walletsim.Options{
			Accounts:     cfg.SimAccounts(),
			Balance:      balance,
			ChainID:      chainID,
			LoanContract: cfg.VaultLend,
			OpsContract:  cfg.FHEOperations,
			Prover:       prover,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("wallet simulator: %w", err)
		}
		logger.Info("using simulated wallet", zap.Int("accounts", len(cfg.Env.SimAccounts)), zap.Uint64("chainId", chainID))
		health = func(ctx context.Context) error {
			client, err := sim.Dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			_, err = ethclient.NewClient(client).BlockNumber(ctx)
			return err
		}
		return sim.Dial, sim.Dial, health, nil
	}

	if cfg.Env.ExtensionURL != "" {
		ext = wallet.DialURL(cfg.Env.ExtensionURL)
	}
	if cfg.Env.RelayURL != "" {
		relay = wallet.DialURL(cfg.Env.RelayURL)
	}
	node, err := ethclient.DialContext(ctx, cfg.Env.RPCURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	health = func(ctx context.Context) error {
		_, err := node.BlockNumber(ctx)
		return err
	}
	return ext, relay, health, nil
}
