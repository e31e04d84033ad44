package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"

	"vaultlend/internal/wallet"
)

const (
	ModeSimulated = "simulated"
	ModeRemote    = "remote"
)

// Env is the process environment. Contract addresses set here win over the
// deployments file.
type Env struct {
	DeploymentsPath string `envconfig:"DEPLOYMENTS_PATH" default:"deployments.json"`
	HTTPPort        int    `envconfig:"API_HTTP_PORT" default:"3000"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`

	WalletMode     string `envconfig:"WALLET_MODE" default:"simulated"`
	ExtensionURL   string `envconfig:"WALLET_EXTENSION_URL"`
	RelayURL       string `envconfig:"WALLET_RELAY_URL"`
	RelayPublicURL string `envconfig:"WALLET_RELAY_PUBLIC_URL"`
	RPCURL         string `envconfig:"CHAIN_RPC_URL" default:"https://rpc.sepolia.org"`

	VaultLendAddress     string `envconfig:"VAULTLEND_ADDRESS"`
	FHEOperationsAddress string `envconfig:"FHE_OPERATIONS_ADDRESS"`
	ProofScheme          string `envconfig:"PROOF_SCHEME" default:"keccak"`

	HMACSecret        string        `envconfig:"HMAC_SECRET"`
	HMACClockSkew     time.Duration `envconfig:"HMAC_CLOCK_SKEW" default:"60s"`
	IdempotencyWindow time.Duration `envconfig:"IDEMPOTENCY_WINDOW" default:"10m"`
	PostgresDSN       string        `envconfig:"POSTGRES_DSN"`

	ReceiptTimeout time.Duration `envconfig:"RECEIPT_TIMEOUT" default:"2m"`
	PollInterval   time.Duration `envconfig:"RECEIPT_POLL_INTERVAL" default:"2s"`
	NoticeTTL      time.Duration `envconfig:"NOTICE_TTL" default:"8s"`

	SimAccounts   []string `envconfig:"SIM_ACCOUNTS" default:"0x00000000000000000000000000000000000a11ce"`
	SimBalanceWei string   `envconfig:"SIM_BALANCE_WEI" default:"1000000000000000000"`
	SimChainID    uint64   `envconfig:"SIM_CHAIN_ID"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   uint64 `json:"chainId"`
	Network   string `json:"network"`
	Contracts struct {
		VaultLend     string `json:"VaultLend"`
		FHEOperations string `json:"FHEOperations"`
	} `json:"contracts"`
	// Networks are extra chains the wallet may be asked to register.
	Networks []wallet.Network `json:"networks"`
}

// AppConfig ties together the deployment file, the environment and the
// values derived from both.
type AppConfig struct {
	Env           Env
	Deployment    DeploymentConfig
	ChainID       uint64
	VaultLend     common.Address
	FHEOperations common.Address
	Networks      []wallet.Network
}

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	deploy, err := loadDeployments(env.DeploymentsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || env.VaultLendAddress == "" || env.FHEOperationsAddress == "" {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		deploy = &DeploymentConfig{}
	}

	cfg := &AppConfig{Env: env, Deployment: *deploy}
	cfg.ChainID = deploy.ChainID
	if cfg.ChainID == 0 {
		cfg.ChainID = wallet.SepoliaChainID
	}

	loanHex := firstNonEmpty(env.VaultLendAddress, deploy.Contracts.VaultLend)
	opsHex := firstNonEmpty(env.FHEOperationsAddress, deploy.Contracts.FHEOperations)
	if cfg.VaultLend, err = parseAddress("VaultLend", loanHex); err != nil {
		return nil, err
	}
	if cfg.FHEOperations, err = parseAddress("FHEOperations", opsHex); err != nil {
		return nil, err
	}

	cfg.Networks = append([]wallet.Network{wallet.Sepolia(env.RPCURL)}, deploy.Networks...)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Env.WalletMode {
	case ModeSimulated:
	case ModeRemote:
		if strings.TrimSpace(c.Env.ExtensionURL) == "" && strings.TrimSpace(c.Env.RelayURL) == "" {
			return errors.New("remote wallet mode needs WALLET_EXTENSION_URL or WALLET_RELAY_URL")
		}
	default:
		return fmt.Errorf("unknown WALLET_MODE %q", c.Env.WalletMode)
	}
	if c.Env.HTTPPort <= 0 || c.Env.HTTPPort > 65535 {
		return fmt.Errorf("invalid API_HTTP_PORT %d", c.Env.HTTPPort)
	}
	if c.Env.IdempotencyWindow <= 0 {
		return errors.New("IDEMPOTENCY_WINDOW must be positive")
	}
	for _, n := range c.Networks {
		if n.ChainID == 0 || n.Name == "" || len(n.RPCURLs) == 0 {
			return fmt.Errorf("network entry %q needs chainId, name and rpcUrls", n.Name)
		}
	}
	for _, a := range c.Env.SimAccounts {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid SIM_ACCOUNTS entry %q", a)
		}
	}
	return nil
}

// SimAccounts returns the simulated wallet's accounts.
func (c *AppConfig) SimAccounts() []common.Address {
	out := make([]common.Address, 0, len(c.Env.SimAccounts))
	for _, a := range c.Env.SimAccounts {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseAddress(name, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address must not be zero", name)
	}
	return addr, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
