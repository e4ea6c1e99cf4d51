package usdt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Config carries everything §4.3.1's startup sequence needs.
type Config struct {
	WalletAddress                   string
	RPCURL                          string
	InfuraProjectID                 string
	Network                         Network
	ConfirmationsRequired           *int
	MaxGasPriceGwei                 *float64
	Backend                         storage.Backend
	Oracle                          PriceOracle
	AllowConstantOracleInProduction bool
}

// Provider is the USDT on-chain PaymentProvider.
type Provider struct {
	*provider.BaseProvider

	client  *ethclient.Client
	wallet  common.Address
	network Network
	netCfg  NetworkConfig
	token   *erc20Contract

	contractDecimals uint8
	contractSymbol   string
	contractName     string

	confirmationsRequired int
	maxGasPriceGwei        float64

	oracle PriceOracle

	scopeLock *storage.ReentrantLock

	rateLimitCount int64
	lastReset      time.Time
}

// NewUSDTProvider runs the §4.3.1 startup sequence end to end, returning a
// ready-to-use Provider or a ConfigurationError/ProviderError describing
// why startup failed.
func NewUSDTProvider(ctx context.Context, cfg Config) (*Provider, error) {
	devMode := provider.IsDevMode()

	// step 1: wallet
	wallet, err := ValidateWalletAddress(cfg.WalletAddress)
	if err != nil {
		return nil, err
	}

	// step 2: network config
	netCfg, err := ResolveNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	if !devMode && isDummyProjectID(cfg.InfuraProjectID) {
		return nil, payerrors.Configuration("dummy RPC project id not allowed in production", nil)
	}

	// step 3: RPC session + chain id verification
	dialCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, payerrors.Provider("failed to connect to RPC endpoint", map[string]any{"error": err.Error()})
	}
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		return nil, payerrors.Provider("failed to read chain id", map[string]any{"error": err.Error()})
	}
	if chainID.Int64() != netCfg.ChainID {
		return nil, payerrors.Configuration("chain id mismatch", map[string]any{
			"expected": netCfg.ChainID, "actual": chainID.Int64(),
		})
	}

	// step 4: bind contract, fetch metadata
	token, err := bindERC20(client, netCfg.USDTContractAddress)
	if err != nil {
		return nil, err
	}
	decimals, err := token.Decimals(dialCtx)
	if err != nil {
		return nil, err
	}
	symbol, err := token.Symbol(dialCtx)
	if err != nil {
		return nil, err
	}
	name, err := token.Name(dialCtx)
	if err != nil {
		return nil, err
	}
	if decimals != 6 {
		logging.Log.Warn("USDT contract decimals differ from expected 6", zap.Uint8("decimals", decimals))
	}
	if symbol != "USDT" && symbol != "TETHER" {
		logging.Log.Warn("USDT contract symbol unexpected", zap.String("symbol", symbol))
	}

	// step 5: storage capability validation
	caps := cfg.Backend.Capabilities()
	if !devMode && !caps.SupportsTransactions {
		return nil, payerrors.Configuration("storage backend must support transactions in production", nil)
	}

	oracle := cfg.Oracle
	if oracle == nil {
		if !devMode && !cfg.AllowConstantOracleInProduction {
			return nil, payerrors.Configuration(
				"no price oracle bound; set AllowConstantOracleInProduction to use the constant 1.0 rate in production", nil)
		}
		oracle = NewConstantOracle()
	}

	confirmations := netCfg.DefaultConfirmations
	if cfg.ConfirmationsRequired != nil {
		confirmations = *cfg.ConfirmationsRequired
	}
	maxGas := netCfg.DefaultMaxGasPriceGwei
	if cfg.MaxGasPriceGwei != nil {
		maxGas = *cfg.MaxGasPriceGwei
	}

	p := &Provider{
		BaseProvider:           provider.NewBaseProvider(cfg.Backend),
		client:                 client,
		wallet:                 wallet,
		network:                cfg.Network,
		netCfg:                 netCfg,
		token:                  token,
		contractDecimals:       decimals,
		contractSymbol:         symbol,
		contractName:           name,
		confirmationsRequired:  confirmations,
		maxGasPriceGwei:        maxGas,
		oracle:                 oracle,
		scopeLock:              storage.NewReentrantLock("usdt-provider"),
		lastReset:              time.Now(),
	}
	return p, nil
}

// Capabilities declares what the USDT provider supports.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsRefunds:        false, // advisory only, §4.3.8
		SupportsWebhooks:       false,
		SupportsPartialRefunds: false,
		SupportsSubscriptions:  false,
		SupportsMetadata:       true,
		SupportedCurrencies:    []string{"USD", "USDT"},
		MinAmount:              0.000001,
		MaxAmount:              10000,
		ExpectedProcessingTime: "minutes (on-chain confirmation)",
	}
}

// maybeResetCounters resets the contention/rate-limit counters once per
// hour, per §5's "Counters (contention, rate-limit) reset once per hour."
func (p *Provider) maybeResetCounters() {
	if time.Since(p.lastReset) < time.Hour {
		return
	}
	atomic.StoreInt64(&p.rateLimitCount, 0)
	p.scopeLock.ResetContention()
	p.lastReset = time.Now()
}

// VerifyWebhookSignature: the on-chain provider has no webhook channel.
func (p *Provider) VerifyWebhookSignature(_ []byte, _ map[string]string) (bool, error) {
	return false, payerrors.Provider("USDT provider does not support webhooks", nil)
}

// CreateCheckoutSession: the on-chain provider has no hosted checkout (Non-goal).
func (p *Provider) CreateCheckoutSession(_ context.Context, _ string, _ float64, _ string, _ map[string]any) (*provider.CheckoutSession, error) {
	return nil, payerrors.Provider("USDT provider does not support hosted checkout sessions", nil)
}

// GetPaymentStatus reads the current status directly from storage.
func (p *Provider) GetPaymentStatus(ctx context.Context, txID string) (domain.TransactionStatus, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx == nil {
		return "", payerrors.Storage("transaction not found", map[string]any{"id": txID})
	}
	return tx.Status, nil
}
