package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wonny/otcseller/internal/chain"
	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/deploy"
	"github.com/wonny/otcseller/internal/events"
	"github.com/wonny/otcseller/internal/ledger"
	"github.com/wonny/otcseller/internal/oracle"
	"github.com/wonny/otcseller/internal/orderuid"
	"github.com/wonny/otcseller/internal/probe"
	"github.com/wonny/otcseller/internal/settlement"
	"github.com/wonny/otcseller/internal/validator"
	"github.com/wonny/otcseller/pkg/config"
	"github.com/wonny/otcseller/pkg/database"
	"github.com/wonny/otcseller/pkg/httputil"
	"github.com/wonny/otcseller/pkg/logger"
	"github.com/wonny/otcseller/pkg/redis"
)

// app holds what every command needs: config, logger, the chain client and
// the deployment state file.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	chain   *chain.Client
	eth     *ethclient.Client
	state   *deploy.StateFile
	closers []func()
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	client, eth, err := chain.Dial(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to chain: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		chain: client,
		eth:   eth,
		state: deploy.NewStateFile(deploy.Path(cfg.Seller.DeployStateDir, cfg.Seller.Network)),
	}
	a.onClose(eth.Close)
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// signer is the account commands act as unless --caller overrides it
func (a *app) signer(override string) (common.Address, error) {
	if override != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, fmt.Errorf("invalid address %q", override)
		}
		return common.HexToAddress(override), nil
	}
	if a.chain.Address() == (common.Address{}) {
		return common.Address{}, fmt.Errorf("SELLER_PRIVATE_KEY is not set; pass --caller")
	}
	return a.chain.Address(), nil
}

// seller is the fully wired order pipeline
type seller struct {
	env       *deploy.Environment
	store     ledger.Store
	ledger    *ledger.Ledger
	oracle    *oracle.Adapter
	probe     *probe.Probe
	hasher    *orderuid.Hasher
	validator *validator.Validator
	engine    *settlement.Engine
	recorder  *events.Recorder
	hub       *events.Hub
	db        *database.DB
	redis     *redis.Client
}

// openSeller restores the deployment and wires every collaborator around it
func (a *app) openSeller(ctx context.Context) (*seller, error) {
	env, err := deploy.Load(a.state)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", a.state.Path(), err)
	}
	d := env.Deployment
	if key := a.chain.Address(); key != (common.Address{}) && key != d.Seller {
		return nil, fmt.Errorf("SELLER_PRIVATE_KEY controls %s but the deployment seller is %s", key.Hex(), d.Seller.Hex())
	}

	s := &seller{env: env}

	// Storage
	if a.cfg.Seller.StoreBackend == "postgres" {
		db, err := database.New(a.cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		a.onClose(db.Close)
	}
	store, err := ledger.Open(ctx, a.cfg, s.db)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.onClose(func() { store.Close() })
	s.store = store
	s.ledger = ledger.New(store, a.log)

	rc, err := redis.New(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.onClose(func() { rc.Close() })
	s.redis = rc

	// Pricing
	s.oracle = oracle.NewAdapter(chain.NewFeeds(a.eth), oracle.Config{
		MaxStaleness: a.cfg.Seller.OracleMaxStaleness,
		RPS:          a.cfg.Seller.OracleRPS,
	}, a.log)
	s.probe = probe.New(a.log, a.venues(rc, d.Seller)...)

	hasher, err := orderuid.NewHasher(a.cfg.Chain.ChainID, common.HexToAddress(a.cfg.Chain.SettlementAddress))
	if err != nil {
		return nil, err
	}
	s.hasher = hasher
	s.validator = validator.New(env.Registry, s.oracle, s.probe, hasher, validator.Config{
		Owner:     d.Seller,
		MaxFeeBps: int64(a.cfg.Seller.MaxFeeBps),
		NetFee:    a.cfg.Seller.NetFee,
	}, a.log)

	// Events
	s.recorder = events.NewRecorder(0)
	s.hub = events.NewHub(a.log)
	a.onClose(s.hub.Close)
	sinks := []events.Sink{events.NewLogSink(a.log), s.recorder, s.hub}
	if a.cfg.Kafka.Enabled {
		k := events.NewKafkaSink(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		a.onClose(func() { k.Close() })
		sinks = append(sinks, k)
	}

	// Settlement
	var locker settlement.Locker = settlement.NewMemoryLocker()
	if rc.Enabled() {
		locker = redis.NewLocker(rc, "otcseller", a.cfg.Chain.ReceiptTimeout+time.Minute)
	}
	weth := common.HexToAddress(a.cfg.Chain.WETHAddress)
	tokens := chain.NewERC20(a.chain)
	s.engine = settlement.New(settlement.Deps{
		Checker:    s.validator,
		Ledger:     s.ledger,
		Access:     env.Roles,
		Settlement: chain.NewSettlement(a.chain, common.HexToAddress(a.cfg.Chain.SettlementAddress), common.HexToAddress(a.cfg.Chain.VaultRelayer)),
		Token:      tokens,
		Unwrapper:  chain.NewWETH(a.chain, weth),
		Treasury:   chain.NewTreasury(a.chain, tokens, d.Agent),
		Sink:       events.NewMultiSink(sinks...),
		Locker:     locker,
	}, settlement.Config{
		Seller:       d.Seller,
		WETH:         weth,
		UnwrapNative: a.cfg.Seller.UnwrapNative,
		// a transition mines at most four transactions plus compensations
		GuardTimeout: 6*a.cfg.Chain.ReceiptTimeout + time.Minute,
	}, a.log)

	return s, nil
}

// venues builds the swap probe venues that are configured
func (a *app) venues(rc *redis.Client, seller common.Address) []contracts.Venue {
	var venues []contracts.Venue

	if a.cfg.Chain.RouterAddress != "" {
		venues = append(venues, chain.NewRouterVenue("uniswap-v2",
			common.HexToAddress(a.cfg.Chain.RouterAddress),
			common.HexToAddress(a.cfg.Chain.WETHAddress),
			a.eth))
	}

	quoteAPI := a.cfg.QuoteAPI
	if quoteAPI.BaseURL == "" && quoteAPI.OrderBookURL == "" {
		return venues
	}

	limit := redis.QuoteAPIRateLimit
	if quoteAPI.RateLimit > 0 {
		limit.Limit = quoteAPI.RateLimit
	}
	httpClient := httputil.NewWithTimeout(a.cfg, a.log, quoteAPI.Timeout).
		WithRateLimiter(redis.NewRateLimiter(rc, "otcseller"), limit)
	// a quote is only useful within the validation call that asked for it
	if quoteAPI.Retries > 0 {
		httpClient.WithRetry(quoteAPI.Retries, 250*time.Millisecond)
	} else {
		httpClient.DisableRetry()
	}
	cache := redis.NewCache(rc, "otcseller")

	if quoteAPI.BaseURL != "" {
		venues = append(venues, probe.NewHTTPVenue("quote-api", quoteAPI.BaseURL, httpClient, cache, a.cfg.Seller.QuoteCacheTTL))
	}
	if quoteAPI.OrderBookURL != "" {
		venues = append(venues, probe.NewOrderBookVenue("cow-orderbook", quoteAPI.OrderBookURL, seller, httpClient, cache, a.cfg.Seller.QuoteCacheTTL))
	}

	return venues
}

// decimalsOf finds a token's decimals among the configured pairs
func (s *seller) decimalsOf(token common.Address) uint8 {
	for _, p := range s.env.Registry.Pairs() {
		switch token {
		case p.TokenA:
			return p.DecimalsA
		case p.TokenB:
			return p.DecimalsB
		}
	}
	return 18
}
