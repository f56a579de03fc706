package main

import (
	"context"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/metazhar-legion/meta-index-sub006/internal/bundle"
	"github.com/metazhar-legion/meta-index-sub006/internal/config"
	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/optimizer"
	"github.com/metazhar-legion/meta-index-sub006/internal/state"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy/perp"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy/spot"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy/trs"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue/sim"
	"github.com/metazhar-legion/meta-index-sub006/internal/web"
)

const (
	baseAsset = "USDC"
	assetID   = "RWA-IDX"
)

// main is the entry point for the exposure manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("RWA exposure manager starting...")

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load optimizer parameters, falling back to defaults on first run.
	optParams, version, err := state.LoadActiveParameters()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active optimizer parameters, using defaults and saving.")
		optParams = config.DefaultOptimizerParameters
		if version, err = state.SaveOptimizerParameters(optParams, "initial defaults"); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default optimizer parameters.")
		}
	}
	log.Info().Int64("version", version).Msg("Optimizer parameters loaded successfully.")

	opt, err := optimizer.New(optParams)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategy optimizer")
	}

	// --- 2. Venue Initialization (with Safety Switch) ---
	// Only simulated venues are wired today. Live execution adapters must be
	// added explicitly; an unset mode halts rather than guessing.
	mode := os.Getenv("RWACORE_MODE")
	if mode != "sim" {
		log.Fatal().Msg("RWACORE_MODE is not set to 'sim'. Live venue adapters are not wired yet; halting to prevent accidental execution.")
	}
	log.Warn().Msg("Initializing venues in SIM mode. No real transactions will be executed.")

	oracle := sim.NewOracle()
	oracle.SetPrice(assetID, types.PriceScale)   // 1.0
	oracle.SetPrice(baseAsset, types.PriceScale) // 1.0

	swaps := sim.NewSwapRegistry()
	swaps.AddCounterparty("prime-dealer-a", 9, 120)
	swaps.AddCounterparty("prime-dealer-b", 7, 95)

	perps := sim.NewPerpRouter(oracle)
	perps.AddMarket(assetID+"-PERP", assetID, 40)

	exchange := sim.NewExchange(oracle, 30)
	tbillVault := sim.NewVault("tbill-vault")

	// --- 3. Strategy Construction ---
	trsStrategy, err := trs.New(trs.Config{
		Name:                  "trs-basket",
		Admin:                 config.AdminAddress,
		AssetID:               assetID,
		Registry:              swaps,
		Oracle:                oracle,
		RiskParams:            config.DefaultRiskParameters,
		Leverage:              100,
		MaturityTenor:         30 * 24 * time.Hour,
		ConcentrationLimitBps: 4000,
		ManagementFeeBps:      20,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create TRS strategy")
	}
	dealerCap := config.DefaultRiskParameters.MaxPositionSize.QuoRaw(2)
	if err := trsStrategy.AddCounterparty(config.AdminAddress, "prime-dealer-a", dealerCap, 5000); err != nil {
		log.Fatal().Err(err).Msg("Failed to whitelist counterparty for TRS strategy")
	}
	if err := trsStrategy.AddCounterparty(config.AdminAddress, "prime-dealer-b", dealerCap, 5000); err != nil {
		log.Fatal().Err(err).Msg("Failed to whitelist counterparty for TRS strategy")
	}

	perpStrategy, err := perp.New(perp.Config{
		Name:                "perp-carry",
		Admin:               config.AdminAddress,
		Market:              assetID + "-PERP",
		AssetID:             assetID,
		Router:              perps,
		Oracle:              oracle,
		RiskParams:          config.DefaultRiskParameters,
		BaseLeverage:        200,
		MinLeverage:         100,
		FundingThresholdBps: 50,
		AdjustmentBps:       2500,
		FundingWindow:       24,
		ManagementFeeBps:    20,
		YieldRouteBps:       3000,
		YieldCapBps:         5000,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create perpetual strategy")
	}
	if err := perpStrategy.AddYieldAllocation(config.AdminAddress, tbillVault, 5000); err != nil {
		log.Fatal().Err(err).Msg("Failed to wire yield vault into perpetual strategy")
	}

	spotStrategy, err := spot.New(spot.Config{
		Name:             "spot-tokens",
		Admin:            config.AdminAddress,
		BaseAsset:        baseAsset,
		Token:            assetID,
		Exchange:         exchange,
		Oracle:           oracle,
		RiskParams:       config.DefaultRiskParameters,
		ManagementFeeBps: 10,
		YieldRouteBps:    2000,
		YieldCapBps:      5000,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create direct token strategy")
	}
	if err := spotStrategy.AddYieldAllocation(config.AdminAddress, tbillVault, 5000); err != nil {
		log.Fatal().Err(err).Msg("Failed to wire yield vault into direct token strategy")
	}

	// --- 4. Bundle Assembly ---
	b, err := bundle.New(bundle.Config{
		Name:              config.BundleName,
		Admin:             config.AdminAddress,
		Optimizer:         opt,
		RebalanceCooldown: config.RebalanceCooldown,
		TimeHorizon:       config.TimeHorizon,
		Store:             state.SnapshotStore{},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bundle")
	}

	if err := b.AddStrategy(config.AdminAddress, trsStrategy, 4000, 2000, 6000, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to add TRS strategy to bundle")
	}
	if err := b.AddStrategy(config.AdminAddress, perpStrategy, 3500, 1500, 5000, false); err != nil {
		log.Fatal().Err(err).Msg("Failed to add perpetual strategy to bundle")
	}
	if err := b.AddStrategy(config.AdminAddress, spotStrategy, 2500, 1000, 5000, false); err != nil {
		log.Fatal().Err(err).Msg("Failed to add direct token strategy to bundle")
	}

	if raw := os.Getenv("INITIAL_CAPITAL"); raw != "" {
		amount, ok := sdkmath.NewIntFromString(raw)
		if !ok || !amount.IsPositive() {
			log.Fatal().Str("value", raw).Msg("INITIAL_CAPITAL must be a positive integer in base-asset units")
		}
		allocated, err := b.AllocateCapital(amount)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to allocate initial capital")
		}
		log.Info().Str("allocated", allocated.String()).Msg("Initial capital allocated")
	}

	// --- 5. Web Server ---
	webServer := web.NewWebServer(config.WebListenAddr, b)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Rebalance Loop ---
	log.Info().Str("interval", config.CycleInterval.String()).Msg("Starting rebalance loop")
	b.RunLoop(context.Background(), config.CycleInterval)
}
