package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sellerscout/internal/config"
	"github.com/sells-group/sellerscout/internal/crawl"
	"github.com/sells-group/sellerscout/internal/resilience"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/marketdata"
	"github.com/sells-group/sellerscout/pkg/whois"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sellerscout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initMarketData(mc config.MarketDataConfig) marketdata.Client {
	return marketdata.NewClient(mc.Key,
		marketdata.WithBaseURL(mc.BaseURL),
		marketdata.WithPollConfig(resilience.PollConfig{
			Interval:    time.Duration(mc.PollIntervalSecs) * time.Second,
			MaxAttempts: mc.PollMaxAttempts,
		}))
}

func initOrchestrator(st store.Store) *crawl.Orchestrator {
	return crawl.New(st, initMarketData(cfg.MarketData), cfg.Pricing)
}

func initWhois(wc config.WhoisConfig) whois.Client {
	return whois.NewClient(wc.Key, whois.WithBaseURL(wc.BaseURL))
}
