// Command papertrade runs the simulated token trading bot. It serves the
// websocket chat interface plus /health and /metrics over HTTP, and can
// optionally attach a local console chat session.
//
// Usage:
//
//	papertrade --config config.yaml
//	papertrade --setup              (interactive configuration wizard)
//	papertrade --console            (additionally chat from the terminal)
//
// Optional environment variables: BIRDEYE_API_KEY, DATABASE_URL, REDIS_URL,
// ADMIN_ID (comma-separated admin user ids).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/papertrade/config"
	"github.com/vadiminshakov/papertrade/internal"
	"github.com/vadiminshakov/papertrade/internal/services/broadcast"
	"github.com/vadiminshakov/papertrade/internal/services/conversation"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/oracle"
	"github.com/vadiminshakov/papertrade/internal/services/tracker"
	"github.com/vadiminshakov/papertrade/internal/setup"
	"github.com/vadiminshakov/papertrade/internal/storage/accounts"
	"github.com/vadiminshakov/papertrade/internal/transport"
	"github.com/vadiminshakov/papertrade/internal/web"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, flags, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}
	if flags.Setup {
		cfg, err = setup.RunWizard(flags.ConfigPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("init account store", zap.Error(err))
	}
	defer store.Close()

	base := buildOracle(cfg.Oracle)
	orc := oracle.Instrument(cfg.Oracle.Backend, base)
	// Discovery is a capability of the underlying backend, not of the
	// instrumented wrapper; exchange-symbol backends don't have it.
	discovery, _ := base.(oracle.Discovery)

	ldg, err := ledger.NewService(logger, store, orc, ledger.Config{
		InitialBalance: cfg.InitialBalance,
		ReferralBonus:  cfg.ReferralBonus,
		QuoteTimeout:   time.Duration(cfg.QuoteTimeout),
	})
	if err != nil {
		logger.Fatal("init ledger", zap.Error(err))
	}

	trackerDir := cfg.TrackerDir
	if trackerDir == "" {
		trackerDir = "./wal/tracked"
	}
	registry, err := tracker.NewRegistry(logger, trackerDir)
	if err != nil {
		logger.Fatal("init wallet tracker", zap.Error(err))
	}
	defer registry.Close()

	sink := &botSink{}
	hub := web.NewHub(logger, sink)

	var console *transport.Console
	responder := conversation.Responder(hub)
	if cfg.Console {
		console = transport.NewConsole(logger)
		responder = &splitResponder{hub: hub, console: console}
	}

	machine, err := conversation.NewMachine(logger, ldg, registry, discovery, responder)
	if err != nil {
		logger.Fatal("init conversation machine", zap.Error(err))
	}
	broadcaster, err := broadcast.NewService(logger, store, responder)
	if err != nil {
		logger.Fatal("init broadcaster", zap.Error(err))
	}
	bot, err := internal.NewBot(logger, machine, broadcaster, responder, cfg.Admins)
	if err != nil {
		logger.Fatal("init bot", zap.Error(err))
	}
	defer bot.Close()
	sink.bot = bot

	if console != nil {
		go console.Run(ctx, sink)
	}

	server := web.NewServer(logger, cfg.ListenAddr, hub)
	if err := server.Start(ctx); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (accounts.Store, error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		store, err := accounts.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			return accounts.NewCachedStore(store, redis.NewClient(opts), time.Duration(cfg.CacheTTL)), nil
		}
		return store, nil
	case "memory":
		return accounts.NewMemoryStore(), nil
	default:
		return accounts.NewWALStore(cfg.Dir)
	}
}

func buildOracle(cfg config.OracleConfig) oracle.Oracle {
	switch cfg.Backend {
	case "binance":
		return oracle.NewBinanceOracle(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), cfg.Symbols)
	case "bybit":
		client := bybit.NewClient().WithAuth(os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET"))
		return oracle.NewBybitOracle(client, cfg.Symbols)
	case "static":
		return oracle.NewStaticOracle(cfg.StaticPrices)
	default:
		return oracle.NewBirdeyeOracle(oracle.BirdeyeConfig{
			BaseURL:      cfg.BaseURL,
			PricePath:    cfg.PricePath,
			MetadataPath: cfg.MetadataPath,
			ListPath:     cfg.ListPath,
			APIKey:       cfg.APIKey,
		})
	}
}

// botSink forwards transport events into the dispatcher. The bot is set
// after construction because the hub and the bot reference each other.
type botSink struct {
	bot *internal.Bot
}

func (s *botSink) OnText(userID, text string) {
	if s.bot != nil {
		s.bot.Dispatch(internal.Event{UserID: userID, Kind: internal.EventText, Text: text})
	}
}

func (s *botSink) OnSelection(userID, data string) {
	if s.bot != nil {
		s.bot.Dispatch(internal.Event{UserID: userID, Kind: internal.EventSelection, Data: data})
	}
}

// splitResponder routes prompts for the console user to the terminal and
// everything else to the websocket hub.
type splitResponder struct {
	hub     *web.Hub
	console *transport.Console
}

func (r *splitResponder) DeliverPrompt(ctx context.Context, userID, text string, options []conversation.Option) error {
	if userID == transport.ConsoleUserID {
		return r.console.DeliverPrompt(ctx, userID, text, options)
	}
	return r.hub.DeliverPrompt(ctx, userID, text, options)
}
