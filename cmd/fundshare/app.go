package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/config"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/kafka"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/navsource"
	"github.com/trogers1052/fund-share-service/internal/navsync"
	"github.com/trogers1052/fund-share-service/internal/portfolio"
	"github.com/trogers1052/fund-share-service/internal/profit"
)

const cycleLockKey = "fundshare:lock:refresh-cycle"

// app holds the wired service graph shared by every command
type app struct {
	cfg       *config.Config
	loc       *time.Location
	logger    *logging.Logger
	db        *database.DB
	redis     *redis.Client
	producer  *kafka.Producer
	portfolio *portfolio.Service
	engine    *profit.Engine
	scheduler *navsync.Scheduler
}

// newLogger prefers command-line flags over LOG_LEVEL and LOG_FORMAT. Commands
// other than serve pass "console" as defaultFormat.
func newLogger(c *cli.Context, cfg *config.Config, defaultFormat string) *logging.Logger {
	level := cfg.Logging.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	format := defaultFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	return logging.New(level, format)
}

// openDB connects and applies pending migrations
func openDB(cfg *config.Config, logger *logging.Logger) (*database.DB, error) {
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("database ready")
	return db, nil
}

func newApp(ctx context.Context, c *cli.Context, defaultFormat string) (*app, error) {
	cfg := config.Load()
	logger := newLogger(c, cfg, defaultFormat)

	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, continuing without cache and lock")
			rdb.Close()
		} else {
			a.redis = rdb
		}
	}

	if cfg.Kafka.Enabled() {
		a.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	}

	cal, err := calendar.Load(cfg.Scheduler.CalendarFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	window, err := calendar.ParseWindow(cfg.Scheduler.WindowStart, cfg.Scheduler.WindowEnd)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid refresh window: %w", err)
	}
	trigger, err := calendar.ParseClock(cfg.Scheduler.DailyTrigger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid daily trigger: %w", err)
	}
	loc := cfg.Scheduler.Location()
	a.loc = loc

	a.portfolio = portfolio.NewService(db, logger.Component("portfolio"), loc)

	// A typed nil *kafka.Producer must not reach the engine as a non-nil interface.
	var settledPublisher profit.Publisher
	if a.producer != nil {
		settledPublisher = a.producer
	}
	a.engine = profit.NewEngine(db, a.portfolio, settledPublisher, logger.Component("profit"))

	a.scheduler = navsync.NewScheduler(db, a.navSource(), a.engine, cal, navsync.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		DailyTrigger: trigger,
		Window:       window,
		Location:     loc,
		Workers:      cfg.Scheduler.Workers,
		HistoryDays:  cfg.Scheduler.HistoryDays,
	}, logger.Component("navsync"))
	if a.producer != nil {
		a.scheduler.SetPublisher(a.producer)
	}
	if a.redis != nil {
		a.scheduler.SetLocker(navsync.NewRedisLock(a.redis, cycleLockKey, cfg.Redis.LockTTL))
	}
	return a, nil
}

// navSource builds the provider chain: structured estimate first, HTML page
// second, optionally behind the Redis quote cache.
func (a *app) navSource() navsync.Fetcher {
	src := a.cfg.Sources
	opts := func(base string) []navsource.ClientOption {
		return []navsource.ClientOption{
			navsource.WithBaseURL(base),
			navsource.WithTimeout(src.Timeout),
			navsource.WithRateLimit(src.RateLimit),
			navsource.WithLogger(a.logger.Component("navsource")),
		}
	}

	chain := navsource.NewChain(a.logger.Component("navsource"),
		navsource.NewFundGZClient(opts(src.FundGZBaseURL)...),
		navsource.NewEastmoneyClient(src.HistoryBaseURL, opts(src.EastmoneyBaseURL)...),
	)
	if a.redis == nil {
		return chain
	}
	return navsource.NewCachedSource(chain, a.redis, a.cfg.Redis.NavCacheTTL)
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close kafka producer")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
}
