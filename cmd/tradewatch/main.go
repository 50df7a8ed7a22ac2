package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tradewatch/internal/brokerapi"
	"tradewatch/internal/config"
	"tradewatch/internal/database"
	"tradewatch/internal/logger"
	"tradewatch/internal/metrics"
	"tradewatch/internal/pointer"
	"tradewatch/internal/reconcile"
	"tradewatch/internal/session"
	"tradewatch/internal/web"
)

const usage = `Usage: tradewatch <command> [flags]

Commands:
  place    create a trade and follow it to its outcome
  watch    resume the trade left open by a previous run
  history  list the configured user's trades
  pairs    list trading pairs and their trade options
  resolve  set the outcome of a trade (admin)

Run "tradewatch <command> --help" for the flags of a command.
`

type command func(ctx context.Context, a *app, fs *pflag.FlagSet) error

var commands = map[string]command{
	"place":   runPlace,
	"watch":   runWatch,
	"history": runHistory,
	"pairs":   runPairs,
	"resolve": runResolve,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	fs := newFlagSet(name)
	if err := fs.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	configDir, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configDir, fs)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(&cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if err := cmd(ctx, a, fs); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted, open trade can be resumed with \"tradewatch watch\"")
			return
		}
		log.Error("Command failed", zap.String("command", name), zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}

// newFlagSet returns the flags shared by all commands plus the ones of name.
// Flags named after config keys override the config file and environment.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "./configs", "directory holding config.yml")
	fs.String("api.base_url", "", "brokerage API base URL")
	fs.String("api.user_id", "", "user whose trades are listed by history")
	fs.String("logger.level", "", "log level (debug, info, warn, error)")
	fs.String("pointer.backend", "", "where the open trade pointer is kept (sqlite, redis)")
	fs.Int("server.port", 0, "status server port, 0 disables it")

	switch name {
	case "place":
		fs.String("pair", "", "trading pair id or symbol")
		fs.String("option", "", "trade option id (defaults to the pair's first option)")
		fs.String("type", "BUY", "trade type (BUY or SELL)")
		fs.String("amount", "", "stake in quote currency")
		fs.String("price", "", "execution price")
	case "resolve":
		fs.String("id", "", "trade id")
		fs.String("outcome", "", "WIN or LOSE")
		fs.Bool("cancel", false, "cancel the trade instead of resolving it")
	}
	return fs
}

// app holds the dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	client   brokerapi.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store   pointer.Store
	closers []func() error
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		log:      log,
		client:   brokerapi.NewRestClient(&cfg.API, log),
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

// pointerStore opens the configured pointer backend on first use.
func (a *app) pointerStore(ctx context.Context) (pointer.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	switch a.cfg.Pointer.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.store = pointer.NewRedisStore(rdb, a.cfg.Pointer.Key, a.log)
		a.log.Info("Using redis pointer store", zap.String("addr", a.cfg.Redis.Addr))
	default:
		db, err := database.NewDatabase(a.cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.store = pointer.NewGormStore(db, a.cfg.Pointer.Key, a.log)
		a.log.Info("Using sqlite pointer store", zap.String("dsn", a.cfg.Database.DSN))
	}
	return a.store, nil
}

// newSession builds a session and, when configured, starts the status server.
// The returned stop function shuts the server down.
func (a *app) newSession(ctx context.Context) (*session.Session, func(), error) {
	store, err := a.pointerStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	s := session.New(a.client, store, session.Options{
		TickInterval: a.cfg.Countdown.TickInterval,
		Reconcile: reconcile.Options{
			Interval:       a.cfg.Reconcile.Interval,
			FirstPollDelay: a.cfg.Reconcile.FirstPollDelay,
			MaxAttempts:    a.cfg.Reconcile.MaxAttempts,
			MaxWait:        a.cfg.Reconcile.MaxWait,
		},
	}, a.log, a.metrics)

	if a.cfg.Server.Port == 0 {
		return s, func() {}, nil
	}

	srv := web.NewServer(a.cfg.Server.Port, s, a.registry, a.log)
	srv.Start()
	return s, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			a.log.Error("Failed to stop web server", zap.Error(err))
		}
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
