package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/clinic-credit/internal/clock"
	"github.com/and161185/clinic-credit/internal/config"
	"github.com/and161185/clinic-credit/internal/ledger"
	"github.com/and161185/clinic-credit/internal/limiter"
	"github.com/and161185/clinic-credit/internal/migrate"
	"github.com/and161185/clinic-credit/internal/model"
	"github.com/and161185/clinic-credit/internal/redemption"
	"github.com/and161185/clinic-credit/internal/repository"
	"github.com/and161185/clinic-credit/internal/repository/memory"
	"github.com/and161185/clinic-credit/internal/repository/postgres"
	"github.com/and161185/clinic-credit/internal/sched"
	"github.com/and161185/clinic-credit/internal/token"
)

// app is the wired redemption engine without its transports.
type app struct {
	orch     *redemption.Orchestrator
	accounts repository.AccountRepository
	pinger   interface{ Ping(context.Context) error }
	sweepers []sched.Sweeper
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, limiter, codec and ledger per cfg. clk may be nil.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, clk clock.Clock) (_ *app, err error) {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		nonces repository.NonceLedger
		txs    repository.TransactionRepository
		db     *postgres.DB
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err = postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.pinger = db
		nonces = postgres.NewNonceLedger(db)
		a.accounts = postgres.NewAccountRepo(db)
		txs = postgres.NewTransactionRepo(db)
	default:
		logger.Warn("memory storage: state is lost on restart")
		nonces = memory.NewNonceLedger()
		a.accounts = memory.NewAccounts()
		txs = memory.NewTransactions()
	}

	var lim limiter.Limiter
	switch cfg.Limiter {
	case config.LimiterRedis:
		cli, err := limiter.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = cli.Close() })
		lim = limiter.NewRedis(cli, cfg.RateLimit, cfg.RateWindow, clk)
	case config.LimiterPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres limiter needs postgres storage")
		}
		lim = limiter.NewPG(db.Pool, cfg.RateLimit, cfg.RateWindow, clk)
	default:
		mem := limiter.NewMemory(cfg.RateLimit, cfg.RateWindow, clk)
		a.sweepers = append(a.sweepers, mem)
		lim = mem
	}

	specs, err := token.ParseKeySpecs(cfg.SigningKeyEntries())
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	ring, err := token.NewKeyring(specs...)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}

	settings := redemption.DefaultSettings()
	settings.QRTokenTTL = cfg.QRTokenTTL
	settings.AppointmentTokenTTL = cfg.AppointmentTokenTTL
	settings.CreditsPerRedemption = map[model.TokenType]int64{
		model.TokenTypeAppointment: cfg.CreditsAppointment,
		model.TokenTypeClinicVisit: cfg.CreditsClinicVisit,
	}

	a.orch = redemption.New(redemption.Deps{
		Codec:   token.NewCodec(ring, clk, logger),
		Nonces:  nonces,
		Txs:     txs,
		Ledger:  ledger.New(a.accounts, clk, logger, ledger.WithRetry(cfg.DebitMaxAttempts, cfg.DebitBackoff)),
		Limiter: lim,
		Pricer:  redemption.FlatPricer{CentsPerCredit: cfg.CentsPerCredit},
		QR:      redemption.PNGRenderer{},
		Clock:   clk,
		Log:     logger,
	}, settings)
	return a, nil
}
