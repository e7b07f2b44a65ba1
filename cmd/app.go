package cmd

import (
	"context"
	"fmt"

	"github.com/example/staybook/internal/api"
	"github.com/example/staybook/internal/availability"
	"github.com/example/staybook/internal/booking"
	"github.com/example/staybook/internal/config"
	"github.com/example/staybook/internal/db"
	"github.com/example/staybook/internal/guest"
	"github.com/example/staybook/internal/ledger"
	"github.com/example/staybook/internal/logging"
	"github.com/example/staybook/internal/migrate"
	"github.com/example/staybook/internal/notify"
	"github.com/example/staybook/internal/pricing"
	"github.com/example/staybook/internal/redisx"
	"github.com/example/staybook/internal/session"
	"github.com/example/staybook/internal/settlement"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app holds the clients every command shares. Optional backends stay nil when
// their env var is unset.
type app struct {
	cfg    config.Config
	log    *logrus.Logger
	client *api.Client

	rdb      *redis.Client
	locker   *redisx.Locker
	db       *db.DB
	ledger   *ledger.Repo
	notifier notify.Fanout
}

type openOpts struct {
	ledger   bool
	migrate  bool
	backends bool // redis + amqp
}

func openApp(ctx context.Context, o openOpts) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	a := &app{
		cfg:    cfg,
		log:    log,
		client: api.New(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout, log),
	}

	if o.ledger && cfg.DatabaseURL != "" {
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = d
		if err := d.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if o.migrate {
			if _, err := migrate.Up(ctx, d, log); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.ledger = ledger.NewRepo(d)
	}

	if o.backends && cfg.RedisAddr != "" {
		a.rdb = redisx.New(cfg.RedisAddr)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.locker = redisx.NewLocker(a.rdb)
	}

	if o.backends && cfg.AMQPURL != "" {
		p, err := notify.Dial(cfg.AMQPURL, cfg.AMQPQueue, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier = append(a.notifier, p)
	}
	if o.backends && len(cfg.KafkaBrokers) > 0 {
		a.notifier = append(a.notifier, notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log))
	}
	return a, nil
}

func (a *app) Close() {
	if len(a.notifier) > 0 {
		_ = a.notifier.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) rates() pricing.Rates {
	return pricing.Rates{Settlement: a.cfg.SettlementCurrency, Table: a.cfg.FXRates}
}

func (a *app) engine() *availability.Engine {
	return &availability.Engine{
		Tables: a.client,
		Step:   a.cfg.SlotStepMinutes,
		Buffer: a.cfg.SlotBuffer,
		Log:    a.log,
	}
}

// newSession wires one booking session with its own coordinator and machine.
func (a *app) newSession(id string) *session.Session {
	deps := session.Deps{
		Rates: a.rates(),
		Log:   a.log,
	}
	var bookLock booking.Locker
	var settleLock settlement.Locker
	if a.locker != nil {
		bookLock, settleLock = a.locker, a.locker
	}
	deps.Coordinator = booking.NewCoordinator(a.client, guest.NewResolver(a.client, a.log), bookLock, a.log)
	deps.Machine = settlement.NewMachine(a.client, a.cfg.PollInterval, a.cfg.PaymentCeiling, settleLock, a.log)
	if a.ledger != nil {
		deps.Ledger = a.ledger
	}
	if len(a.notifier) > 0 {
		deps.Notifier = a.notifier
	}
	return session.New(id, deps)
}
