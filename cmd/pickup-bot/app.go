package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PickupRelay/config"
	pickupsapi "github.com/BearBump/PickupRelay/internal/api/pickups_api"
	"github.com/BearBump/PickupRelay/internal/broker/kafka"
	"github.com/BearBump/PickupRelay/internal/cache"
	"github.com/BearBump/PickupRelay/internal/cache/rediscache"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/fake"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/telegram"
	"github.com/BearBump/PickupRelay/internal/services/composer"
	"github.com/BearBump/PickupRelay/internal/services/intake"
	"github.com/BearBump/PickupRelay/internal/services/matcher"
	"github.com/BearBump/PickupRelay/internal/services/notifier"
	"github.com/BearBump/PickupRelay/internal/services/pickups"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/BearBump/PickupRelay/internal/services/retention"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const flushTimeout = 10 * time.Second

// submissionStore keeps intake submission records and answers readiness.
type submissionStore interface {
	cache.BytesCache
	Ping(ctx context.Context) error
}

type botFactories struct {
	newGateway     func(cfg *config.Config) (gw messenger.Gateway, botUsername string, err error)
	newProducer    func(cfg *config.Config) (p pickups.Producer, closeFn func())
	newStore       func(cfg *config.Config) (st submissionStore, closeFn func())
	newRateLimiter func(cfg *config.Config) (rl pickupsapi.RateLimiter, closeFn func())
}

func defaultBotFactories() botFactories {
	return botFactories{
		newGateway: newGateway,
		newProducer: func(cfg *config.Config) (pickups.Producer, func()) {
			p := kafka.NewProducer(cfg.KafkaBrokers())
			return p, func() { _ = p.Close() }
		},
		newStore: func(cfg *config.Config) (submissionStore, func()) {
			rc := rediscache.New(redisOptions(cfg))
			return rc, func() { _ = rc.Close() }
		},
		newRateLimiter: func(cfg *config.Config) (pickupsapi.RateLimiter, func()) {
			rl := rediscache.NewRateLimiter(redisOptions(cfg))
			return rl, func() { _ = rl.Close() }
		},
	}
}

// newGateway picks the Bot API client, or the in-memory gateway when no
// token is configured.
func newGateway(cfg *config.Config) (messenger.Gateway, string, error) {
	if cfg.Telegram.Token == "" {
		slog.Warn("telegram token not set, running with in-memory gateway")
		username := cfg.Telegram.BotUsername
		if username == "" {
			username = "pickup_bot"
		}
		return fake.New(), username, nil
	}
	c, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.APIEndpoint)
	if err != nil {
		return nil, "", err
	}
	c.SetDebug(cfg.Telegram.Debug)
	username := c.Username()
	if username == "" {
		username = cfg.Telegram.BotUsername
	}
	return c, username, nil
}

func redisOptions(cfg *config.Config) rediscache.Options {
	return rediscache.Options{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
}

func RunPickupBot(ctx context.Context, cfg *config.Config, f botFactories, onListen func(httpAddr string)) error {
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	if cfg.Telegram.GroupChatID == 0 {
		return errors.New("telegram.group_chat_id is required")
	}

	gw, botUsername, err := f.newGateway(cfg)
	if err != nil {
		return errors.Wrap(err, "messenger gateway")
	}
	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}
	store, closeStore := f.newStore(cfg)
	if closeStore != nil {
		defer closeStore()
	}
	rl, closeRL := f.newRateLimiter(cfg)
	if closeRL != nil {
		defer closeRL()
	}

	// Backlog reset happens here only, never per request.
	if cfg.Pickup.ResetPendingOnStartup {
		if err := gw.Reset(ctx, true); err != nil {
			return errors.Wrap(err, "reset pending updates")
		}
		slog.Info("pending updates dropped")
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(clock)
	m := matcher.New(gw, clock).WithSettings(s.PollTimeout, s.PollPause)
	sched := retention.New(gw, clock)
	comp := composer.New(botUsername, s.Location, s.Retention)
	n := notifier.New(gw, comp, reg, sched, cfg.Telegram.GroupChatID, s.Retention)
	svc := pickups.New(reg, m, gw, comp, n, cfg.Telegram.GroupChatID).
		WithOutcomes(producer, s.OutcomeTopic).
		WithClock(clock)

	g, gctx := errgroup.WithContext(ctx)

	api := pickupsapi.New(svc, intake.NewValidator(s.Location, s.DefaultWait, s.MaxWait), store, rl, s.Location).
		WithLimits(s.IntakeLimitPerHour, s.SubmissionTTL).
		WithBaseContext(gctx)

	slog.Info("pickup bot starting",
		"bot", botUsername,
		"group_chat_id", cfg.Telegram.GroupChatID,
		"http_addr", s.HTTPAddr,
		"topic", s.OutcomeTopic,
	)

	g.Go(func() error {
		return m.Run(gctx)
	})
	g.Go(func() error {
		return runBotHTTPServer(gctx, botHTTPOpts{
			httpAddr:    s.HTTPAddr,
			swaggerPath: s.SwaggerPath,
			onListen:    onListen,
			api:         api,
			store:       store,
			matcher:     m,
			service:     svc,
			retention:   sched,
			registry:    reg,
			settings:    s,
			cfg:         cfg,
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		api.Shutdown()
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		sched.Flush(flushCtx)
		slog.Info("pickup bot stopped", "retention", sched.Stats())
		return nil
	})

	return g.Wait()
}
