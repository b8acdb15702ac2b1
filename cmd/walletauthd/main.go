// Command walletauthd serves the wallet sign-in API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	httpapi "github.com/coinwatch/walletauth/adapters/http"
	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/challenge"
	"github.com/coinwatch/walletauth/core"
	"github.com/coinwatch/walletauth/events"
	"github.com/coinwatch/walletauth/policy"
	"github.com/coinwatch/walletauth/storage/memory"
	"github.com/coinwatch/walletauth/storage/postgres"
	"github.com/coinwatch/walletauth/storage/redis"
	"github.com/coinwatch/walletauth/token"
)

func main() {
	cfg, err := core.ConfigFromEnv()
	if err != nil {
		slog.Error("configuration", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("walletauthd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg core.Config, log *slog.Logger) error {
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		redisClient = client
	}

	var challengeStore challenge.Store
	var revocations token.RevocationStore
	if redisClient != nil {
		challengeStore = redisstore.NewChallengeStore(redisClient)
		revocations = redisstore.NewRevocationStore(redisClient)
		log.Info("challenge and revocation state in redis")
	} else {
		challengeStore = memorystore.NewChallengeStore()
		revocations = memorystore.NewRevocationStore()
		log.Warn("challenge and revocation state in memory, not suitable for multiple nodes")
	}

	var accounts account.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := pgstore.NewAccountStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		accounts = store
		log.Info("accounts in postgres")
	} else {
		accounts = memorystore.NewAccountStore()
		log.Warn("accounts in memory, data is lost on restart")
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	if cfg.SigningKeyPEM == "" {
		log.Warn("using an ephemeral signing key, sessions will not survive a restart")
	}
	tokens, err := token.NewIssuer(signingKey, cfg.Domain, cfg.AccessTTL, cfg.RefreshTTL, revocations)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Nop{}
	if redisClient != nil {
		wmPub, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewSlogLogger(log),
		)
		if err != nil {
			return err
		}
		wp := events.NewWatermillPublisher(wmPub)
		defer wp.Close()
		publisher = wp
	}

	svc, err := core.New(core.Options{
		Policy:     policy.New(cfg.Domain, cfg.Chains),
		Challenges: challenge.NewIssuer(challengeStore, cfg.ChallengeTTL),
		Accounts:   accounts,
		Tokens:     tokens,
		Events:     publisher,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() {
		svc.SweepChallenges(context.Background())
	}); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewHandler(svc, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "domain", cfg.Domain)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}
