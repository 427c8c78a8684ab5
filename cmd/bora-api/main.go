// README: Entry point; loads config, wires the ride service onto its backends and serves HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"bora/internal/config"
	httptransport "bora/internal/http"
	"bora/internal/infra"
	"bora/internal/maps"
	"bora/internal/modules/eta"
	"bora/internal/modules/pricing"
	"bora/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := infra.NewLogger("bora-api", cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bora-api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	engineCfg := cfg.Pricing
	var store ride.Store
	switch cfg.Lifecycle.StoreBackend {
	case "memory":
		log.Warn("using in-memory ride store; rides are lost on restart")
		store = ride.NewMemoryStore()
	default:
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store = ride.NewPGStore(db)
		if engineCfg, err = pricing.NewStore(db).Resolve(ctx, engineCfg); err != nil {
			return err
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		switch {
		case err != nil && cfg.Lifecycle.LockerBackend == "redis":
			return err
		case err != nil:
			log.Warn("redis unavailable; caching estimates in memory", "addr", cfg.Redis.Addr, "error", err)
		default:
			defer rdb.Close()
		}
	}

	var locker ride.Locker = ride.NewKeyedMutex()
	if cfg.Lifecycle.LockerBackend == "redis" {
		locker = ride.NewRedisLocker(rdb, cfg.Lifecycle.LockTTL)
	}

	var etaStore eta.Store = eta.NewMemoryStore(cfg.Lifecycle.ETATTL)
	if rdb != nil {
		etaStore = eta.NewRedisStore(rdb, cfg.Lifecycle.ETATTL)
	}
	var lookup eta.RouteLookup
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
		if err != nil {
			return err
		}
		lookup = routes
	} else {
		log.Warn("GOOGLE_MAPS_API_KEY not set; estimates fall back to straight-line distance")
	}
	etas := eta.NewService(lookup, etaStore, cfg.Lifecycle.ETATimeout, log)

	svc := ride.NewService(
		ride.NewRepository(store, locker),
		pricing.NewEngine(engineCfg),
		etas,
		cfg.Lifecycle.Lifecycle,
		log,
	)
	defer svc.Close()

	if cfg.AMQP.URL != "" {
		conn, err := infra.NewAMQP(cfg.AMQP.URL)
		if err != nil {
			return err
		}
		defer conn.Close()
		pub, err := ride.NewAMQPPublisher(conn, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		svc.SetPublisher(pub)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    svc,
		Verifier: verifier,
		Log:      log,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log).Run(ctx)
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	switch cfg.Auth.Provider {
	case "firebase":
		v, err := infra.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProject, cfg.Auth.FirebaseCreds)
		if err != nil {
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		return v, nil
	default:
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
}
