package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/membergate/modules/membership"
	"github.com/dmitrymomot/membergate/pkg/billing"
	"github.com/dmitrymomot/membergate/pkg/billingevents"
	"github.com/dmitrymomot/membergate/pkg/checkout"
	"github.com/dmitrymomot/membergate/pkg/config"
	"github.com/dmitrymomot/membergate/pkg/httpserver"
	"github.com/dmitrymomot/membergate/pkg/identity"
	"github.com/dmitrymomot/membergate/pkg/identityevents"
	"github.com/dmitrymomot/membergate/pkg/logger"
	"github.com/dmitrymomot/membergate/pkg/pg"
	"github.com/dmitrymomot/membergate/pkg/plan"
	"github.com/dmitrymomot/membergate/pkg/redis"
	"github.com/dmitrymomot/membergate/pkg/subcache"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

type appConfig struct {
	Log      logger.Config
	HTTP     httpserver.Config
	PG       pg.Config
	Redis    redis.Config
	Stripe   billing.StripeConfig
	Identity identity.Config

	PlansFile string `env:"PLANS_FILE" envDefault:"plans.yaml"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.MustLoad[appConfig]()

	log := logger.NewFromConfig(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	catalog, err := plan.NewYAMLSource(cfg.PlansFile).Load(ctx)
	if err != nil {
		return err
	}

	billingClient, err := billing.NewStripeClient(cfg.Stripe)
	if err != nil {
		return err
	}

	identityClient, err := identity.NewClient(cfg.Identity)
	if err != nil {
		return err
	}

	svixVerifier, err := identityevents.NewSvixVerifier(cfg.Identity.WebhookSecret)
	if err != nil {
		return err
	}

	store := userstore.NewPostgresStore(pool)
	cache := subcache.New(redisClient)

	identityReceiver := identityevents.NewReceiver(store, svixVerifier, cache,
		log.With(logger.Component("identity_events")))
	billingReceiver := billingevents.NewReceiver(store, billingClient, catalog, cache,
		log.With(logger.Component("billing_events")))
	checkoutSvc := checkout.NewService(store, billingClient, identityClient, catalog, cache,
		log.With(logger.Component("checkout")))

	handler := membership.NewHandler(store, checkoutSvc, identityReceiver, billingReceiver, cache,
		log.With(logger.Component("http")))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.Healthcheck(log))
	r.Get("/readyz", httpserver.Healthcheck(log,
		pg.Healthcheck(pool),
		redis.Healthcheck(redisClient),
	))
	r.Mount("/", membership.Router(handler, identityClient, log))

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}
