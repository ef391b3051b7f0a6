// Command quakefeed runs the earthquake ingestion and fan-out service:
// it connects to the configured seismic feeds, normalizes and
// deduplicates events, persists them, and broadcasts them to WebSocket
// subscribers.
//
// With -probe it instead runs a bounded test connection against the
// first configured feed, printing received events, then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/unibosoft/quakefeed/internal/api"
	"github.com/unibosoft/quakefeed/internal/config"
	"github.com/unibosoft/quakefeed/internal/dedup"
	"github.com/unibosoft/quakefeed/internal/delivery/webhook"
	"github.com/unibosoft/quakefeed/internal/feed"
	"github.com/unibosoft/quakefeed/internal/feed/emsc"
	"github.com/unibosoft/quakefeed/internal/hub"
	"github.com/unibosoft/quakefeed/internal/logging"
	"github.com/unibosoft/quakefeed/internal/observability"
	"github.com/unibosoft/quakefeed/internal/pipeline"
	"github.com/unibosoft/quakefeed/internal/quake"
	"github.com/unibosoft/quakefeed/internal/store"
	"github.com/unibosoft/quakefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	probe := flag.Duration("probe", 0, "Run a bounded test connection for this duration, print events, then exit")
	flag.Parse()

	// Local development convenience; production uses real env vars.
	_ = godotenv.Load(".env.localdev")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logger.Info().Str("commit", version.CommitHash).Msg("quakefeed starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *probe > 0 {
		if err := runProbe(ctx, cfg, *probe, logger); err != nil {
			logger.Fatal().Err(err).Msg("probe failed")
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("service failed")
	}
	logger.Info().Msg("goodbye")
}

// run wires the full service and blocks until the context ends.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	eventStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	metrics := observability.NewMetrics()
	fanout := hub.New(logger.With().Str("component", "hub").Logger())

	// One proximity-dedup cache shared by every feed pipeline.
	dd := dedup.New(
		dedup.WithRetention(cfg.Dedup.Retention.Std()),
		dedup.WithMaxEntries(cfg.Dedup.MaxEntries),
		dedup.WithProximity(cfg.Dedup.TimeWindow.Std(), cfg.Dedup.DistanceKM, cfg.Dedup.MagnitudeDelta),
	)

	var notifier pipeline.Notifier
	if len(cfg.Webhooks) > 0 {
		targets := make([]webhook.Target, 0, len(cfg.Webhooks))
		for _, w := range cfg.Webhooks {
			logger.Info().Str("target", w.Name).Str("secret", webhook.MaskSecret(w.Secret)).Msg("webhook target configured")
			targets = append(targets, webhook.Target{Name: w.Name, URL: w.URL, Secret: w.Secret})
		}
		notifier = webhook.NewNotifier(webhook.NewSender(), targets, logger.With().Str("component", "webhook").Logger())
	}

	controllers, err := buildControllers(cfg, dd, eventStore, fanout, notifier, metrics, logger)
	if err != nil {
		return err
	}

	reporters := make([]api.StatusReporter, len(controllers))
	for i, c := range controllers {
		reporters[i] = c
	}
	router := api.NewRouter(api.RouterConfig{
		Hub:       fanout,
		Store:     eventStore,
		Pipelines: reporters,
		Logger:    logger.With().Str("component", "api").Logger(),
	})

	sup := newSupervisor("quakefeed", logger)
	sup.Add(fanout)
	sup.Add(api.NewServer(cfg.API.Addr, router, logger.With().Str("component", "api").Logger()))
	for _, c := range controllers {
		sup.Add(c)
	}

	return sup.Serve(ctx)
}

// runProbe runs one controller against the first configured feed for a
// bounded duration, printing everything it would have broadcast.
func runProbe(ctx context.Context, cfg *config.Config, duration time.Duration, logger zerolog.Logger) error {
	logger.Info().Dur("duration", duration).Msg("probing feed connection")

	probeCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	metrics := observability.NewMetrics()
	controllers, err := buildControllers(cfg, dedup.New(), store.NewMemoryStore(), printPublisher{logger: logger}, nil, metrics, logger)
	if err != nil {
		return err
	}
	controller := controllers[0]

	// The probe is a one-shot task on the same supervised infrastructure
	// as the service, so its failures are observable, not orphaned.
	sup := newSupervisor("quakefeed-probe", logger)
	sup.Add(controller)
	err = sup.Serve(probeCtx)

	if controller.State() == pipeline.StateFailed {
		return fmt.Errorf("probe: %s", controller.ConnState().LastError)
	}
	if err != nil && probeCtx.Err() == nil {
		return err
	}
	logger.Info().Msg("probe finished")
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.EventStore, error) {
	if cfg.Store == nil {
		logger.Info().Msg("using in-memory event store")
		return store.NewMemoryStore(), nil
	}
	logger.Info().Str("project", cfg.Store.ProjectID).Msg("using firestore event store")
	return store.NewFirestoreStore(ctx, store.FirestoreConfig{
		ProjectID:   cfg.Store.ProjectID,
		Database:    cfg.Store.Database,
		Credentials: cfg.Store.Credentials,
		Collection:  cfg.Store.Collection,
	}, logger.With().Str("component", "store").Logger())
}

func buildControllers(
	cfg *config.Config,
	dd *dedup.Deduplicator,
	eventStore store.EventStore,
	publisher hub.Publisher,
	notifier pipeline.Notifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) ([]*pipeline.Controller, error) {
	registry := quake.NewRegistry()
	registry.Register(emsc.ProviderName, emsc.NewNormalizer())

	controllers := make([]*pipeline.Controller, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		normalizer, err := registry.Lookup(fc.Provider)
		if err != nil {
			return nil, err
		}
		factory, err := sourceFactory(fc, logger)
		if err != nil {
			return nil, err
		}

		opts := []pipeline.Option{
			pipeline.WithBackoff(cfg.Pipeline.InitialBackoff.Std(), cfg.Pipeline.MaxBackoff.Std()),
			pipeline.WithPersistRetry(cfg.Pipeline.PersistRetries, cfg.Pipeline.PersistBackoff.Std()),
			pipeline.WithDrainTimeout(cfg.Pipeline.DrainTimeout.Std()),
			pipeline.WithSeedWindow(cfg.Pipeline.SeedWindow.Std()),
		}
		if notifier != nil {
			opts = append(opts, pipeline.WithNotifier(notifier))
		}

		controllers = append(controllers, pipeline.NewController(
			fc.Provider, factory, normalizer, dd, eventStore, publisher, metrics, logger, opts...,
		))
	}
	return controllers, nil
}

// sourceFactory maps a feed config to a client constructor. Providers are
// a closed set; an unknown one is a configuration error.
func sourceFactory(fc config.FeedConfig, logger zerolog.Logger) (pipeline.SourceFactory, error) {
	switch fc.Provider {
	case emsc.ProviderName:
		return func() feed.Source {
			return emsc.NewClient(fc.Endpoint,
				emsc.WithConnectTimeout(fc.ConnectTimeout.Std()),
				emsc.WithStalenessWindow(fc.StalenessWindow.Std()),
				emsc.WithLogger(logger.With().Str("component", "feed").Str("provider", fc.Provider).Logger()),
			)
		}, nil
	default:
		return nil, &quake.ConfigError{Reason: fmt.Sprintf("no feed client for provider %q", fc.Provider)}
	}
}

// printPublisher satisfies hub.Publisher for probe runs, writing every
// would-be broadcast to the log.
type printPublisher struct {
	logger zerolog.Logger
}

func (p printPublisher) Publish(group string, msg hub.Message) {
	p.logger.Info().Str("group", group).Str("type", msg.Type).Any("data", msg.Data).Msg("probe message")
}

func newSupervisor(name string, logger zerolog.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Str("supervisor", name).Any("event", e.Map()).Msg(e.String())
		},
	})
}
