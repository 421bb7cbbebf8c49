// Package app wires configuration into running components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	grpcapi "ai-call-triage-service/internal/api/grpc"
	"ai-call-triage-service/internal/config"
	"ai-call-triage-service/internal/events"
	httpapi "ai-call-triage-service/internal/http"
	"ai-call-triage-service/internal/ledger"
	"ai-call-triage-service/internal/observability"
	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/observability/metrics"
	"ai-call-triage-service/internal/service/gateway"
	"ai-call-triage-service/internal/service/inference"
	"ai-call-triage-service/internal/service/orchestrator"
	"ai-call-triage-service/internal/service/storage"
	"ai-call-triage-service/internal/service/stt"
	"ai-call-triage-service/internal/service/stt/google"
	"ai-call-triage-service/internal/service/stt/mock"
	"ai-call-triage-service/internal/service/tokencache"
)

// ledgerStaleMargin is added to the job budget before an unfinished ledger
// record stops blocking a re-trigger.
const ledgerStaleMargin = 5 * time.Minute

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	store      storage.ObjectStore
	ledger     *ledger.Ledger
	publisher  *events.Publisher
	consumer   *events.Consumer
	dispatcher *orchestrator.Dispatcher
	grpc       *grpcapi.Server
	http       *http.Server
	obs        *observability.Server

	cancelConsumer context.CancelFunc
	closers        []func() error
}

// New constructs a new Application from the provided configuration and initialises logging.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	a.Logger.Info().Msg("AI call triage service application created")
	return a
}

// Start builds every component and starts the listeners. On error, whatever
// was already built is closed by Shutdown.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	cfg := a.Cfg
	m := metrics.DefaultMetrics

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	transcriber, err := a.openTranscriber(ctx)
	if err != nil {
		return err
	}

	model, err := a.openModel(ctx)
	if err != nil {
		return err
	}

	tokens := tokencache.New(tokencache.Config{
		TokenURL:     cfg.Gateway.TokenURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		Scopes:       cfg.Gateway.Scopes,
	}, tokencache.WithMetrics(m))
	tools := gateway.New(cfg.Gateway.Endpoint, tokens,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
		gateway.WithMetrics(m),
	)

	l, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN,
		ledger.WithStaleAfter(cfg.Orchestrator.JobTimeout+ledgerStaleMargin),
	)
	if err != nil {
		return err
	}
	a.ledger = l
	a.closers = append(a.closers, l.Close)
	if err := l.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}

	a.publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicStatus:  cfg.Kafka.TopicStatus,
		TopicOutcome: cfg.Kafka.TopicOutcome,
		Principal:    cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.publisher.Close)

	orch := orchestrator.New(orchestrator.Config{
		PollInterval: cfg.Orchestrator.PollInterval,
		JobTimeout:   cfg.Orchestrator.JobTimeout,
	}, transcriber, store, model, tools,
		orchestrator.WithObservers(l, a.publisher),
		orchestrator.WithMetrics(m),
	)
	a.dispatcher = orchestrator.NewDispatcher(orch, l, cfg.Orchestrator.MaxConcurrentJobs)

	a.consumer = events.NewConsumer(&events.ConsumerConfig{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TriggerTopic,
		GroupID: cfg.Kafka.ConsumerGroup,
		Scheme:  cfg.Storage.Scheme,
		Filter:  events.ObjectFilter{
			Bucket:         cfg.Storage.InputBucket,
			IgnorePrefixes: []string{storage.ProcessedPrefix, storage.TranscriptPrefix, cfg.STT.OutputPrefix},
		},
	}, a.dispatcher)
	if a.consumer != nil {
		a.closers = append(a.closers, a.consumer.Close)
		consumerCtx, cancel := context.WithCancel(context.Background())
		a.cancelConsumer = cancel
		go func() {
			if err := a.consumer.Run(consumerCtx); err != nil {
				a.Logger.Error().Err(err).Msg("Trigger consumer stopped")
			}
		}()
	}

	return a.serve(l)
}

func (a *Application) serve(l *ledger.Ledger) error {
	cfg := a.Cfg

	a.obs = observability.NewServer(":"+cfg.Observability.MetricsPort, l.Ping)
	a.obs.Start()

	a.http = &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Submitter: a.dispatcher,
			Jobs:      l,
			Snapshots: a.store,
			Ready:     []httpapi.ReadinessCheck{l.Ping},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info().Str("addr", a.http.Addr).Msg("Starting job API server")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("Job API server error")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	a.grpc = grpcapi.New(metrics.DefaultMetrics)
	go func() {
		if err := a.grpc.Serve(lis); err != nil {
			a.Logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	a.grpc.SetServing(true)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("stt", cfg.STT.Provider).
		Str("inference", cfg.Inference.Provider).
		Str("storage", cfg.Storage.Backend).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("AI call triage service started")
	return nil
}

func (a *Application) openStore(ctx context.Context) (storage.ObjectStore, error) {
	switch a.Cfg.Storage.Backend {
	case "gcs":
		s, err := storage.NewGCSStore(ctx, a.Cfg.Storage.Bucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return storage.NewFSStore(a.Cfg.Storage.LocalRoot)
	}
}

func (a *Application) openTranscriber(ctx context.Context) (stt.Transcriber, error) {
	c := a.Cfg.STT
	switch c.Provider {
	case "google":
		t, err := google.New(ctx, google.Config{
			LanguageCode:  c.LanguageCode,
			SampleRateHz:  int32(c.SampleRateHz),
			AudioEncoding: c.AudioEncoding,
			Model:         c.Model,
			Punctuation:   c.Punctuation,
			OutputBucket:  a.Cfg.Storage.Bucket,
			OutputPrefix:  c.OutputPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, t.Close)
		return t, nil
	default:
		return mock.New(a.store, c.MockPollsToComplete), nil
	}
}

func (a *Application) openModel(ctx context.Context) (inference.Model, error) {
	c := a.Cfg.Inference
	switch c.Provider {
	case "gemini":
		g, err := inference.NewGemini(ctx, c.GeminiAPIKey, c.GeminiModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	case "openai":
		return inference.NewOpenAI(c.OpenAIAPIKey, c.OpenAIModel, c.OpenAIBaseURL)
	default:
		return inference.Mock{}, nil
	}
}

// Shutdown stops accepting work, drains running jobs until ctx is done, then
// closes every component in reverse order.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("AI call triage service shutting down")
	var errs []error

	if a.grpc != nil {
		a.grpc.SetServing(false)
	}
	if a.cancelConsumer != nil {
		a.cancelConsumer()
	}
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
