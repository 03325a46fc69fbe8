// Command leadpipe runs the WhatsApp lead assistant for one real estate agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/leads"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/status"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

func main() {
	initializeLogger(slog.LevelDebug)

	cfg := loadEnvironmentConfig()
	cfg, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(cfg.LogLevel)
	if err := cfg.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "agentID", cfg.AgentID, "backend", cfg.MessagingBackend, "state_dir", cfg.StateDir)
	if err := run(ctx, cfg); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// run wires every component and blocks until ctx is done or a component fails.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.AgentID)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(cfg.DBDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}

	gaClient, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIKey),
		genai.WithModel(cfg.OpenAIModel),
		genai.WithDebugMode(cfg.GenAIDebug, cfg.StateDir),
	)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	orchestrator := flow.NewOrchestrator(
		flow.Agent{ID: cfg.AgentID, Name: cfg.AgentName},
		sessions,
		genai.NewIntentClassifier(gaClient),
		leads.NewReconciler(st),
		st,
	)

	reporter := status.NewReporter(st, cfg.AgentID, cfg.AgentName)
	msgService, apiOpts, cleanup, err := openTransport(ctx, cfg, reporter)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	respHandler := messaging.NewResponseHandler(msgService, orchestrator, st, cfg.AgentID, messaging.WithDedup(st))
	respHandler.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := session.NewSweeper(sessions, sched, cfg.SweepSchedule).Start(ctx); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	if err := reporter.StartHeartbeat(ctx, sched, status.DefaultHeartbeatSchedule); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr), api.WithCORSOrigins(cfg.CORSOrigins))
	server := api.NewServer(msgService, st, apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := msgService.Stop(); err != nil {
			slog.Warn("run: messaging service stop failed", "error", err)
		}
		respHandler.Wait()
		return nil
	})
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), status.DefaultWriteTimeout)
	defer cancel()
	if serr := reporter.SetStatus(shutdownCtx, models.BotStatusOffline); serr != nil {
		slog.Warn("run: failed to record offline status", "error", serr)
	}
	return err
}

// openStore selects the lead store backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return st, nil
}

// openSessions returns the Redis session store when configured, else the in-memory one.
func openSessions(ctx context.Context, cfg Config) (session.Store, error) {
	opts := []session.Option{session.WithInactivityTimeout(cfg.SessionTimeout)}
	if cfg.RedisURL == "" {
		slog.Debug("No REDIS_URL provided, using in-memory sessions")
		return session.NewMemoryStore(opts...), nil
	}
	rs, err := session.NewRedisStoreFromURL(ctx, cfg.RedisURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open redis session store: %w", err)
	}
	return rs, nil
}

// openTransport connects the configured messaging backend.
func openTransport(ctx context.Context, cfg Config, reporter *status.Reporter) (messaging.Service, []api.Option, func(), error) {
	region := messaging.WithRegion(cfg.DefaultRegion)
	switch cfg.MessagingBackend {
	case BackendTwilio:
		tw, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(tw, region, messaging.WithWebhookURL(cfg.TwilioWebhookURL))
		if err := reporter.SetStatus(ctx, models.BotStatusOnline); err != nil {
			slog.Warn("openTransport: failed to record online status", "error", err)
		}
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, func() {}, nil
	case BackendWhatsApp:
		waOpts := []whatsapp.Option{
			whatsapp.WithDBDSN(cfg.WhatsAppDSN),
			whatsapp.WithStatusCallback(reporter.OnStatus),
		}
		if cfg.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		wa, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(wa, region), nil, wa.Disconnect, nil
	default:
		return nil, nil, nil, errors.New("unknown messaging backend " + cfg.MessagingBackend)
	}
}
