// Command monitor runs the weather disaster monitoring service: it polls
// weather observations for the configured locations, classifies them, gates
// dispatch on severity policy with optional human approval, and emails
// alerts, writing every workflow transition to the audit trail.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/cirruswatch/stormsentry/internal/adapter/classifier"
	"github.com/cirruswatch/stormsentry/internal/adapter/httpapi"
	"github.com/cirruswatch/stormsentry/internal/adapter/openweather"
	"github.com/cirruswatch/stormsentry/internal/adapter/smtpnotify"
	"github.com/cirruswatch/stormsentry/internal/approval"
	"github.com/cirruswatch/stormsentry/internal/audit"
	"github.com/cirruswatch/stormsentry/internal/config"
	"github.com/cirruswatch/stormsentry/internal/observability"
	"github.com/cirruswatch/stormsentry/internal/policy"
	"github.com/cirruswatch/stormsentry/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	sink, err := buildAuditSink(cfg, logger)
	if err != nil {
		logger.Error("failed to open audit sink", "error", err)
		os.Exit(1)
	}

	policies, err := buildPolicyStore(cfg, logger)
	if err != nil {
		logger.Error("failed to load policy", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PolicyPath != "" {
		go func() {
			if err := policy.Watch(ctx, cfg.PolicyPath, policies, logger); err != nil {
				logger.Error("policy watcher error", "error", err)
			}
		}()
	}

	clock := clockwork.NewRealClock()
	gate := approval.NewGate(cfg.ApprovalTimeout, clock)

	source := openweather.NewClient(cfg.OpenWeatherAPIKey, cfg.OpenWeatherBaseURL, cfg.OpenWeatherTimeout, logger)
	cls := classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierModel, cfg.ClassifierTimeout, logger)
	notifier := smtpnotify.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword, logger)

	engine := workflow.New(workflow.Config{
		Locations:       cfg.Locations,
		PollInterval:    cfg.PollInterval,
		FetchTimeout:    cfg.OpenWeatherTimeout,
		ClassifyTimeout: cfg.ClassifierTimeout,
		NotifyTimeout:   cfg.NotifyTimeout,
		Retry: workflow.RetryPolicy{
			MaxRetries:     cfg.RetryBudget,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
			Multiplier:     2,
		},
		Recipients: cfg.AlertRecipients,
	}, workflow.Deps{
		Source:     source,
		Classifier: cls,
		Notifier:   notifier,
		Gate:       gate,
		Policies:   policies,
		Audit:      sink,
		Clock:      clock,
		Logger:     logger,
		Metrics:    metrics,
	})

	srv := httpapi.NewServer(cfg.HTTPAddr, engine, engine, gate, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil {
			logger.Error("engine error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Let in-flight incidents reach their terminal audit record.
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Warn("engine did not finish within shutdown timeout")
	}

	if err := sink.Close(); err != nil {
		logger.Error("audit sink close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// buildAuditSink assembles the configured audit destinations. The JSONL file
// is always on; SQLite and Kafka are added when configured.
func buildAuditSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, error) {
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}
	sinks := []audit.Sink{fileSink}

	if cfg.AuditDBPath != "" {
		store, err := audit.OpenSQLiteStore(cfg.AuditDBPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
		logger.Info("audit sqlite store enabled", "path", cfg.AuditDBPath)
	}

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic))
		logger.Info("audit kafka sink enabled",
			"brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAuditTopic)
	}

	return audit.NewMultiSink(sinks...), nil
}

func buildPolicyStore(cfg *config.Config, logger *slog.Logger) (*policy.Store, error) {
	if cfg.PolicyPath == "" {
		return policy.NewStore(policy.Default()), nil
	}

	p, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	logger.Info("policy file loaded", "path", cfg.PolicyPath)
	return policy.NewStore(p), nil
}
