package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"FhirChat/internal/config"
	"FhirChat/internal/conversation"
	"FhirChat/internal/fhir"
	"FhirChat/internal/router"
	"FhirChat/internal/telemetry"
	"FhirChat/internal/transcript"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	router  *router.Router
	archive *transcript.Store // nil when transcript_db is unset

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, func() { _ = closeLog() })

	tracer := otel.Tracer(telemetry.ServiceName)
	meter := otel.Meter(telemetry.ServiceName)
	if cfg.Telemetry {
		t, m, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir,
			attribute.String("fhir.base_url", cfg.FHIRBaseURL),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		tracer, meter = t, m
		a.closers = append(a.closers, shutdown)
	}

	client, err := fhir.NewClient(cfg.FHIRBaseURL,
		fhir.WithTimeout(cfg.RequestTimeout),
		fhir.WithLogger(logger),
		fhir.WithTracer(tracer),
		fhir.WithMeter(meter),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = router.New(client,
		router.WithLogger(logger),
		router.WithTracer(tracer),
		router.WithMeter(meter),
	)

	if cfg.TranscriptDB != "" {
		store, err := transcript.Open(cfg.TranscriptDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.archive = store
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close transcript archive", "error", err)
			}
		})
	}

	logger.Info("fhirchat started",
		"fhir_base_url", cfg.FHIRBaseURL,
		"request_timeout", cfg.RequestTimeout,
		"telemetry", cfg.Telemetry,
		"transcripts", cfg.TranscriptDB != "",
	)
	return a, nil
}

// newConversation starts a conversation on channel, archived when the
// transcript store is enabled.
func (a *app) newConversation(ctx context.Context, channel string) *conversation.Conversation {
	opts := []conversation.Option{conversation.WithLogger(a.logger)}
	if a.archive != nil {
		opts = append(opts, conversation.WithRecorder(a.archive))
	}
	conv := conversation.New(a.router, opts...)

	if a.archive != nil {
		if err := a.archive.Begin(ctx, conv.ID(), channel, conv.StartedAt()); err != nil {
			a.logger.Warn("failed to archive conversation", "conversation_id", conv.ID(), "error", err)
		}
	}
	return conv
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
