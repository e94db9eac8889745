package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dailyux/eldercare-go/adapter/llm"
	"github.com/dailyux/eldercare-go/adherence"
	"github.com/dailyux/eldercare-go/agents"
	"github.com/dailyux/eldercare-go/archive"
	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/config"
	"github.com/dailyux/eldercare-go/memory"
	"github.com/dailyux/eldercare-go/middleware"
	"github.com/dailyux/eldercare-go/notify"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/records"
	"github.com/dailyux/eldercare-go/safety"
	"github.com/dailyux/eldercare-go/tools"
)

const notificationHistory = 500

// app holds everything a command needs, built once from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	records       records.Repository
	notifications *notify.Recorder
	adherence     *adherence.Tracker
	audit         *observability.AuditLogger
	metrics       *observability.Instruments
	tools         *tools.ToolRegistry
	supervisor    *agents.Supervisor
	assistant     *assistant.Service

	closers []io.Closer
}

// appOptions overrides parts of the wiring.
type appOptions struct {
	// Model replaces the configured provider.
	Model llm.LLM
	// Console receives console notifications (default: stdout).
	Console io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:           cfg,
		logger:        logger,
		notifications: notify.NewRecorder(notificationHistory),
		adherence:     adherence.NewTracker(nil),
		metrics:       observability.DefaultInstruments(),
	}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	clock, err := records.ParseDemoTime(a.cfg.Records.DemoTime)
	if err != nil {
		return err
	}
	if err := a.buildRecords(ctx, clock); err != nil {
		return err
	}
	if err := a.buildAudit(); err != nil {
		return err
	}
	notifier, err := a.buildNotifier(opts.Console)
	if err != nil {
		return err
	}

	a.tools, err = tools.NewRegistry(tools.Deps{
		Records:   a.records,
		Notifier:  notifier,
		Adherence: a.adherence,
		Audit:     a.audit,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	model := opts.Model
	if model == nil {
		model, err = llm.New(ctx, a.cfg.LLMConfig())
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			a.logger.Warn("no language model configured; chat is unavailable", "error", err)
			model = nil
		case err != nil:
			return fmt.Errorf("failed to create language model: %w", err)
		}
	}
	if model != nil {
		if err := a.buildSupervisor(model); err != nil {
			return err
		}
	}

	mem, err := a.buildMemory()
	if err != nil {
		return err
	}
	archiver, err := a.buildArchiver()
	if err != nil {
		return err
	}

	svcOpts := assistant.Options{
		Memory:        mem,
		Archiver:      archiver,
		FollowUpDelay: a.cfg.FollowUpDelay(),
		Guard: safety.NewGuard(safety.GuardConfig{
			Strict:             a.cfg.Safety.Strict,
			InjectionThreshold: a.cfg.Safety.InjectionThreshold,
			MaxInputChars:      a.cfg.Safety.MaxInputChars,
			BlockedPhrases:     a.cfg.Safety.BlockedPhrases,
			RedactPII:          a.cfg.Safety.RedactPII,
			Audit:              a.audit,
			Logger:             a.logger,
		}),
		Metrics: a.metrics,
		Audit:   a.audit,
		Logger:  a.logger,
	}
	if a.supervisor != nil {
		svcOpts.Agent = a.supervisor
	}
	a.assistant = assistant.New(svcOpts)
	return nil
}

func (a *app) buildRecords(ctx context.Context, clock records.Clock) error {
	switch a.cfg.Records.Backend {
	case "redis":
		repo, err := records.NewRedisRepository(a.cfg.Records.RedisURL, a.cfg.Records.RedisPrefix, clock)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, repo)
		if a.cfg.Records.Seed {
			if err := repo.Seed(ctx); err != nil {
				return fmt.Errorf("failed to seed records: %w", err)
			}
		}
		a.records = repo
	default:
		a.records = records.NewMockRepository(clock)
	}
	return nil
}

func (a *app) buildAudit() error {
	adapters := []observability.AuditAdapter{observability.NewSlogAuditAdapter(a.logger)}
	if path := a.cfg.Observability.AuditFile; path != "" {
		file, err := observability.NewFileAuditAdapter(path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, file)
		adapters = append(adapters, file)
	}
	a.audit = observability.NewAuditLogger(adapters...)
	return nil
}

func (a *app) buildNotifier(console io.Writer) (notify.Dispatcher, error) {
	fanout := notify.Fanout{a.notifications}
	if a.cfg.Notify.Console {
		if console == nil {
			console = os.Stdout
		}
		fanout = append(fanout, notify.NewConsoleDispatcher(console, a.logger))
	}
	if url := a.cfg.Notify.AMQPURL; url != "" {
		dispatcher, err := notify.NewAMQPDispatcher(url, a.cfg.Notify.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dispatcher)
		fanout = append(fanout, dispatcher)
	}
	return fanout, nil
}

func (a *app) buildSupervisor(model llm.LLM) error {
	mode, err := agents.ParseOutputMode(a.cfg.Supervisor.OutputMode)
	if err != nil {
		return err
	}
	a.supervisor, err = agents.Build(agents.Config{
		Model:       model,
		Tools:       a.tools,
		MaxSteps:    a.cfg.Supervisor.MaxSteps,
		Temperature: a.cfg.LLM.Temperature,
		Retry: middleware.RetryConfig{
			MaxAttempts:    a.cfg.LLM.MaxRetries,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			Logger:         a.logger,
		},
		Timeout:             a.cfg.LLMTimeout(),
		OutputMode:          mode,
		HandoffBackMessages: a.cfg.Supervisor.HandoffBackMessages,
		DefaultRoute:        a.cfg.Supervisor.DefaultRoute,
		Metrics:             a.metrics,
		Audit:               a.audit,
		Logger:              a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}
	return nil
}

func (a *app) buildMemory() (memory.Memory, error) {
	mc := a.cfg.Memory
	if mc.Backend != "redis" {
		return memory.NewInMemoryMemory(mc.MaxMessages, mc.MaxSessions), nil
	}
	mem, err := memory.NewRedisMemory(mc.RedisURL, memory.RedisOptions{
		TTL:         a.cfg.MemoryTTL(),
		MaxMessages: mc.MaxMessages,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, mem)
	return mem, nil
}

func (a *app) buildArchiver() (archive.Archiver, error) {
	ac := a.cfg.Archive
	if !ac.Enabled {
		return archive.NopArchiver{}, nil
	}
	return archive.NewMinioArchiver(archive.MinioConfig{
		Endpoint:  ac.Endpoint,
		AccessKey: ac.AccessKey,
		SecretKey: ac.SecretKey,
		Bucket:    ac.Bucket,
		UseSSL:    ac.UseSSL,
	}, a.logger)
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
