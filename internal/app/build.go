package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aathul-raj/hermes/internal/analysis"
	"github.com/aathul-raj/hermes/internal/bridge"
	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/config"
	"github.com/aathul-raj/hermes/internal/httpapi"
	"github.com/aathul-raj/hermes/internal/lifecycle"
	"github.com/aathul-raj/hermes/internal/observability"
	"github.com/aathul-raj/hermes/internal/queue"
	"github.com/aathul-raj/hermes/internal/realtime"
	"github.com/aathul-raj/hermes/internal/telephony"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Store     calllog.Store
	Tracker   *lifecycle.Tracker
	Scheduler *queue.Scheduler
	Metrics   *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build assembles the service from configuration: record store, lifecycle
// tracker, realtime dialer, bridge, telephony provider, queue scheduler
// and the HTTP surface on top of them.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("call log store init failed: %w", err)
	}

	tracker := lifecycle.NewTracker(store, cfg.CallTimeout*2)

	dialer := realtime.NewWebsocketDialer(realtime.Config{
		URL:    cfg.RealtimeURL,
		APIKey: cfg.OpenAIAPIKey,
	})

	b := bridge.New(tracker, dialer, metrics, bridge.Config{
		Voice:       cfg.RealtimeVoice,
		Temperature: cfg.RealtimeTemperature,
		SettleDelay: cfg.SessionSettleDelay,
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var analyzer analysis.Analyzer
	if strings.TrimSpace(cfg.AnalyzerURL) != "" {
		analyzer = analysis.NewHTTPAnalyzer(cfg.AnalyzerURL)
		log.Printf("[app] analyzer: %s", cfg.AnalyzerURL)
	} else {
		log.Printf("[app] analyzer: disabled (no ANALYZER_URL)")
	}

	guard, rdb, err := buildGuard(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	scheduler := queue.NewScheduler(store, provider, tracker, analyzer, guard, metrics, queue.Config{
		PollInterval: cfg.QueuePollInterval,
		CallTimeout:  cfg.CallTimeout,
	})

	api := httpapi.New(cfg, store, scheduler, b, metrics)

	cleanup := func() error {
		var errs []string
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Store:     store,
		Tracker:   tracker,
		Scheduler: scheduler,
		Metrics:   metrics,
		Cleanup:   cleanup,
	}, nil
}

// buildProvider picks the real platform when credentials are present and
// the recording mock otherwise, so the service runs end to end locally.
func buildProvider(cfg config.Config) (telephony.Provider, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		log.Printf("[app] telephony provider: mock (no TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN)")
		return telephony.NewMockProvider(), nil
	}
	if cfg.TwilioFromNumber == "" {
		return nil, fmt.Errorf("PHONE_NUMBER_FROM is required with twilio credentials")
	}
	if cfg.PublicDomain == "" {
		return nil, fmt.Errorf("DOMAIN is required with twilio credentials")
	}
	log.Printf("[app] telephony provider: twilio (from %s)", cfg.TwilioFromNumber)
	return telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:   cfg.TwilioAccountSID,
		AuthToken:    cfg.TwilioAuthToken,
		FromNumber:   cfg.TwilioFromNumber,
		PublicDomain: cfg.PublicDomain,
		APIBaseURL:   cfg.TwilioAPIBaseURL,
	}), nil
}

// buildGuard returns the shared redis lease when REDIS_ADDR is set, and
// the in-process guard otherwise.
func buildGuard(ctx context.Context, cfg config.Config) (queue.Guard, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		log.Printf("[app] queue guard: local (no REDIS_ADDR)")
		return queue.NewLocalGuard(), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Printf("[app] queue guard: redis lease at %s", cfg.RedisAddr)
	return queue.NewRedisGuard(rdb, "hermes:queue:lease", cfg.CallTimeout*2), rdb, nil
}
