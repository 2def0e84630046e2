package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcmini-stream/internal/device"
	"dcmini-stream/internal/live"
	"dcmini-stream/internal/platform/config"
	"dcmini-stream/internal/platform/health"
	"dcmini-stream/internal/platform/logger"
	"dcmini-stream/internal/platform/metrics"
	"dcmini-stream/internal/stream"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type settings struct {
	port            string
	stream          stream.Config
	samplesPerFrame int
	liveQueueSize   int
	sessionID       string
	adsConfigFile   string
	staleAfter      time.Duration
	batteryPoll     time.Duration
}

func loadSettings() settings {
	return settings{
		port: config.GetEnv("PORT", "8080"),
		stream: stream.Config{
			NumChannels:   config.GetEnvInt("NUM_CHANNELS", stream.DefaultNumChannels),
			MaxSamples:    config.GetEnvInt("MAX_SAMPLES", stream.DefaultMaxSamples),
			SampleRateHz:  config.GetEnvFloat("SAMPLE_RATE_HZ", stream.DefaultSampleRateHz),
			WindowSeconds: config.GetEnvFloat("WINDOW_SECONDS", stream.DefaultWindowSeconds),
			Snapshot:      config.GetEnvBool("SNAPSHOT_ENABLED", true),
		},
		samplesPerFrame: config.GetEnvInt("SIM_SAMPLES_PER_FRAME", 10),
		liveQueueSize:   config.GetEnvInt("LIVE_QUEUE_SIZE", live.DefaultQueueSize),
		sessionID:       config.GetEnv("SESSION_ID", ""),
		adsConfigFile:   config.GetEnv("ADS_CONFIG_FILE", ""),
		staleAfter:      config.GetEnvDuration("STALE_AFTER", 2*time.Second),
		batteryPoll:     config.GetEnvDuration("BATTERY_POLL", 30*time.Second),
	}
}

func main() {
	_ = config.Load()

	log := logger.New(os.Stdout, config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, loadSettings()); err != nil {
		log.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, log *slog.Logger, s settings) error {
	met := metrics.New()
	hub := live.NewHub(log, met, s.liveQueueSize)
	mgr := stream.NewManager(s.stream, hub, log, met)
	dev := device.NewSimulator(s.stream.NumChannels, s.samplesPerFrame)

	if err := prepareDevice(ctx, log, dev, mgr, s); err != nil {
		pushText(log, mgr, device.TopicError, device.DescribeError(err))
		return err
	}

	h := stream.NewHandler(mgr, log)
	probes := health.New(
		health.Checker{Name: "device", Check: func(context.Context) error {
			if !dev.IsConnected() {
				return device.ErrNotConnected
			}
			return nil
		}},
		health.Checker{Name: "stream", Check: func(context.Context) error {
			return mgr.CheckFresh(s.staleAfter)
		}},
	)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler(func() {
		st := mgr.Status()
		met.SetBuffered(st.Timestamps, st.LatestTimestamp)
	}).ServeHTTP)
	probes.Register(r)
	r.Mount("/stream", h.Routes())
	hub.Register(r)

	srv := &http.Server{Addr: ":" + s.port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting",
			slog.String("port", s.port),
			slog.Int("num_channels", s.stream.NumChannels),
			slog.Int("max_samples", s.stream.MaxSamples),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := device.Run(gctx, dev, mgr.Ingest, func(ctx context.Context, st *device.Stream) error {
			return session(ctx, log, dev, mgr, st, s.batteryPoll)
		})
		if err != nil {
			pushText(log, mgr, device.TopicError, device.DescribeError(err))
			return fmt.Errorf("streaming session: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// prepareDevice identifies the device and applies the front-end and session
// settings before streaming starts.
func prepareDevice(ctx context.Context, log *slog.Logger, dev device.Client, mgr *stream.Manager, s settings) error {
	info, err := dev.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	pushText(log, mgr, device.TopicInfo, device.DescribeInfo(info, time.Now()))
	log.Info("device connected",
		slog.String("hardware", info.HardwareVersion),
		slog.String("firmware", info.FirmwareVersion),
		slog.String("serial", info.SerialNumber))

	if s.adsConfigFile != "" {
		ads, err := device.LoadAdsConfig(s.adsConfigFile)
		if err != nil {
			return err
		}
		if n := len(ads.Channels); n != s.stream.NumChannels {
			log.Warn("ads config channel count differs from NUM_CHANNELS",
				slog.Int("ads_channels", n), slog.Int("num_channels", s.stream.NumChannels))
		}
		ok, err := dev.SetAdsConfig(ctx, ads)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("device refused ads config from %q", s.adsConfigFile)
		}
		if err := mgr.SetSampleRate(ads.SampleRate.Hz()); err != nil {
			return err
		}
	}

	if s.sessionID != "" {
		ok, err := dev.SetSessionID(ctx, s.sessionID)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("device refused session id", slog.String("session_id", s.sessionID))
		}
	}

	if lvl, err := dev.BatteryLevel(ctx); err == nil {
		pushText(log, mgr, device.TopicBattery, device.DescribeBattery(lvl))
	} else {
		log.Warn("battery level unavailable", slog.String("error", err.Error()))
	}
	return nil
}

// session runs while the device streams. It publishes the active
// configuration and polls the battery until ctx is done. A lost link ends it.
func session(ctx context.Context, log *slog.Logger, dev device.Client, mgr *stream.Manager, st *device.Stream, poll time.Duration) error {
	cfg := st.Config()
	// The device clock restarts with every stream.
	mgr.Reset()
	if err := mgr.SetSampleRate(cfg.SampleRate.Hz()); err != nil {
		log.Warn("device reported unusable sample rate", slog.String("rate", cfg.SampleRate.String()))
	}
	pushText(log, mgr, device.TopicConfig, device.DescribeConfig(cfg))
	log.Info("streaming started",
		slog.String("sample_rate", cfg.SampleRate.String()),
		slog.Int("active_channels", cfg.ActiveChannels()))

	if poll <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("streaming stopping")
			return nil
		case <-ticker.C:
			lvl, err := dev.BatteryLevel(ctx)
			var connErr *device.ConnectionError
			switch {
			case errors.As(err, &connErr):
				return err
			case err != nil:
				log.Warn("battery poll failed", slog.String("error", err.Error()))
			default:
				pushText(log, mgr, device.TopicBattery, device.DescribeBattery(lvl))
			}
		}
	}
}

func pushText(log *slog.Logger, mgr *stream.Manager, topic, text string) {
	if err := mgr.PushText(topic, text); err != nil {
		log.Warn("text push failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}
