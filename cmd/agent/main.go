package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hostexec/agent/internal/config"
	"github.com/hostexec/agent/internal/intake"
	"github.com/hostexec/agent/internal/logsink"
	"github.com/hostexec/agent/internal/stats"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := initLogger()
	defer logger.Sync()

	logger.Info("starting hostexec agent",
		zap.String("version", version),
		zap.String("listenAddr", cfg.ListenAddr),
		zap.String("logDir", cfg.LogDir),
	)

	collector := stats.NewCollector()

	mux := http.NewServeMux()
	intake.NewServer(logger, cfg.LogDir, logsink.Level(cfg.LogLevel), cfg.QueueCapacity).RegisterRoutes(mux)
	intake.NewStatusServer(logger, collector).RegisterRoutes(mux)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()
	logger.Info("intake listening", zap.String("addr", cfg.ListenAddr))

	statusTicker := time.NewTicker(cfg.StatusLogInterval)
	defer statusTicker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-statusTicker.C:
			logAliveStatus(logger, collector)

		case sig := <-quit:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = srv.Shutdown(ctx)
			cancel()
			logger.Info("agent stopped gracefully")
			return
		}
	}
}

// logAliveStatus writes the periodic "agent alive" log line described in
// SPEC_FULL.md §4.9 — a host-health snapshot distinct from any single
// command's Heartbeat response.
func logAliveStatus(logger *zap.Logger, collector *stats.Collector) {
	snap, err := collector.Collect()
	if err != nil {
		logger.Warn("status collect failed", zap.Error(err))
		return
	}
	logger.Info("agent alive",
		zap.Float64("cpuUsage", snap.CPUUsage),
		zap.Float64("ramUsage", snap.RAMUsage),
		zap.Uint64("uptime", snap.Uptime),
	)
}

func initLogger() *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	consoleCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	)

	return zap.New(consoleCore, zap.AddCaller())
}
