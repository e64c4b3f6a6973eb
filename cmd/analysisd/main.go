package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-analysis/internal/analysis"
	"github.com/park285/cheese-analysis/internal/chess/uci"
	appcfg "github.com/park285/cheese-analysis/internal/config"
	"github.com/park285/cheese-analysis/internal/events"
	"github.com/park285/cheese-analysis/internal/gateway"
	"github.com/park285/cheese-analysis/internal/obslog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "analysisd",
		Usage: "supervise a UCI chess engine and stream its analysis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional dotenv file loaded before reading the environment.",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Optional YAML config file.",
				EnvVars: []string{"ANALYSIS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "Address for the HTTP gateway; overrides LISTEN_ADDR.",
			},
			&cli.BoolFlag{
				Name:  "autostart",
				Usage: "Start an engine session as soon as the daemon is up.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if err := appcfg.LoadDotEnv(c.String("env-file")); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	if path := c.String("config"); path != "" {
		if err := os.Setenv("ANALYSIS_CONFIG", path); err != nil {
			return err
		}
	}
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if addr := c.String("listen-addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	if err := obslog.InitFromEnv(); err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(logger.Named("hub"))
	defer hub.Close()
	publishers := events.Multi{hub}

	if cfg.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := events.DialRedis(dialCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("redis init error: %w", err)
		}
		defer rdb.Close()
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.RedisChannel, logger.Named("redis")))
		logger.Info("redis_publisher_enabled", zap.String("channel", cfg.RedisChannel))
	}

	registry := uci.NewRegistry(ctx, logger.Named("engine"))
	defer registry.Shutdown()

	sessionCfg := cfg.SessionConfig()
	sessionCfg.Stderr = zap.NewStdLog(logger.Named("engine.stderr")).Writer()

	svc, err := analysis.NewService(registry, sessionCfg, publishers, logger.Named("analysis"))
	if err != nil {
		return fmt.Errorf("analysis init error: %w", err)
	}

	if c.Bool("autostart") {
		res, err := svc.Start(ctx)
		if err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
		logger.Info("engine_autostarted", zap.String("session_id", res.SessionID))
	}

	server := gateway.NewServer(svc, hub, logger.Named("gateway"),
		gateway.WithSubscriberBuffer(cfg.EventBuffer),
		gateway.WithOriginPatterns(cfg.AllowedOrigins...),
	)
	logger.Info("analysisd_start",
		zap.String("engine", cfg.StockfishPath),
		zap.Int("depth", cfg.EngineDepth),
		zap.Int("mate_horizon", cfg.EngineMateHorizon),
	)
	err = server.ListenAndServe(ctx, cfg.ListenAddr)
	logger.Info("analysisd_stop")
	return err
}
