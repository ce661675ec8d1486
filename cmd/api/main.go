package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pbxlink/internal/auth"
	"pbxlink/internal/calls"
	"pbxlink/internal/channels"
	"pbxlink/internal/config"
	"pbxlink/internal/contacts"
	"pbxlink/internal/directory"
	"pbxlink/internal/notify"
	"pbxlink/internal/recording"
	"pbxlink/internal/retention"
	"pbxlink/internal/trace"
	"pbxlink/pkg/logger"
	"pbxlink/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Agent)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Repositories
	callRepo := calls.NewPostgresRepo(db)
	channelRepo := channels.NewPostgresRepo(db)
	contactRepo := contacts.NewPostgresRepo(db)
	directoryRepo := directory.NewPostgresRepo(db)
	traceRepo := trace.NewPostgresRepo(db)

	// Services
	notifier := notify.NewRedisNotifier(rdb)
	contactSvc := contacts.NewService(contactRepo, log)
	directorySvc := directory.NewService(directoryRepo, log)
	tracer := trace.NewTracer(traceRepo, cfg.PBX.TraceAMI, log)

	var archiver recording.Archiver = recording.Noop{}
	if cfg.PBX.RecordCalls {
		archiver = recording.NewFileArchiver(cfg.PBX.RecordingDir, log)
	}

	correlator := calls.NewCorrelator(callRepo, contactSvc, nil, notifier, calls.Options{
		AutoCreateContacts: cfg.PBX.AutoCreateContacts,
	}, log)

	registry := channels.NewRegistry(channelRepo, correlator, directorySvc, tracer, notifier, archiver, channels.Options{
		DefaultCountry:     cfg.PBX.DefaultCountry,
		RecordCalls:        cfg.PBX.RecordCalls,
		AutoReloadChannels: cfg.PBX.AutoReloadChannels,
		AutoReloadCalls:    cfg.PBX.AutoReloadCalls,
	}, log)

	sweeper := retention.NewSweeper(callRepo, channelRepo, traceRepo, retention.Options{
		CallsKeepDays:     cfg.PBX.CallsKeepDays,
		ChannelsKeepHours: cfg.PBX.ChannelsKeepHours,
		TraceKeepDays:     cfg.PBX.TraceKeepDays,
	}, log)
	if err := sweeper.Start(); err != nil {
		log.Error("retention sweeper init failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:         cfg,
		auth:        authManager,
		registry:    registry,
		callRepo:    callRepo,
		channelRepo: channelRepo,
		redis:       rdb,
		db:          db,
		log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
