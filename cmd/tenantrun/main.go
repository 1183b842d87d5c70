package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tenantrun/internal/audit"
	"tenantrun/internal/common/cache"
	"tenantrun/internal/common/mq"
	"tenantrun/internal/dispatch/controller"
	"tenantrun/internal/dispatch/middleware"
	"tenantrun/internal/execution/engine"
	"tenantrun/internal/execution/provision"
	"tenantrun/internal/execution/spawn"
	"tenantrun/internal/identity"
	"tenantrun/internal/tenant/repository"
	"tenantrun/internal/tenant/service"
	"tenantrun/pkg/utils/contextkey"
	"tenantrun/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/tenantrun.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "tenantrun stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(appCfg *AppConfig) error {
	if os.Geteuid() != 0 {
		logger.Warn(context.Background(), "not running as root, scripts cannot switch identity")
	}

	users := repository.NewUserDatabase(appCfg.Tenant.Database)
	registry := repository.NewGroupRegistry(appCfg.Tenant.Database, repository.ExecRunner)
	spawner := spawn.NewSpawner()

	provisioner, err := provision.NewProvisioner(appCfg.provisionConfig(), spawner)
	if err != nil {
		return fmt.Errorf("init provisioner failed: %w", err)
	}

	recorder, closeAudit, err := buildRecorder(appCfg.Audit)
	if err != nil {
		return err
	}
	defer closeAudit()

	resolver, err := identity.New(appCfg.Identity, users)
	if err != nil {
		return fmt.Errorf("init identity resolver failed: %w", err)
	}

	eng := engine.NewScriptEngine(appCfg.engineConfig(), users, spawner, recorder)
	dispatcher := controller.NewDispatchController(appCfg.controllerConfig(), resolver, registry, eng)

	onboarding := service.NewOnboarding(appCfg.Tenant.Group, registry, users, provisioner)
	if err := onboarding.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrap tenants failed: %w", err)
	}

	listener, err := listen(appCfg.Server)
	if err != nil {
		return fmt.Errorf("init listener failed: %w", err)
	}
	httpServer := buildHTTPServer(appCfg.Server, dispatcher)

	syncCtx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	go onboarding.Run(syncCtx, appCfg.Tenant.SyncInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "tenantrun server started",
			zap.String("network", appCfg.Server.Network),
			zap.String("addr", listener.Addr().String()),
			zap.String("identity", appCfg.Identity.Strategy),
			zap.String("group", appCfg.Tenant.Group),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	return nil
}

// buildRecorder connects the enabled audit sinks. The returned close func
// is always safe to call.
func buildRecorder(cfg AuditConfig) (audit.Recorder, func(), error) {
	var (
		sinks   []audit.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Redis.Enabled {
		redisCfg := cfg.Redis.RedisConfig
		redisCache, err := cache.NewRedisCacheWithConfig(&redisCfg)
		if err != nil {
			return nil, closeAll, fmt.Errorf("init redis failed: %w", err)
		}
		closers = append(closers, redisCache.Close)
		sinks = append(sinks, audit.NewRedisHistory(redisCache, cfg.Redis.Keep, cfg.Redis.TTL))
	}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(cfg.Kafka.KafkaConfig)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("init kafka producer failed: %w", err)
		}
		closers = append(closers, producer.Close)
		sinks = append(sinks, audit.NewKafkaEvents(producer, cfg.Kafka.Topic))
	}

	if len(sinks) == 0 {
		return audit.Nop{}, closeAll, nil
	}
	fanOut := audit.NewFanOut(sinks...)
	logger.Info(context.Background(), "run audit enabled", zap.Int("sinks", fanOut.Len()))
	return fanOut, closeAll, nil
}

func listen(cfg ServerConfig) (net.Listener, error) {
	if cfg.Network != "unix" {
		return net.Listen("tcp", cfg.Addr)
	}
	if err := os.Remove(cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(cfg.SocketPath, cfg.SocketMode); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}

func buildHTTPServer(cfg ServerConfig, dispatcher *controller.DispatchController) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.TraceContext())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	dispatcher.Register(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		// identity resolvers need the accepted connection
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, contextkey.Conn, c)
		},
	}
}
