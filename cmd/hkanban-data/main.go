package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/config"
	"github.com/spider10584329/hkanban-sub001/internal/database"
	httpapi "github.com/spider10584329/hkanban-sub001/internal/http"
	"github.com/spider10584329/hkanban-sub001/internal/logger"
	"github.com/spider10584329/hkanban-sub001/internal/mqtt"
	"github.com/spider10584329/hkanban-sub001/internal/repository"
	"github.com/spider10584329/hkanban-sub001/internal/service"
	"github.com/spider10584329/hkanban-sub001/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hkanban-data")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Redis：token 缓存
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	// PostgreSQL：本地业务数据与设备影子
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// 厂家云客户端 + token 管理（single-flight 登录，Redis 缓存）
	cloudClient := cloud.NewClient(cfg.ESL.HttpAddress, cfg.ESL.Timeout, log)
	tokens := cloud.NewTokenManager(
		kv, cloudClient,
		cfg.ESL.Username, cfg.ESL.PasswordHash, cfg.ESL.StoreID,
		cfg.Sync.TokenSafety, cfg.Sync.LoginThrottle,
		log,
	)
	cloudClient.UseTokenSource(tokens)

	// Repository
	queueRepo := repository.NewPostgresSyncQueueRepo(db)
	productsRepo := repository.NewPostgresProductsRepo(db)
	deviceRepo := repository.NewPostgresDeviceStatusRepo(db)
	gatewaysRepo := repository.NewPostgresGatewaysRepo(db)
	replenishRepo := repository.NewPostgresReplenishmentRepo(db)
	usersRepo := repository.NewPostgresUsersRepo(db)

	// Service
	queueSvc := service.NewSyncQueueService(queueRepo, productsRepo, deviceRepo, cloudClient, tokens, cfg.Sync, log)
	reconciler := service.NewEventReconciler(deviceRepo, productsRepo, replenishRepo, usersRepo, cloudClient, tokens, cfg.Sync, log)
	bindingSvc := service.NewBindingService(deviceRepo, productsRepo, cloudClient, tokens, log)
	gatewaySvc := service.NewGatewayService(gatewaysRepo, deviceRepo, cloudClient, tokens, log)
	productSync := service.NewProductSyncService(productsRepo, deviceRepo, queueSvc, cloudClient, tokens, log)
	deviceSvc := service.NewDeviceService(deviceRepo, log)
	replenishSvc := service.NewReplenishmentService(replenishRepo, productsRepo, log)

	// HTTP
	router := httpapi.NewRouter(log)
	router.RegisterSyncRoutes(httpapi.NewSyncHandler(queueSvc, reconciler, productSync, log))
	router.RegisterGatewayRoutes(httpapi.NewGatewayHandler(gatewaySvc, log))
	router.RegisterBindingRoutes(httpapi.NewBindingHandler(bindingSvc, log))
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(deviceSvc, productSync, log))
	router.RegisterReplenishmentRoutes(httpapi.NewReplenishmentHandler(replenishSvc, log))
	router.RegisterTagStoreRoutes(httpapi.NewTagStoreHandler(deviceRepo, cloudClient, tokens, log))
	router.RegisterHealthRoutes()

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MQTT 推送触发（可选；轮询 /sync/button-events 为主路径）
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		if cfg.MQTT.TenantID == "" {
			log.Warn("MQTT enabled but MQTT_TENANT_ID not set, push trigger disabled")
		} else if c, err := mqtt.NewClient(&cfg.MQTT); err != nil {
			log.Warn("MQTT connect failed, push trigger disabled", zap.Error(err))
		} else {
			mqttClient = c
			broker := mqtt.NewButtonBroker(cfg.MQTT, cfg.MQTT.TenantID, reconciler, deviceRepo, log)
			go func() {
				if err := broker.Start(ctx, mqttClient); err != nil {
					log.Error("MQTT button broker stopped", zap.Error(err))
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	_ = redisClient.Close()
	_ = db.Close()
}
