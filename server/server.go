package server

import (
	"ShopDesk/config"
	"ShopDesk/handlers"
	"ShopDesk/kafka"
	custommiddleware "ShopDesk/middleware"
	"ShopDesk/models"
	"ShopDesk/redis"
	"ShopDesk/services"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Server struct {
	Echo                 *echo.Echo
	DB                   *gorm.DB
	Config               *config.Config
	Redis                *redis.RedisClient
	ChatHandler          *handlers.ChatHandler
	ChatWebSocketHandler *handlers.ChatWebSocketHandler

	producer *kafka.Producer
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	// 初始化 Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	authService := services.NewAuthService(db, &cfg.Auth)
	sessionService := services.NewSessionService(db)

	s := &Server{
		Echo:   e,
		DB:     db,
		Config: &cfg,
		Redis:  redisClient,
	}

	// Kafka 事件流（可选，未配置 broker 时跳过）
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		saramaCfg, err := newSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to build kafka config:", err)
		}
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, saramaCfg)
		if err != nil {
			log.Fatal("Failed to create kafka producer:", err)
		}
		s.producer = producer

		consumerCfg, err := newSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to build kafka consumer config:", err)
		}
		handler := kafka.NewChatEventHandler(sessionService)
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
			[]string{cfg.Kafka.Topic}, consumerCfg, handler)
		if err != nil {
			log.Fatal("Failed to create kafka consumer:", err)
		}
		s.consumer = consumer

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("Kafka consumer stopped:", err)
			}
		}()
	}

	var eventProducer handlers.EventProducer
	if producer != nil {
		eventProducer = producer
	}
	s.ChatHandler = handlers.NewChatHandler(sessionService, redisClient, eventProducer, cfg.Kafka.Topic)
	s.ChatWebSocketHandler = handlers.NewChatWebSocketHandler(sessionService, redisClient, eventProducer, cfg.Kafka.Topic)

	// --- 设置路由 ---
	authMiddleware := custommiddleware.AuthMiddleware(authService)
	adminMiddleware := custommiddleware.AdminAuthMiddleware()
	s.SetupRoutes(authMiddleware, adminMiddleware)
	return s
}

func newSaramaConfig(cfg *config.KafkaConfig) (*sarama.Config, error) {
	if strings.HasPrefix(cfg.SASLMechanism, "SCRAM") {
		return kafka.NewSaramaConfigWithSCRAM(cfg, cfg.SASLMechanism)
	}
	return kafka.NewSaramaConfig(cfg)
}

func (s *Server) Start(addr string) {
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server stopped:", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	return s.Echo.Shutdown(ctx)
}
