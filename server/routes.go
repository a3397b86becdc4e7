package server

import (
	"time"

	"ShopDesk/limiter"
	custommiddleware "ShopDesk/middleware"

	"github.com/labstack/echo/v4"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc, adminMiddleware echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api")

	// 聊天 HTTP 接口按用户限流
	rateLimiter := limiter.NewManager(s.Redis.Client, &limiter.FixedWindowStrategy{})
	rateLimit := custommiddleware.NewRateLimitMiddleware(rateLimiter, custommiddleware.RateLimitConfig{
		Limit:   60,
		Window:  time.Minute,
		KeyFunc: custommiddleware.ChatKeyFunc,
	})

	// 需要认证
	chat := api.Group("/chat")
	chat.Use(authMiddleware)
	chat.Use(rateLimit)
	{
		chat.POST("/start-session", s.ChatHandler.StartSession) // 创建或复用会话
		chat.GET("/fetch-session", s.ChatHandler.FetchSession)  // 用户恢复活动会话
		chat.POST("/end", s.ChatHandler.EndSession)             // 结束会话
		chat.GET("/:sessionId/online", s.ChatHandler.OnlineParticipants)
	}

	// 管理端接口
	admin := api.Group("/chat")
	admin.Use(authMiddleware)
	admin.Use(adminMiddleware)
	{
		admin.GET("/all-sessions", s.ChatHandler.AllSessions) // 批量加载会话
		admin.GET("/seen", s.ChatHandler.Seen)                // 整体标记已读
	}

	// WebSocket 入口（token 通过 query 传递）
	ws := api.Group("/chat")
	ws.Use(authMiddleware)
	ws.GET("/ws", s.ChatWebSocketHandler.HandleWebSocket)
}
