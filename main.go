package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"ShopDesk/server"

	"github.com/labstack/gommon/log"
)

func main() {
	s := server.NewServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go s.Start(s.Config.Server.Addr)

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed:", err)
	}
}
