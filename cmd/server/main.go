package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"linechat/internal/server"
)

func main() {
	env := server.ConfigFromEnv()

	addr := flag.String("addr", env.Addr, "TCP address to listen on")
	wsAddr := flag.String("ws", env.WSAddr, "WebSocket address to listen on (empty disables)")
	historyPath := flag.String("history", env.HistoryPath, "chat log file")
	historyTail := flag.Int("tail", env.HistoryTail, "log lines replayed on login")
	workers := flag.Int("workers", env.Workers, "history append worker goroutines")
	flag.Parse()

	srv, err := server.New(server.Config{
		Addr:        *addr,
		WSAddr:      *wsAddr,
		HistoryPath: *historyPath,
		HistoryTail: *historyTail,
		Workers:     *workers,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("[server] shutting down…")
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Printf("[server] stopped: %v", err)
	}
}
