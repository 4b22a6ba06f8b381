package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-meet/internal/api"
	"github.com/npezzotti/go-meet/internal/config"
	"github.com/npezzotti/go-meet/internal/server"
	"github.com/npezzotti/go-meet/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// optional .env file for local development
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("GOMEET_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&signingKey, "signing-key", envOr("GOMEET_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if origins := os.Getenv("GOMEET_ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = strings.Split(origins, ",")
		}
	}

	logger := log.New(os.Stderr, "[go-meet] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	meetServer := server.NewMeetServer(logger, statsUpdater)

	srv := api.NewMeetApp(logger, meetServer, cfg, mux)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go meetServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down meet server...")
	if err := meetServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("meet server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
