package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/api"
	"github.com/example/research-orchestrator/internal/config"
	"github.com/example/research-orchestrator/internal/controller"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/store"
	"github.com/example/research-orchestrator/internal/stream"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.FromEnv()

	var client llm.Client
	if os.Getenv("GOOGLE_API_KEY") != "" {
		client, err = llm.NewGeminiFromEnv(context.Background())
		if err != nil {
			log.Fatal("gemini client", zap.Error(err))
		}
	} else {
		log.Warn("GOOGLE_API_KEY unset, using mock client")
		client = llm.NewMock()
	}

	var st store.Store
	if cfg.DBPath != "" {
		st, err = store.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal("open store", zap.Error(err))
		}
	} else {
		st = store.NewMemory()
	}

	hub := stream.NewHub()
	ctrl := controller.New(client, st, hub, log, cfg)

	mux := http.NewServeMux()
	api.NewServer(ctrl, hub, log).RegisterRoutes(mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: cors(mux)}
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

// simple CORS middleware for local dev
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
