package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sashabaranov/go-openai"

	"channel-audit/internal/analyzer"
	"channel-audit/internal/config"
	"channel-audit/internal/pipeline"
	"channel-audit/internal/queue"
	"channel-audit/internal/store"
	"channel-audit/internal/telemetry"
	workerproc "channel-audit/internal/worker"
	"channel-audit/internal/youtube"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	yt, err := youtube.NewClient(ctx, cfg.YouTubeAPIKey, cfg.YouTubeEndpoint)
	if err != nil {
		log.Fatalf("init youtube client: %v", err)
	}

	ai := analyzer.NewOpenAI(openai.NewClient(cfg.OpenAIAPIKey), cfg.OpenAIModel)

	orchestrator := pipeline.New(st, yt, yt, ai, cfg.VideoFetchLimit)
	processor := workerproc.NewProcessor(cfg, q, orchestrator)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with pool=%d poll=%s fetch_limit=%d", cfg.WorkerCount, cfg.WorkerPollInterval, cfg.VideoFetchLimit)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
