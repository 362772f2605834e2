// forecastmarket-agentd runs the forecast orchestrator and market engine
// behind one HTTP surface: POST a question, watch the four-phase pipeline
// run, then trade the resulting prediction against a live order book.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phenomenon0/forecastmarket/internal/config"
	"github.com/phenomenon0/forecastmarket/internal/httpapi"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
	"github.com/phenomenon0/forecastmarket/internal/logging"
	"github.com/phenomenon0/forecastmarket/internal/metrics"
	"github.com/phenomenon0/forecastmarket/internal/repo"
	"github.com/phenomenon0/forecastmarket/internal/streaming"
)

var storeURI = flag.String("store-uri", "", "MongoDB connection URI (or STORE_URL env)")

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	logger := logging.New("AGENTD")
	logger.Infof("starting forecastmarket-agentd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	uri := *storeURI
	if uri == "" {
		uri = cfg.Store.URL
	}
	if uri == "" {
		uri = "mongodb://localhost:27017/forecastmarket"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repo.Connect(ctx, uri)
	if err != nil {
		log.Fatalf("connect store: %v", err)
	}
	defer store.Close(context.Background())

	llm := llmclient.New(cfg.LLM)
	streamHub := streaming.NewHub()
	go streamHub.Run()

	metricsCollector := metrics.New()
	server := httpapi.NewServer(store, llm, streamHub, metricsCollector)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	apiAddr := portAddr(cfg.Server.HTTPPort)
	apiServer := &http.Server{
		Addr:         apiAddr,
		Handler:      server.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("HTTP API listening on %s", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP API server error: %v", err)
		}
	}()

	metricsAddr := portAddr(cfg.Server.MetricsPort)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsCollector.Registry(), promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	go func() {
		logger.Infof("metrics listening on %s", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server error: %v", err)
		}
	}()

	logger.Infof("press Ctrl+C to stop")
	<-sigCh
	logger.Infof("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Infof("goodbye")
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
