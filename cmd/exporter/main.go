package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/app"
	"github.com/shrimpsizemoose/lussekatt/internal/export"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	exporter, err := export.NewStatsExporter(service.Config, service.Queue)
	if err != nil {
		logger.Error.Fatalf("Failed to initialize stats exporter: %v", err)
	}
	exporter.Start()
	defer exporter.Stop()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
			logger.Error.Fatalf("Metrics endpoint failed: %v", err)
		}
	}()

	logger.Info.Println("Садимся экспортить")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info.Println("Закончили экспортить")
}
