package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/app"
	"github.com/shrimpsizemoose/lussekatt/internal/handlers"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	workflowHandler := handlers.NewWorkflowHandler(service)

	http.HandleFunc("POST /api/v1/{course}/{item}/claims", workflowHandler.HandleClaimNext)
	http.HandleFunc("POST /api/v1/{course}/{item}/workflows", workflowHandler.HandleRegisterSubmission)
	http.HandleFunc("GET /api/v1/{course}/{item}/workflows", workflowHandler.HandleListPending)
	http.HandleFunc("GET /api/v1/{course}/{item}/stats", workflowHandler.HandleStats)
	http.HandleFunc("POST /api/v1/workflows/{submission_uuid}/complete", workflowHandler.HandleComplete)
	http.HandleFunc("POST /api/v1/workflows/{submission_uuid}/cancel", workflowHandler.HandleCancel)
	http.HandleFunc("POST /api/v1/workflows/{submission_uuid}/return", workflowHandler.HandleReturn)

	http.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting lussekatt server on %s", service.Config.Server.Port)
	logger.Debug.Printf("Lease duration: %s", service.Queue.LeaseDuration())
	logger.Debug.Println("Requiring headers:")
	for _, h := range service.Config.API.RequiredHeaders {
		logger.Debug.Printf("  %s: %s", h.Name, h.Value)
	}
	if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
		logger.Error.Fatalf("Lussekatt server failed: %v", err)
	}
}
