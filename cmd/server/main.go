package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invoice-extractor/orderdesk/internal/apiclient"
	"github.com/invoice-extractor/orderdesk/internal/config"
	"github.com/invoice-extractor/orderdesk/internal/events"
	"github.com/invoice-extractor/orderdesk/internal/form"
	"github.com/invoice-extractor/orderdesk/internal/metrics"
	"github.com/invoice-extractor/orderdesk/internal/ordertable"
	"github.com/invoice-extractor/orderdesk/internal/router"
	"github.com/invoice-extractor/orderdesk/internal/service"
)

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	m := metrics.NewRegistry()
	api := apiclient.New(cfg.APIBaseURL,
		apiclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		apiclient.WithMetrics(m),
	)

	hub := events.NewHub()
	go hub.Run(ctx)

	table := ordertable.New(api, cfg.PageSize, m)
	table.Watch(ctx, hub)

	wb := service.NewWorkbench(api, table, form.Options{
		SearchLimit: cfg.SearchLimit,
		Debounce:    cfg.SearchDebounce,
		Metrics:     m,
		Events:      hub,
	})
	defer wb.Shutdown()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router.New(cfg, wb, hub, m),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (back-end %s)", cfg.Port, cfg.APIBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
	log.Println("Server stopped")
}
