package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/server/config"
	"github.com/brianhealey/smart-inventory/internal/server/database"
	"github.com/brianhealey/smart-inventory/internal/server/events"
	"github.com/brianhealey/smart-inventory/internal/server/handlers"
	"github.com/brianhealey/smart-inventory/internal/server/middleware"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := database.Open(cfg.DBPath)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	broadcaster := events.NewBroadcaster(cfg.EventQueueSize)
	handler := handlers.New(cfg, store, broadcaster)

	r := mux.NewRouter()
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}
	r.Use(middleware.Logger)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Device ingest and UI queries live in disjoint token spaces.
	ingest := api.PathPrefix("/readings").Subrouter()
	ingest.Use(middleware.DeviceAuth(cfg.DeviceTokens, cfg.AllowUnauth))
	ingest.HandleFunc("/batch", handler.IngestBatch).Methods("POST")

	ui := api.NewRoute().Subrouter()
	ui.Use(middleware.UIAuth(cfg.UIToken, cfg.AllowUnauth))
	ui.HandleFunc("/items", handler.ListItems).Methods("GET")
	ui.HandleFunc("/items", handler.CreateItem).Methods("POST")
	ui.HandleFunc("/items/{id}", handler.GetItem).Methods("GET")
	ui.HandleFunc("/items/{id}", handler.UpdateItem).Methods("PUT")
	ui.HandleFunc("/items/{id}/thresholds", handler.UpdateThresholds).Methods("POST")
	ui.HandleFunc("/items/{id}/history", handler.ItemHistory).Methods("GET")
	ui.HandleFunc("/alerts", handler.ListAlerts).Methods("GET")
	ui.HandleFunc("/alerts/{id}/ack", handler.AckAlert).Methods("POST")
	ui.HandleFunc("/devices", handler.ListDevices).Methods("GET")
	ui.HandleFunc("/sensors", handler.ListSensors).Methods("GET")
	ui.HandleFunc("/stream", handler.Stream).Methods("GET")

	api.HandleFunc("/health", handler.Health).Methods("GET")

	r.PathPrefix("/").HandlerFunc(handler.NotFound)

	if len(cfg.DeviceTokens) == 0 && !cfg.AllowUnauth {
		logrus.Warn("No device tokens configured and INVENTORY_ALLOW_UNAUTH is off; ingest will reject everything")
	}
	if cfg.UIToken == "" && !cfg.AllowUnauth {
		logrus.Warn("No UI token configured and INVENTORY_ALLOW_UNAUTH is off; UI requests will reject everything")
	}

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the SSE stream stays open indefinitely.
	}

	go func() {
		logrus.Infof("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logrus.Infof("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Warnf("Shutdown error: %v", err)
	}
	logrus.Info("Server stopped")
}
