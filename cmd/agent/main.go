package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brianhealey/smart-inventory/internal/agent"
	"github.com/brianhealey/smart-inventory/internal/agent/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON (or SMART_INVENTORY_CONFIG)")
	logLevel := flag.String("log-level", "info", "Logging level")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	path := *configPath
	if path == "" {
		path = os.Getenv("SMART_INVENTORY_CONFIG")
	}
	if path == "" {
		logrus.Error("Config path required via -config or SMART_INVENTORY_CONFIG")
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	service, err := agent.New(cfg)
	if err != nil {
		logrus.Errorf("Failed to start device service: %v", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logrus.Infof("Received %s, shutting down", sig)
		service.Stop()
	}()

	if err := service.Run(); err != nil {
		logrus.Errorf("Device service error: %v", err)
		os.Exit(1)
	}
}
