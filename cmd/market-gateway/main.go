package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quantfeed/market-gateway/internal/api"
	"github.com/quantfeed/market-gateway/internal/config"
	"github.com/quantfeed/market-gateway/internal/gateway"
	"github.com/quantfeed/market-gateway/internal/store"
	"github.com/quantfeed/market-gateway/internal/versioning"
)

func main() {
	cfg := config.ReadFromEnv()

	logrus.Infof("market-gateway %s (build %s) starting", versioning.ApplicationVersion, versioning.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		logrus.Fatalf("Opening config store: %v", err)
	}
	defer st.Close()

	gw, err := gateway.New(ctx, cfg, st)
	if err != nil {
		logrus.Fatalf("Initializing gateway: %v", err)
	}
	defer gw.Close()

	if err := api.Start(ctx, gw, st, cfg); err != nil {
		logrus.Fatalf("API server exited: %v", err)
	}

	logrus.Info("Shutdown complete")
}
