package main

import (
	"context"
	"log"
	"time"

	"lanmsg/internal/files"
	"lanmsg/internal/relay"
	"lanmsg/internal/server"
	"lanmsg/internal/storage"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	srvCfg := server.EnvConfig{}
	if err := env.Parse(&srvCfg); err != nil {
		sugar.Fatalf("Cannot parse server env config: %v", err)
	}

	storeCfg := storage.Config{}
	if err := env.Parse(&storeCfg); err != nil {
		sugar.Fatalf("Cannot parse storage env config: %v", err)
	}

	filesCfg := files.Config{}
	if err := env.Parse(&filesCfg); err != nil {
		sugar.Fatalf("Cannot parse files env config: %v", err)
	}

	ctx := context.Background()

	store, err := storage.New(ctx, sugar, storeCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	// a crash leaves online flags dangling with no connection behind them
	n, err := store.ResetPresence(ctx)
	if err != nil {
		sugar.Fatalf("Cannot reset presence flags: %v", err)
	}
	if n > 0 {
		sugar.Infof("Marked %d users offline on startup", n)
	}

	blobs, err := files.New(sugar, filesCfg.Dir)
	if err != nil {
		sugar.Fatalf("Cannot create file store: %v", err)
	}

	registry := relay.NewRegistry(sugar, store)
	engine := relay.NewEngine(sugar, registry, store, store)

	srv, err := server.NewServer(sugar, store, store, blobs, engine,
		server.WithEnvConfig(srvCfg),
		server.ReadHeaderTimeout(5*time.Second),
		server.RegisterAfterShutdown(store.Close),
	)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
