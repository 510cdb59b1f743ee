package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/api"
	"github.com/teleclinic/teleclinic/internal/config"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/server"
	"github.com/teleclinic/teleclinic/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalln("failed to load config:", err)
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalln("failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatalln("failed to run migrations:", err)
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	registry := server.NewPresenceRegistry(logger, db, statsUpdater)

	signalServer, err := server.NewSignalServer(logger, db, registry, statsUpdater)
	if err != nil {
		logger.Fatalln("failed to create signal server:", err)
	}
	go signalServer.Run()

	app := api.NewTeleclinicApp(mux, logger, signalServer, registry, db, cfg)

	go func() {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalln("server error:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Println("http shutdown:", err)
	}

	if err := signalServer.Shutdown(ctx); err != nil {
		logger.Println("signal server shutdown:", err)
	}
}
