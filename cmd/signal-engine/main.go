package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"shamai/engine/config"
	"shamai/engine/internal/database"
	"shamai/engine/internal/engine"
	"shamai/engine/internal/models"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.Infof("Using database at: %s", cfg.Engine.DatabasePath)

	// Initialize database
	db, err := database.NewDatabase(cfg.Engine.DatabasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(db, cfg, logger)
	summary, err := eng.Run(ctx, engine.RunParams{})
	if err != nil {
		logger.WithError(err).WithField("run_id", summary.RunID).Fatal("Run aborted")
	}

	for _, failure := range summary.Failures {
		logger.WithFields(logrus.Fields{
			"area":         failure.Area.String(),
			"listing_type": failure.ListingType,
			"error":        failure.Reason,
		}).Warn("Area failed")
	}

	logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"status":    summary.Status,
		"areas":     summary.AreasProcessed,
		"snapshots": summary.SnapshotsWritten,
		"duration":  summary.Duration().String(),
	}).Info("Signal computation finished")

	if summary.Status == models.RunPartial {
		os.Exit(2)
	}
}
