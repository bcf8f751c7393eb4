package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/Rogrei/diagnostik-chat/config"
	"github.com/Rogrei/diagnostik-chat/internal/logger"
	"github.com/Rogrei/diagnostik-chat/internal/migrate"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	log := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV") != "production")

	dsn, err := config.PostgresDSN()
	if err != nil {
		log.WithError(err).Fatal("postgres config")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.WithError(err).Fatal("postgres open")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	applied, err := migrate.NewRunner(db, log).Run(ctx)
	if err != nil {
		log.WithError(err).WithField("applied", applied).Fatal("migration failed")
	}
	log.WithField("applied", len(applied)).Info("all migrations applied")
}
