package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var PostgresDB *gorm.DB

// PostgresDSN returns POSTGRES_URI, or a URL assembled from the DB_* variables.
func PostgresDSN() (string, error) {
	if uri := os.Getenv("POSTGRES_URI"); uri != "" {
		return uri, nil
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return "", errors.New("POSTGRES_URI or DB_HOST environment variable is not set")
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenv("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:   fmt.Sprintf("%s:%s", host, getenv("DB_PORT", "5432")),
		Path:   "/" + getenv("DB_NAME", "postgres"),
	}
	q := u.Query()
	q.Set("sslmode", getenv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func InitPostgres(l *logrus.Logger) error {
	dsn, err := PostgresDSN()
	if err != nil {
		return err
	}

	gcfg := &gorm.Config{}
	if l != nil {
		gcfg.Logger = logger.New(l, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	PostgresDB = db
	return nil
}
