package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/mindbridge-backend/internal/platform/envutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	SQLitePath string
}

func ConfigFromEnv(logg *logger.Logger, driver string) Config {
	return Config{
		Driver:           driver,
		PostgresHost:     envutil.String(logg, "POSTGRES_HOST", "localhost"),
		PostgresPort:     envutil.String(logg, "POSTGRES_PORT", "5432"),
		PostgresUser:     envutil.String(logg, "POSTGRES_USER", "postgres"),
		PostgresPassword: envutil.String(logg, "POSTGRES_PASSWORD", ""),
		PostgresName:     envutil.String(logg, "POSTGRES_NAME", "mindbridge"),
		SQLitePath:       envutil.String(logg, "SQLITE_PATH", "mindbridge.db"),
	}
}

type SQLService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSQLService opens Postgres (default) or SQLite depending on cfg.Driver.
func NewSQLService(logg *logger.Logger, cfg Config) (*SQLService, error) {
	serviceLog := logg.With("service", "SQLService", "driver", cfg.Driver)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
	case "", DriverPostgres:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.PostgresUser,
			cfg.PostgresPassword,
			cfg.PostgresHost,
			cfg.PostgresPort,
			cfg.PostgresName,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	serviceLog.Info("SQL store connected")
	return &SQLService{db: db, log: serviceLog}, nil
}

func (s *SQLService) DB() *gorm.DB { return s.db }

func (s *SQLService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
