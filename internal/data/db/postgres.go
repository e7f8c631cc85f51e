package db

import (
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// PostgresConfig holds the StateStore connection settings. DSN wins over the discrete fields.
type PostgresConfig struct {
	DSN      string
	User     string
	Password string
	Host     string
	Port     string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		DSN:             envutil.String("POSTGRES_DSN", ""),
		User:            envutil.String("POSTGRES_USER", "postgres"),
		Password:        envutil.String("POSTGRES_PASSWORD", "postgres"),
		Host:            envutil.String("POSTGRES_HOST", "localhost"),
		Port:            envutil.String("POSTGRES_PORT", "5432"),
		Database:        envutil.String("POSTGRES_DB", "docingest"),
		SSLMode:         envutil.String("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    envutil.Int("POSTGRES_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    envutil.Int("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envutil.Duration("POSTGRES_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute, time.Minute),
	}
}

// ConnString returns the DSN, building a URL with escaped credentials when none is set.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	return OpenPostgres(log, PostgresConfigFromEnv())
}

func OpenPostgres(log *logger.Logger, cfg PostgresConfig) (*PostgresService, error) {
	svcLog := log.With("service", "PostgresService", "host", cfg.Host, "database", cfg.Database)
	gdb, err := gorm.Open(postgres.Open(cfg.ConnString()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	svcLog.Debug("postgres connected", "max_open_conns", cfg.MaxOpenConns)
	return &PostgresService{db: gdb, log: svcLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }
