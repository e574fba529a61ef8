package ledger

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// PoolConfig holds connection pool settings for the ledger database.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds ledger database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Sslmode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}

// ResolveDatabaseConfig decodes the named entry of the `database` config map.
func ResolveDatabaseConfig(cfg *config.Config, name string) (DatabaseConfig, error) {
	var dbConfig DatabaseConfig
	raw, ok := cfg.CallExport.DatabaseConfigs[name]
	if !ok {
		return dbConfig, fmt.Errorf("database configuration '%s' not found", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  &dbConfig,
	})
	if err != nil {
		return dbConfig, fmt.Errorf("failed to build decoder for database config '%s': %w", name, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return dbConfig, fmt.Errorf("failed to decode database config '%s': %w", name, err)
	}
	return dbConfig, nil
}

func dialector(dbConfig DatabaseConfig) (gorm.Dialector, error) {
	switch dbConfig.Type {
	case "sqlite":
		if dbConfig.Database == "" {
			return nil, fmt.Errorf("sqlite database path cannot be empty")
		}
		return sqlite.Open(dbConfig.Database), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password,
			dbConfig.Database, dbConfig.Sslmode)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Database)
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbConfig.Type)
	}
}

// Open establishes a GORM connection for the ledger and applies the schema
// migrations.
func Open(dbConfig DatabaseConfig) (*gorm.DB, error) {
	d, err := dialector(dbConfig)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if err := Migrate(sqlDB, dbConfig.Type); err != nil {
		return nil, err
	}
	logger.Infof("Established ledger DB connection (%s)", dbConfig.Type)
	return db, nil
}
